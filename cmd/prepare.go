package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kyoushi/dataset/pkg/config"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Initialize the dataset directory layout",
	Long: `Creates the dataset directory structure, writes the dataset
configuration and copies the gathered logs and the processing configuration
into place.`,
	RunE: runPrepare,
}

func init() {
	prepareCmd.Flags().StringP("gather-dir", "g", "",
		"The logs and facts gather source directory. This directory will be copied to the dataset directory.")
	prepareCmd.Flags().StringP("process-dir", "p", "",
		"The processing source directory (containing the process pipelines, templates and rules).")
	prepareCmd.Flags().String("name", "", "The name to use for the dataset.")
	prepareCmd.Flags().String("start", "", "The datasets observation start time.")
	prepareCmd.Flags().String("end", "", "The datasets observation end time.")
	prepareCmd.Flags().BoolP("yes", "y", false,
		"Affirm all confirmation prompts (use for non-interactive mode)")
	prepareCmd.MarkFlagRequired("gather-dir")
	prepareCmd.MarkFlagRequired("process-dir")
	prepareCmd.MarkFlagRequired("name")
	prepareCmd.MarkFlagRequired("start")
	prepareCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(prepareCmd)
}

func runPrepare(cmd *cobra.Command, args []string) error {
	datasetDir := viper.GetString("dataset.dir")

	gatherDir, _ := cmd.Flags().GetString("gather-dir")
	processDir, _ := cmd.Flags().GetString("process-dir")
	name, _ := cmd.Flags().GetString("name")
	startRaw, _ := cmd.Flags().GetString("start")
	endRaw, _ := cmd.Flags().GetString("end")
	yes, _ := cmd.Flags().GetBool("yes")

	start, err := config.ParseTimestamp(startRaw)
	if err != nil {
		return err
	}
	end, err := config.ParseTimestamp(endRaw)
	if err != nil {
		return err
	}

	if entries, err := os.ReadDir(datasetDir); err == nil && len(entries) > 0 {
		if !yes {
			return fmt.Errorf("the dataset directory %q is not empty, pass --yes to replace it", datasetDir)
		}
		log.Info("Deleting old dataset directory")
		if err := os.RemoveAll(datasetDir); err != nil {
			return err
		}
	}

	log.Info("Creating dataset directory structure ...")
	for _, dir := range []string{
		datasetDir,
		filepath.Join(datasetDir, config.LabelsDir),
		filepath.Join(datasetDir, config.RulesDir),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	log.Info("Creating dataset config file ...")
	dataset := config.Dataset{
		ID:    uuid.New().String(),
		Name:  name,
		Start: start,
		End:   end,
	}
	if err := dataset.Validate(); err != nil {
		return err
	}
	if err := config.WriteYAMLFile(dataset, filepath.Join(datasetDir, config.ConfigFile)); err != nil {
		return err
	}

	log.Info("Copying gathered logs and facts into the dataset ...")
	if err := copyTree(gatherDir, filepath.Join(datasetDir, config.GatherDir)); err != nil {
		return err
	}
	log.Info("Copying the processing configuration into the dataset ...")
	if err := copyTree(processDir, filepath.Join(datasetDir, config.ProcessingDir)); err != nil {
		return err
	}

	log.Infof("Dataset initialized in: %s", datasetDir)
	return nil
}

// copyTree recursively copies a directory. Symlinks are followed, matching
// the behavior the gather stage expects.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
