package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/labels"
)

var labelCmd = &cobra.Command{
	Use:   "label [rule-dirs...]",
	Short: "Apply the labeling rules to the dataset",
	Long: `Applies the labeling rules to the parsed dataset and writes the label
files. Rules are loaded from all *.json, *.yaml and *.yml files in the given
rule directories (defaults to <dataset dir>/rules). Relative paths start at
the dataset dir.`,
	RunE: runLabel,
}

func init() {
	labelCmd.Flags().String("dataset-config", config.ConfigFile,
		"The dataset configuration file (defaults to <dataset dir>/dataset.yaml)")
	labelCmd.Flags().String("label-object", labels.DefaultLabelObject,
		"The field to store the labels in")
	labelCmd.Flags().Bool("label", true, "If the labeling rules should be applied or not")
	labelCmd.Flags().Bool("write", true, "If the label files should be written or not")
	labelCmd.Flags().String("write-skip-files", "",
		"Optionally a comma separated list of log files to not write labels for.")
	labelCmd.Flags().StringP("write-exclude-index", "x", "",
		"Comma separated list of indices to explicitly exclude when writing label files")
	rootCmd.AddCommand(labelCmd)
}

func runLabel(cmd *cobra.Command, args []string) error {
	datasetConfigPath, _ := cmd.Flags().GetString("dataset-config")
	labelObject, _ := cmd.Flags().GetString("label-object")
	applyRules, _ := cmd.Flags().GetBool("label")
	write, _ := cmd.Flags().GetBool("write")
	skipFiles, _ := cmd.Flags().GetString("write-skip-files")
	excludeIndex, _ := cmd.Flags().GetString("write-exclude-index")

	ruleDirs := args
	if len(ruleDirs) == 0 {
		ruleDirs = []string{config.RulesDir}
	}

	dataset, err := config.LoadDataset(datasetConfigPath)
	if err != nil {
		return err
	}
	store, err := connectStore()
	if err != nil {
		return err
	}

	rules, err := loadRuleDirs(ruleDirs)
	if err != nil {
		return err
	}

	labeler := labels.NewLabeler()
	labeler.LabelObject = labelObject
	datasetDir := viper.GetString("dataset.dir")

	if applyRules {
		if err := labeler.Execute(cmd.Context(), rules, datasetDir, dataset, store); err != nil {
			return err
		}
	}
	if write {
		index := []string{dataset.Name + "-*"}
		for _, exc := range splitList(excludeIndex) {
			index = append(index, "-"+dataset.Name+"-"+exc)
		}
		return labeler.Write(cmd.Context(), datasetDir, dataset, store, index, splitList(skipFiles))
	}
	return nil
}

// loadRuleDirs reads all rule definition files from the given directories in
// sorted file name order and returns the flattened rule list.
func loadRuleDirs(dirs []string) ([]map[string]interface{}, error) {
	var rules []map[string]interface{}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("given rule directory %q does not exist", dir)
		}
		files, err := ruleFiles(dir)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			data, err := config.LoadFile(file)
			if err != nil {
				return nil, fmt.Errorf("reading rule file %s: %w", file, err)
			}
			items, ok := data.([]interface{})
			if !ok {
				return nil, fmt.Errorf("rule file %s must contain a list of rules", file)
			}
			for i, item := range items {
				rule, ok := datastore.NormalizeMap(item)
				if !ok {
					return nil, fmt.Errorf("rule file %s: entry %d must be an object", file, i)
				}
				rules = append(rules, rule)
			}
		}
	}
	return rules, nil
}

func ruleFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}
