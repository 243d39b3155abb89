package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/labels"
	"github.com/kyoushi/dataset/pkg/sample"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var sampleCmd = &cobra.Command{
	Use:   "sample [size]",
	Short: "Draw random log lines for manual label review",
	Long: `Draws a random sample of log lines, labeled or unlabeled, and prints
them together with their file context as JSON. Use --list to print the
available labels with their log line counts instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSample,
}

func init() {
	sampleCmd.Flags().String("dataset-config", config.ConfigFile,
		"The dataset configuration file (defaults to <dataset dir>/dataset.yaml)")
	sampleCmd.Flags().String("label-object", labels.DefaultLabelObject,
		"The field to store the labels in")
	sampleCmd.Flags().StringP("label", "L", "",
		"The label to get sample log lines for (if this is not set then unlabeled log lines will be sampled)")
	sampleCmd.Flags().String("from-timestamp", "", "Optional minimum timestamp for log rows to consider")
	sampleCmd.Flags().String("until-timestamp", "", "Optional maximum timestamp for log rows to consider")
	sampleCmd.Flags().StringP("files", "f", "",
		"Optionally a comma separated list of files to get sample log lines from")
	sampleCmd.Flags().StringP("related", "r", "",
		"Comma separated list of indices for which to include the log line closest to each sample. Given indices are prefixed with the dataset name.")
	sampleCmd.Flags().String("default-label", "normal",
		"The label to assign to unlabeled log rows (e.g., when --label is not used)")
	sampleCmd.Flags().StringP("index", "i", "",
		"Comma separated list of indices to consider for sampling")
	sampleCmd.Flags().StringP("exclude-index", "x", "",
		"Comma separated list of indices to explicitly exclude from the sampling")
	sampleCmd.Flags().StringP("seed", "s", "", "The random seed to use for the sampling query")
	sampleCmd.Flags().String("seed-field", "_seq_no",
		"The field to use for the random sample order")
	sampleCmd.Flags().Bool("list", false,
		"Only list the available labels with their log line counts as JSON array")
	sampleCmd.Flags().Int("context", 5,
		"The number of surrounding log lines to include with each sample")
	rootCmd.AddCommand(sampleCmd)
}

func runSample(cmd *cobra.Command, args []string) error {
	datasetConfigPath, _ := cmd.Flags().GetString("dataset-config")
	labelObject, _ := cmd.Flags().GetString("label-object")
	label, _ := cmd.Flags().GetString("label")
	fromTS, _ := cmd.Flags().GetString("from-timestamp")
	untilTS, _ := cmd.Flags().GetString("until-timestamp")
	files, _ := cmd.Flags().GetString("files")
	related, _ := cmd.Flags().GetString("related")
	defaultLabel, _ := cmd.Flags().GetString("default-label")
	indexFlag, _ := cmd.Flags().GetString("index")
	excludeFlag, _ := cmd.Flags().GetString("exclude-index")
	seedFlag, _ := cmd.Flags().GetString("seed")
	seedField, _ := cmd.Flags().GetString("seed-field")
	listOnly, _ := cmd.Flags().GetBool("list")
	contextLines, _ := cmd.Flags().GetInt("context")

	size := 10
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("size must be an integer, got %q", args[0])
		}
		size = n
	}

	dataset, err := config.LoadDataset(datasetConfigPath)
	if err != nil {
		return err
	}
	store, err := connectStore()
	if err != nil {
		return err
	}

	index := []string{dataset.Name + "-*"}
	if indexFlag != "" {
		index = index[:0]
		for _, i := range splitList(indexFlag) {
			index = append(index, dataset.Name+"-"+i)
		}
	}
	for _, exc := range splitList(excludeFlag) {
		index = append(index, "-"+dataset.Name+"-"+exc)
	}

	if listOnly {
		buckets, err := sample.LabelCounts(cmd.Context(), store, index, labelObject)
		if err != nil {
			return err
		}
		out, err := json.Marshal(buckets)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	var sampleLabels []string
	if label != "" {
		sampleLabels = []string{label}
	}
	var seed *int64
	if seedFlag != "" {
		n, err := strconv.ParseInt(seedFlag, 10, 64)
		if err != nil {
			return fmt.Errorf("seed must be an integer, got %q", seedFlag)
		}
		seed = &n
	}

	hits, err := sample.Get(cmd.Context(), store, sample.Options{
		Labels:         sampleLabels,
		Files:          splitList(files),
		Index:          index,
		LabelObject:    labelObject,
		FilterScriptID: labels.FilterScriptID(dataset.Name),
		Size:           size,
		Seed:           seed,
		SeedField:      seedField,
		Start:          fromTS,
		Stop:           untilTS,
	})
	if err != nil {
		return err
	}

	var relatedIndex []string
	for _, r := range splitList(related) {
		relatedIndex = append(relatedIndex, dataset.Name+"-"+r)
	}

	sampleLabel := defaultLabel
	if label != "" {
		sampleLabel = label
	}
	gatherDir := filepath.Join(viper.GetString("dataset.dir"), config.GatherDir)

	samples := make([]*sample.LogContext, 0, len(hits))
	for _, hit := range hits {
		logCtx, err := sample.Log(cmd.Context(), store, hit, sampleLabel, gatherDir, labelObject,
			contextLines, contextLines, relatedIndex)
		if err != nil {
			return err
		}
		samples = append(samples, logCtx)
	}

	out, err := json.MarshalIndent(samples, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
