package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/parser"
	"github.com/kyoushi/dataset/pkg/processors"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process the dataset and prepare it for labeling",
	Long: `Runs the three phase processing pipeline: pre-processors prepare the
raw logs and the parser configuration, the parser loads the logs into the
search database, post-processors refine the stored records.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringP("config", "c", config.ProcessingConfigFile,
		"The processing configuration file (defaults to <dataset dir>/processing/process.yaml)")
	processCmd.Flags().String("dataset-config", config.ConfigFile,
		"The dataset configuration file (defaults to <dataset dir>/dataset.yaml)")
	processCmd.Flags().Bool("skip-pre", false, "Skip the pre processing phase")
	processCmd.Flags().Bool("skip-parse", false, "Skip the parsing phase")
	processCmd.Flags().Bool("skip-post", false, "Skip the post processing phase")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	datasetConfigPath, _ := cmd.Flags().GetString("dataset-config")
	skipPre, _ := cmd.Flags().GetBool("skip-pre")
	skipParse, _ := cmd.Flags().GetBool("skip-parse")
	skipPost, _ := cmd.Flags().GetBool("skip-post")

	processing, err := config.LoadProcessing(configPath)
	if err != nil {
		return err
	}
	dataset, err := config.LoadDataset(datasetConfigPath)
	if err != nil {
		return err
	}
	store, err := connectStore()
	if err != nil {
		return err
	}

	params := &processors.Params{
		DatasetDir: viper.GetString("dataset.dir"),
		Dataset:    dataset,
		Parser:     processing.Parser,
		Store:      store,
		Vars:       storeTemplateVars(),
	}
	pipeline := processors.Pipeline{}

	if !skipPre {
		log.Info("Running pre-processors ...")
		if err := pipeline.Execute(cmd.Context(), processing.PreProcessors, params); err != nil {
			return err
		}
	} else {
		log.Info("Skipping pre-processors ...")
	}

	if !skipParse {
		log.Info("Parsing log files ...")
		logstash := parser.Logstash{
			Bin:    viper.GetString("logstash.bin"),
			Config: processing.Parser,
		}
		if err := logstash.Parse(cmd.Context()); err != nil {
			return err
		}
	} else {
		log.Info("Skipping parsing ...")
	}

	if !skipPost {
		log.Info("Running post-processors ...")
		if err := pipeline.Execute(cmd.Context(), processing.PostProcessors, params); err != nil {
			return err
		}
	} else {
		log.Info("Skipping post-processors ...")
	}
	return nil
}

// storeTemplateVars exposes the store connection to processor templates so
// generated parser configs can point their outputs at it.
func storeTemplateVars() map[string]interface{} {
	return map[string]interface{}{
		"ELASTICSEARCH_URL": viper.GetString("elasticsearch.url"),
	}
}
