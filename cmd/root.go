package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/datastore/es"
)

var (
	cfgFile string
	quiet   bool
	debug   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kyoushi-dataset",
	Short: "Prepare, process and label testbed log datasets",
	Long: `kyoushi-dataset turns raw logs gathered from a testbed run into a
labeled dataset. It prepares the dataset directory layout, runs the
processing pipeline that parses the logs into a search database, applies
declarative labeling rules and writes the resulting labels back to disk
next to the raw logs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// stored log.file.path values are absolute, so the dataset dir has
		// to be resolved before any relative-path computation against them
		dir, err := filepath.Abs(viper.GetString("dataset.dir"))
		if err != nil {
			return err
		}
		viper.Set("dataset.dir", dir)
		if _, err := os.Stat(dir); err == nil {
			// all dataset layout paths are relative to the dataset dir
			return os.Chdir(dir)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kyoushi-dataset.yaml)")

	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet output. Suppress warnings and other stuff. Cannot be used together with --debug and --quiet will take precedence.")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "v", false, "Debug mode. Enable trace logging. Cannot be used together with --quiet.")

	rootCmd.PersistentFlags().StringP("dataset", "d", "./",
		"The dataset directory to work on.")
	rootCmd.PersistentFlags().StringP("logstash", "l", "/usr/share/logstash/bin/logstash",
		"The logstash binary used for parsing.")
	rootCmd.PersistentFlags().StringP("elasticsearch", "e", "http://127.0.0.1:9200",
		"The connection string for the elasticsearch database.")
	viper.BindPFlag("dataset.dir", rootCmd.PersistentFlags().Lookup("dataset"))
	viper.BindPFlag("logstash.bin", rootCmd.PersistentFlags().Lookup("logstash"))
	viper.BindPFlag("elasticsearch.url", rootCmd.PersistentFlags().Lookup("elasticsearch"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".kyoushi-dataset" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".kyoushi-dataset")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})
	if quiet {
		log.SetLevel(log.ErrorLevel)
	} else if debug {
		log.SetLevel(log.TraceLevel)
	}
}

// connectStore opens the document store configured on the command line.
func connectStore() (datastore.Store, error) {
	return es.NewClient(es.Config{
		Addresses: []string{viper.GetString("elasticsearch.url")},
	})
}

// splitList splits a comma separated flag value, dropping empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
