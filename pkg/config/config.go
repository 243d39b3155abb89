// Package config contains the dataset, parser and processing configuration
// models plus the YAML/JSON file loaders shared across the tool.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Dataset layout paths, relative to the dataset root directory.
const (
	GatherDir            = "gather"
	ProcessingDir        = "processing"
	ProcessingConfigFile = "processing/process.yaml"
	LabelsDir            = "labels"
	RulesDir             = "rules"
	ConfigFile           = "dataset.yaml"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Timestamp is a time.Time that accepts the handful of timestamp formats
// dataset configs are written with.
type Timestamp struct {
	time.Time
}

// ParseTimestamp converts a config string into a Timestamp.
func ParseTimestamp(value string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return Timestamp{Time: ts}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("cannot parse %q as timestamp", value)
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *Timestamp) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (t Timestamp) MarshalYAML() (interface{}, error) {
	return t.Format(time.RFC3339), nil
}

// Dataset describes the dataset currently being processed. The name doubles
// as the store index prefix and the script namespace.
type Dataset struct {
	// ID is a generated identifier assigned when the dataset is prepared
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// Start and End bound the observation period
	Start Timestamp `yaml:"start" json:"start"`
	End   Timestamp `yaml:"end" json:"end"`
}

// Validate checks the dataset definition for the fields everything else
// depends on.
func (d Dataset) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dataset config is missing a name")
	}
	if d.Start.IsZero() || d.End.IsZero() {
		return fmt.Errorf("dataset %s is missing observation start or end time", d.Name)
	}
	if !d.Start.Before(d.End.Time) {
		return fmt.Errorf("dataset %s observation start must be before end", d.Name)
	}
	return nil
}

// LogstashParser configures how the external parsing engine is invoked.
type LogstashParser struct {
	SettingsDir  string `yaml:"settings_dir" json:"settings_dir"`
	ConfDir      string `yaml:"conf_dir" json:"conf_dir"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
	LogDir       string `yaml:"log_dir" json:"log_dir"`
	CompletedLog string `yaml:"completed_log" json:"completed_log"`
	DataDir      string `yaml:"data_dir" json:"data_dir"`
	ParsedDir    string `yaml:"parsed_dir" json:"parsed_dir"`
	SavedParsed  bool   `yaml:"save_parsed" json:"save_parsed"`
}

// ApplyDefaults fills the derived paths the same way the parser always has:
// conf and completed-log locations hang off the settings and log dirs.
func (c *LogstashParser) ApplyDefaults() {
	if c.SettingsDir == "" {
		c.SettingsDir = filepath.Join(ProcessingDir, "logstash")
	}
	if c.ConfDir == "" {
		c.ConfDir = filepath.Join(c.SettingsDir, "conf.d")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(ProcessingDir, "logstash", "log")
	}
	if c.CompletedLog == "" {
		c.CompletedLog = filepath.Join(c.LogDir, "file-completed.log")
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(ProcessingDir, "logstash", "data")
	}
	if c.ParsedDir == "" {
		c.ParsedDir = "parsed"
	}
}

// Processing is the three phase pipeline definition: pre-processors, the
// parser, post-processors.
type Processing struct {
	PreProcessors  []map[string]interface{} `yaml:"pre_processors" json:"pre_processors"`
	Parser         LogstashParser           `yaml:"parser" json:"parser"`
	PostProcessors []map[string]interface{} `yaml:"post_processors" json:"post_processors"`
}

// Validate ensures every processor entry carries the name and type keys the
// pipeline dispatches on.
func (p Processing) Validate() error {
	check := func(phase string, processors []map[string]interface{}) error {
		for i, proc := range processors {
			name, _ := proc["name"].(string)
			if name == "" {
				return fmt.Errorf("%s[%d]: a processor must have a name", phase, i)
			}
			if _, ok := proc["type"].(string); !ok {
				return fmt.Errorf("%s[%d]: processor %q must have a type", phase, i, name)
			}
		}
		return nil
	}
	if err := check("pre_processors", p.PreProcessors); err != nil {
		return err
	}
	return check("post_processors", p.PostProcessors)
}

// LogstashLog configures a single raw log source for the parser input.
type LogstashLog struct {
	Type              string                 `yaml:"type" json:"type"`
	Codec             interface{}            `yaml:"codec" json:"codec"`
	Path              StringList             `yaml:"path" json:"path"`
	SaveParsed        *bool                  `yaml:"save_parsed" json:"save_parsed"`
	Exclude           StringList             `yaml:"exclude" json:"exclude"`
	FileSortDirection string                 `yaml:"file_sort_direction" json:"file_sort_direction"`
	FileChunkSize     int                    `yaml:"file_chunk_size" json:"file_chunk_size"`
	Delimiter         string                 `yaml:"delimiter" json:"delimiter"`
	Tags              []string               `yaml:"tags" json:"tags"`
	AddField          map[string]interface{} `yaml:"add_field" json:"add_field"`
}
