package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v2"

	"github.com/kyoushi/dataset/pkg/datastore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StringList decodes a YAML/JSON value that may be a single string or a list.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler
func (s *StringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*s = StringList(many)
	return nil
}

// LoadFile loads a YAML or JSON file based on its extension, returning
// normalized string-keyed data.
func LoadFile(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var out interface{}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return datastore.Normalize(out), nil
	case ".yaml", ".yml":
		var out interface{}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return datastore.Normalize(out), nil
	default:
		return nil, fmt.Errorf("no file loader supported for %s files", filepath.Ext(path))
	}
}

// LoadInto loads a YAML or JSON file into a typed destination.
func LoadInto(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("no file loader supported for %s files", filepath.Ext(path))
	}
	return nil
}

// LoadDataset reads and validates a dataset definition file.
func LoadDataset(path string) (Dataset, error) {
	var cfg Dataset
	if err := LoadInto(path, &cfg); err != nil {
		return Dataset{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Dataset{}, err
	}
	return cfg, nil
}

// LoadProcessing reads and validates a processing pipeline definition file.
func LoadProcessing(path string) (Processing, error) {
	var raw struct {
		PreProcessors  []interface{}  `yaml:"pre_processors"`
		Parser         LogstashParser `yaml:"parser"`
		PostProcessors []interface{}  `yaml:"post_processors"`
	}
	if err := LoadInto(path, &raw); err != nil {
		return Processing{}, err
	}
	cfg := Processing{Parser: raw.Parser}
	cfg.Parser.ApplyDefaults()
	var err error
	if cfg.PreProcessors, err = normalizeProcessors(raw.PreProcessors); err != nil {
		return Processing{}, fmt.Errorf("pre_processors: %w", err)
	}
	if cfg.PostProcessors, err = normalizeProcessors(raw.PostProcessors); err != nil {
		return Processing{}, fmt.Errorf("post_processors: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Processing{}, err
	}
	return cfg, nil
}

func normalizeProcessors(raw []interface{}) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(raw))
	for i, item := range raw {
		m, ok := datastore.NormalizeMap(item)
		if !ok {
			return nil, fmt.Errorf("entry %d must be an object, got %T", i, item)
		}
		out = append(out, m)
	}
	return out, nil
}

// WriteYAMLFile serializes data into a YAML file.
func WriteYAMLFile(data interface{}, path string) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// WriteJSONFile serializes data into a JSON file.
func WriteJSONFile(data interface{}, path string) error {
	out, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// WriteConfigFile picks YAML or JSON serialization from the destination
// extension, defaulting to JSON.
func WriteConfigFile(data interface{}, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return WriteYAMLFile(data, path)
	default:
		return WriteJSONFile(data, path)
	}
}

// Context carries the variable context used for rendering processor and
// rule templates. Inline variables override variables loaded from files.
// Files are loaded once on first use and cached.
type Context struct {
	Vars     map[string]interface{} `yaml:"vars" json:"vars"`
	VarFiles map[string]string      `yaml:"var_files" json:"var_files"`

	loaded map[string]interface{}
}

// Load returns the merged variable context.
func (c *Context) Load() (map[string]interface{}, error) {
	if c.loaded != nil {
		return c.loaded, nil
	}
	merged := make(map[string]interface{}, len(c.Vars)+len(c.VarFiles))
	for key, path := range c.VarFiles {
		data, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading variable file %s: %w", path, err)
		}
		merged[key] = data
	}
	for key, value := range c.Vars {
		merged[key] = datastore.Normalize(value)
	}
	c.loaded = merged
	return merged, nil
}
