package processors

import (
	"context"
	"fmt"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
)

// loadBody reads a JSON or YAML template file into a store request body.
func loadBody(path string) (datastore.Map, error) {
	data, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	body, ok := datastore.NormalizeMap(data)
	if !ok {
		return nil, fmt.Errorf("%s must contain an object, got %T", path, data)
	}
	return body, nil
}

// IndexTemplateProcessor installs an index template on the store so parsed
// log indices get their mappings before any document arrives.
type IndexTemplateProcessor struct {
	Base `yaml:",inline"`

	Template     string `yaml:"template"`
	TemplateName string `yaml:"template_name"`

	// IndexPatterns overrides the patterns in the template file. Empty
	// means the file already carries them.
	IndexPatterns []string `yaml:"index_patterns"`

	IndicesPrefixDataset *bool `yaml:"indices_prefix_dataset"`

	// Priority of the template, higher values win on overlap.
	Priority int `yaml:"priority"`

	// ComposedOf lists component templates to build on.
	ComposedOf []string `yaml:"composed_of"`

	// CreateOnly leaves an existing template of the same name untouched.
	CreateOnly bool `yaml:"create_only"`
}

func parseIndexTemplate(raw map[string]interface{}) (Processor, error) {
	p := IndexTemplateProcessor{Priority: 100}
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	if p.Template == "" || p.TemplateName == "" {
		return nil, fmt.Errorf("index templates need both template and template_name")
	}
	return &p, nil
}

func (p *IndexTemplateProcessor) Execute(ctx context.Context, params *Params) error {
	body, err := loadBody(p.Template)
	if err != nil {
		return err
	}

	if len(p.IndexPatterns) > 0 {
		patterns := make([]interface{}, 0, len(p.IndexPatterns))
		prefix := p.IndicesPrefixDataset == nil || *p.IndicesPrefixDataset
		for _, pattern := range p.IndexPatterns {
			if prefix {
				pattern = params.Dataset.Name + "-" + pattern
			}
			patterns = append(patterns, pattern)
		}
		body["index_patterns"] = patterns
	}
	body["priority"] = p.Priority
	if p.ComposedOf != nil {
		composed := make([]interface{}, len(p.ComposedOf))
		for i, c := range p.ComposedOf {
			composed[i] = c
		}
		body["composed_of"] = composed
	}

	return params.Store.PutIndexTemplate(ctx, p.TemplateName, body, p.CreateOnly)
}

// ComponentTemplateProcessor installs a component template on the store.
type ComponentTemplateProcessor struct {
	Base `yaml:",inline"`

	Template     string `yaml:"template"`
	TemplateName string `yaml:"template_name"`
	CreateOnly   bool   `yaml:"create_only"`
}

func parseComponentTemplate(raw map[string]interface{}) (Processor, error) {
	var p ComponentTemplateProcessor
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	if p.Template == "" || p.TemplateName == "" {
		return nil, fmt.Errorf("component templates need both template and template_name")
	}
	return &p, nil
}

func (p *ComponentTemplateProcessor) Execute(ctx context.Context, params *Params) error {
	body, err := loadBody(p.Template)
	if err != nil {
		return err
	}
	return params.Store.PutComponentTemplate(ctx, p.TemplateName, body, p.CreateOnly)
}

// IngestProcessor installs an ingest pipeline so log parsing can happen
// store-side instead of in the local parser.
type IngestProcessor struct {
	Base `yaml:",inline"`

	IngestPipeline   string `yaml:"ingest_pipeline"`
	IngestPipelineID string `yaml:"ingest_pipeline_id"`
}

func parseIngest(raw map[string]interface{}) (Processor, error) {
	var p IngestProcessor
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	if p.IngestPipeline == "" || p.IngestPipelineID == "" {
		return nil, fmt.Errorf("ingest pipelines need both ingest_pipeline and ingest_pipeline_id")
	}
	return &p, nil
}

func (p *IngestProcessor) Execute(ctx context.Context, params *Params) error {
	body, err := loadBody(p.IngestPipeline)
	if err != nil {
		return err
	}
	return params.Store.PutIngestPipeline(ctx, p.IngestPipelineID, body)
}
