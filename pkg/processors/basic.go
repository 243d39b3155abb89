package processors

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/markuskont/go-dispatch"
	glob "github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/templates"
)

// PrintProcessor logs a message, useful for debugging pipeline rendering.
type PrintProcessor struct {
	Base `yaml:",inline"`

	Message string `yaml:"msg"`
}

func parsePrint(raw map[string]interface{}) (Processor, error) {
	var p PrintProcessor
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *PrintProcessor) Execute(ctx context.Context, params *Params) error {
	fmt.Println(p.Message)
	return nil
}

// MkdirProcessor creates a directory, by default including missing parents.
type MkdirProcessor struct {
	Base `yaml:",inline"`

	Path      string `yaml:"path"`
	Recursive *bool  `yaml:"recursive"`
}

func parseMkdir(raw map[string]interface{}) (Processor, error) {
	var p MkdirProcessor
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, fmt.Errorf("mkdir needs a path")
	}
	return &p, nil
}

func (p *MkdirProcessor) Execute(ctx context.Context, params *Params) error {
	if p.Recursive == nil || *p.Recursive {
		return os.MkdirAll(p.Path, 0755)
	}
	err := os.Mkdir(p.Path, 0755)
	if os.IsExist(err) {
		return nil
	}
	return err
}

// TemplateProcessor renders a template file to a destination path. When a
// template_context is set it replaces the processor context for the file
// contents.
type TemplateProcessor struct {
	Base `yaml:",inline"`

	Src             string          `yaml:"src"`
	Dest            string          `yaml:"dest"`
	TemplateContext *config.Context `yaml:"template_context"`
}

func parseTemplate(raw map[string]interface{}) (Processor, error) {
	var p TemplateProcessor
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	if p.Src == "" || p.Dest == "" {
		return nil, fmt.Errorf("template needs both src and dest")
	}
	return &p, nil
}

func (p *TemplateProcessor) Execute(ctx context.Context, params *Params) error {
	pctx := &p.Context
	if p.TemplateContext != nil {
		pctx = p.TemplateContext
	}
	vars, err := pctx.Load()
	if err != nil {
		return err
	}
	merged := make(map[string]interface{}, len(vars)+len(params.Vars)+3)
	for k, v := range params.Vars {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	merged["DATASET_DIR"] = params.DatasetDir
	merged["DATASET"] = params.Dataset
	merged["PARSER"] = params.Parser

	return renderTemplateFile(p.Src, p.Dest, merged)
}

func renderTemplateFile(src, dest string, vars map[string]interface{}) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	out, err := templates.Render(string(data), vars)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(out), 0644)
}

// ForEachProcessor expands a templated processor definition once per item.
// The current item is injected into each instance's variable context under
// the loop variable.
type ForEachProcessor struct {
	Base `yaml:",inline"`

	Items     []interface{}          `yaml:"items"`
	LoopVar   string                 `yaml:"loop_var"`
	Processor map[string]interface{} `yaml:"processor"`
}

func parseForEach(raw map[string]interface{}) (Processor, error) {
	p := ForEachProcessor{LoopVar: "item"}
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	if len(p.Items) == 0 || p.Processor == nil {
		return nil, fmt.Errorf("foreach needs items and a processor template")
	}
	if _, ok := datastore.NormalizeMap(p.Processor); !ok {
		return nil, fmt.Errorf("foreach processor template must be an object")
	}
	return &p, nil
}

func (p *ForEachProcessor) Execute(ctx context.Context, params *Params) error {
	return fmt.Errorf("foreach is a container and cannot execute directly")
}

// Processors expands the container into one definition per item.
func (p *ForEachProcessor) Processors() ([]map[string]interface{}, error) {
	template, _ := datastore.NormalizeMap(p.Processor)

	out := make([]map[string]interface{}, 0, len(p.Items))
	for _, item := range p.Items {
		def := datastore.DeepCopyMap(template)

		pctx, ok := def["context"].(map[string]interface{})
		if !ok {
			pctx = map[string]interface{}{}
			if len(p.Context.Vars) > 0 {
				vars := make(map[string]interface{}, len(p.Context.Vars))
				for k, v := range p.Context.Vars {
					vars[k] = v
				}
				pctx["vars"] = vars
			}
			if len(p.Context.VarFiles) > 0 {
				files := make(map[string]interface{}, len(p.Context.VarFiles))
				for k, v := range p.Context.VarFiles {
					files[k] = v
				}
				pctx["var_files"] = files
			}
			def["context"] = pctx
		}
		vars, ok := pctx["vars"].(map[string]interface{})
		if !ok {
			vars = map[string]interface{}{}
			pctx["vars"] = vars
		}
		vars[p.LoopVar] = datastore.Normalize(item)

		out = append(out, def)
	}
	return out, nil
}

// GzipProcessor decompresses gzip files in place, removing the compressed
// originals. A glob expands relative to the base path; without one the base
// path itself is the file to decompress.
type GzipProcessor struct {
	Base `yaml:",inline"`

	Path string `yaml:"path"`
	Glob string `yaml:"glob"`
}

func parseGzip(raw map[string]interface{}) (Processor, error) {
	p := GzipProcessor{Path: "."}
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *GzipProcessor) files() ([]string, error) {
	if p.Glob == "" {
		return []string{p.Path}, nil
	}
	var files []string
	err := filepath.Walk(p.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.Path, path)
		if err != nil {
			return err
		}
		if glob.Glob(p.Glob, filepath.ToSlash(rel)) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (p *GzipProcessor) Execute(ctx context.Context, params *Params) error {
	files, err := p.files()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	workers := runtime.NumCPU()
	if workers > len(files) {
		workers = len(files)
	}
	return dispatch.Run(dispatch.Config{
		Async:   false,
		Workers: workers,
		FeederFunc: func(tasks chan<- dispatch.Task, stop <-chan struct{}) {
			var wg sync.WaitGroup
			queue := make(chan string, len(files))
			for _, f := range files {
				queue <- f
			}
			close(queue)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				tasks <- func(id, count int, ctx context.Context) error {
					defer wg.Done()
					for file := range queue {
						if err := gunzipFile(file); err != nil {
							return err
						}
						logrus.WithField("file", file).Debug("decompressed")
					}
					return nil
				}
			}
			wg.Wait()
		},
	})
}

// gunzipFile decompresses src next to itself, dropping the .gz suffix, and
// removes the compressed file.
func gunzipFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	reader, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer reader.Close()

	dest := strings.TrimSuffix(src, filepath.Ext(src))
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
