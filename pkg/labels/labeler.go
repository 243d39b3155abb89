package labels

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
)

// Labeler drives the labeling process: it parses and validates rule
// definitions, prepares the store and applies the rules in order.
type Labeler struct {
	// UpdateScriptID is the base name of the update script, prefixed with
	// the dataset name when applied.
	UpdateScriptID string
	// LabelObject is the document field label state lives under.
	LabelObject string
	// Poller drives waiting on async store tasks.
	Poller datastore.Poller
}

// NewLabeler returns a labeler with the default script name, label field
// and polling interval.
func NewLabeler() *Labeler {
	return &Labeler{
		UpdateScriptID: DefaultUpdateScriptID,
		LabelObject:    DefaultLabelObject,
		Poller:         datastore.DefaultPoller(),
	}
}

// mappingBody builds the label field mapping for a rule set. Explicit
// mappings are required because sequence queries cannot test the existence
// of unmapped fields.
func (l *Labeler) mappingBody(rules []Rule) datastore.Map {
	flat := make(map[string]interface{}, len(rules))
	list := make(map[string]interface{}, len(rules))
	for _, rule := range rules {
		flat[rule.ID()] = map[string]interface{}{"type": "keyword"}
		list[rule.ID()] = map[string]interface{}{"type": "keyword"}
	}
	return datastore.Map{
		"properties": map[string]interface{}{
			l.LabelObject: map[string]interface{}{
				"properties": map[string]interface{}{
					"flat":  map[string]interface{}{"properties": flat},
					"list":  map[string]interface{}{"properties": list},
					"rules": map[string]interface{}{"type": "keyword"},
				},
			},
		},
	}
}

// Execute parses, validates and applies all labeling rules. Labels are only
// written to the store; use Write to mirror them to the file system.
// Execution aborts on the first rule whose application fails.
func (l *Labeler) Execute(ctx context.Context, raw []map[string]interface{}, datasetDir string, cfg config.Dataset, store datastore.Store) error {
	rules, err := ParseRules(raw)
	if err != nil {
		return err
	}

	if err := store.PutMapping(ctx, cfg.Name+"-*", l.mappingBody(rules)); err != nil {
		return err
	}
	if err := InstallScripts(ctx, store, cfg.Name, l.LabelObject); err != nil {
		return err
	}

	params := &ApplyParams{
		DatasetDir:     datasetDir,
		Dataset:        cfg,
		Store:          store,
		UpdateScriptID: cfg.Name + "_" + l.UpdateScriptID,
		LabelObject:    l.LabelObject,
		Poller:         l.Poller,
	}

	for _, rule := range rules {
		logrus.WithField("rule", rule.ID()).Info("Applying rule ...")
		updated, err := rule.Apply(ctx, params)
		if err != nil {
			return ErrRuleExec{ID: rule.ID(), Err: err}
		}
		logrus.WithFields(logrus.Fields{
			"rule":    rule.ID(),
			"labels":  rule.Labels(),
			"updated": updated,
		}).Info("Rule applied")
	}
	return nil
}
