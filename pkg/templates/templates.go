// Package templates renders the template strings embedded in processor and
// labeling rule configuration. Rendering is strict: any unresolved variable
// fails loudly instead of silently matching against empty strings.
package templates

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/query"
)

// HitVar is the variable name a per-record template reaches the currently
// iterated record through.
const HitVar = "HIT"

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsTime converts a template value into a timestamp, accepting the formats
// records carry in practice.
func AsTime(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, val); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as timestamp", val)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", v)
	}
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		// field looks up a dotted or otherwise awkward key, strict on absence
		"field": func(data map[string]interface{}, key string) (interface{}, error) {
			val, ok := datastore.GetField(key, data)
			if !ok {
				return nil, fmt.Errorf("no field %q in render context", key)
			}
			return val, nil
		},
		"asTime": AsTime,
		// tsShift moves a timestamp by a signed duration, e.g. "-1s"
		"tsShift": func(v interface{}, offset string) (string, error) {
			ts, err := AsTime(v)
			if err != nil {
				return "", err
			}
			d, err := time.ParseDuration(offset)
			if err != nil {
				return "", err
			}
			return ts.Add(d).Format(time.RFC3339Nano), nil
		},
		// tsTrunc drops sub-second precision, for sources without it
		"tsTrunc": func(v interface{}) (string, error) {
			ts, err := AsTime(v)
			if err != nil {
				return "", err
			}
			return ts.Truncate(time.Second).Format(time.RFC3339), nil
		},
		"regexMatch": func(value, pattern string) (bool, error) {
			return regexp.MatchString("^(?:"+pattern+")", value)
		},
		"regexSearch": func(value, pattern string) (bool, error) {
			return regexp.MatchString(pattern, value)
		},
		"matchAny": func(value string, patterns []string) (bool, error) {
			for _, pattern := range patterns {
				ok, err := regexp.MatchString("^(?:"+pattern+")", value)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

// Render renders a single template string against the variable context.
// Unresolved variables are errors.
func Render(tmpl string, vars map[string]interface{}) (string, error) {
	t, err := template.New("").Option("missingkey=error").Funcs(funcMap()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", tmpl, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", tmpl, err)
	}
	out := buf.String()
	if strings.Contains(out, "<no value>") {
		// missingkey=error does not cover every nil dereference
		return "", fmt.Errorf("template %q rendered an unresolved value", tmpl)
	}
	return out, nil
}

// RenderAny recursively walks a nested dict/list/string structure and
// renders every string leaf and string map key. Non-string scalars pass
// through untouched.
func RenderAny(data interface{}, vars map[string]interface{}) (interface{}, error) {
	switch val := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			key, err := Render(k, vars)
			if err != nil {
				return nil, err
			}
			sub, err := RenderAny(v, vars)
			if err != nil {
				return nil, err
			}
			out[key] = sub
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, v := range val {
			sub, err := RenderAny(v, vars)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case string:
		return Render(val, vars)
	default:
		return data, nil
	}
}

// RenderQuerySpec deep-copies a templated query spec and renders it with the
// given record exposed as HIT, so sub and parent queries can constrain
// themselves relative to the record that triggered them.
func RenderQuerySpec(hit datastore.Hit, spec *query.Spec) (*query.Spec, error) {
	vars := map[string]interface{}{
		HitVar: map[string]interface{}(hit.Source),
	}
	out := spec.Clone()

	for i, pattern := range out.Index {
		rendered, err := Render(pattern, vars)
		if err != nil {
			return nil, err
		}
		out.Index[i] = rendered
	}

	render := func(clauses query.Clauses) (query.Clauses, error) {
		rendered := make(query.Clauses, len(clauses))
		for i, clause := range clauses {
			res, err := RenderAny(map[string]interface{}(clause), vars)
			if err != nil {
				return nil, err
			}
			m, ok := res.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("clause %d rendered into %T, expected object", i, res)
			}
			rendered[i] = query.Clause(m)
		}
		return rendered, nil
	}

	var err error
	if out.Query, err = render(out.Query); err != nil {
		return nil, err
	}
	if out.Filter, err = render(out.Filter); err != nil {
		return nil, err
	}
	if out.Exclude, err = render(out.Exclude); err != nil {
		return nil, err
	}
	return out, nil
}
