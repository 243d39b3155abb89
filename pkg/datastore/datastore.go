// Package datastore defines the document store capabilities the dataset
// tooling relies on. The store itself is an external collaborator; everything
// here is an interface plus the value types exchanged with it.
package datastore

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by Unimplemented for every store capability.
var ErrNotSupported = errors.New("store operation not supported")

// Map is a reference type for structured record sources and query bodies
type Map map[string]interface{}

// GetField is a helper for retrieving nested JSON keys with dot notation
func GetField(key string, data map[string]interface{}) (interface{}, bool) {
	if data == nil {
		return nil, false
	}
	if val, ok := data[key]; ok {
		// exact keys win over dotted traversal, some sources
		// store literal dotted field names
		return val, true
	}
	for i := 0; i < len(key); i++ {
		if key[i] != '.' {
			continue
		}
		if val, ok := data[key[:i]]; ok {
			if sub, ok := val.(map[string]interface{}); ok {
				if res, ok := GetField(key[i+1:], sub); ok {
					return res, true
				}
			}
		}
	}
	return nil, false
}

// Field retrieves a nested value with dot notation
func (m Map) Field(key string) (interface{}, bool) {
	return GetField(key, m)
}

// Hit is a single record returned by a store query. Records are owned by the
// store; hits are read-only snapshots streamed through cursors.
type Hit struct {
	Index  string
	ID     string
	Source Map
	Sort   []interface{}
}

// Field retrieves a nested source value with dot notation
func (h Hit) Field(key string) (interface{}, bool) {
	return h.Source.Field(key)
}

// Cursor streams query hits without buffering the full result set.
// Implementations must survive result sets far larger than one response page.
type Cursor interface {
	// Next advances the cursor, returning false on exhaustion or error
	Next(ctx context.Context) bool
	// Hit returns the current record, valid only after a true Next
	Hit() Hit
	// Err reports the first error encountered while iterating
	Err() error
	Close() error
}

// TaskStatus describes a server-side async task such as an update-by-query.
type TaskStatus struct {
	Completed bool
	Total     int64
	Updated   int64
}

// UpdateOptions binds a stored script to an update-by-query operation.
// Refresh requests immediate consistency so the next query observes the
// writes, which rule ordering depends on.
type UpdateOptions struct {
	ScriptID string
	Params   map[string]interface{}
	Refresh  bool
}

// Script is a named server-side script installed into the store.
type Script struct {
	// Language of the script source, e.g. "painless"
	Language string
	Source   string
	// Context the store compiles the script for: "update", "filter" or "field"
	Context     string
	Description string
}

// Bucket is a single group returned by a composite aggregation.
type Bucket struct {
	Key      Map
	DocCount int64
	// Values holds sub-aggregation results keyed by aggregation name
	Values Map
}

// AggPage is one page of composite aggregation buckets. A nil AfterKey means
// the bucket space is exhausted.
type AggPage struct {
	Buckets  []Bucket
	AfterKey Map
}

// SequenceEvent is one constituent event of a matched event sequence.
type SequenceEvent struct {
	Index  string
	ID     string
	Source Map
}

// Sequence is an ordered group of events matched by a sequence query.
type Sequence struct {
	Events []SequenceEvent
}

// SequenceHits is the result payload of a sequence query.
type SequenceHits struct {
	Total     int64
	Sequences []Sequence
}

// SequenceResult is the possibly-async response of a sequence query. While
// Running is true only ID is valid and the caller must poll.
type SequenceResult struct {
	Running bool
	ID      string
	Hits    *SequenceHits
}

// Store is the full capability set required from the document store.
// Query bodies are expressed in the store's native JSON form; building and
// validating them is the query package's job.
type Store interface {
	// Search runs a query and returns at most size hits plus the total count
	Search(ctx context.Context, index []string, body Map, size int) ([]Hit, int64, error)
	// Count returns the total number of records matching the query
	Count(ctx context.Context, index []string, body Map) (int64, error)
	// Scroll opens a streaming cursor over all hits, sorted as requested
	Scroll(ctx context.Context, index []string, body Map, keepAlive time.Duration) (Cursor, error)
	// Aggregate runs the named composite aggregation and returns one bucket page
	Aggregate(ctx context.Context, index []string, body Map, name string) (AggPage, error)

	// UpdateByQuery starts an async scripted update and returns its task id
	UpdateByQuery(ctx context.Context, index []string, body Map, opts UpdateOptions) (string, error)
	// Task reports the status of an async task
	Task(ctx context.Context, id string) (TaskStatus, error)
	// DeleteTask removes the task bookkeeping record, best effort only
	DeleteTask(ctx context.Context, id string) error
	// DeleteByQuery removes all matching records and returns the deleted count
	DeleteByQuery(ctx context.Context, index []string, body Map) (int64, error)

	PutScript(ctx context.Context, id string, script Script) error
	PutMapping(ctx context.Context, index string, body Map) error
	PutIndexTemplate(ctx context.Context, name string, body Map, create bool) error
	PutComponentTemplate(ctx context.Context, name string, body Map, create bool) error
	PutIngestPipeline(ctx context.Context, id string, body Map) error

	// SequenceSearch issues a sequence query, possibly returning an async handle
	SequenceSearch(ctx context.Context, index []string, body Map) (SequenceResult, error)
	// SequenceStatus polls a running sequence query
	SequenceStatus(ctx context.Context, id string) (SequenceResult, error)
	// SequenceGet fetches the finished result of an async sequence query
	SequenceGet(ctx context.Context, id string) (SequenceResult, error)
	// SequenceDelete discards stored async sequence results, best effort only
	SequenceDelete(ctx context.Context, id string) error
}

// Unimplemented returns ErrNotSupported for every capability. Embed it in
// partial store implementations, test doubles in particular.
type Unimplemented struct{}

func (Unimplemented) Search(context.Context, []string, Map, int) ([]Hit, int64, error) {
	return nil, 0, ErrNotSupported
}

func (Unimplemented) Count(context.Context, []string, Map) (int64, error) {
	return 0, ErrNotSupported
}

func (Unimplemented) Scroll(context.Context, []string, Map, time.Duration) (Cursor, error) {
	return nil, ErrNotSupported
}

func (Unimplemented) Aggregate(context.Context, []string, Map, string) (AggPage, error) {
	return AggPage{}, ErrNotSupported
}

func (Unimplemented) UpdateByQuery(context.Context, []string, Map, UpdateOptions) (string, error) {
	return "", ErrNotSupported
}

func (Unimplemented) Task(context.Context, string) (TaskStatus, error) {
	return TaskStatus{}, ErrNotSupported
}

func (Unimplemented) DeleteTask(context.Context, string) error { return ErrNotSupported }

func (Unimplemented) DeleteByQuery(context.Context, []string, Map) (int64, error) {
	return 0, ErrNotSupported
}

func (Unimplemented) PutScript(context.Context, string, Script) error { return ErrNotSupported }

func (Unimplemented) PutMapping(context.Context, string, Map) error { return ErrNotSupported }

func (Unimplemented) PutIndexTemplate(context.Context, string, Map, bool) error {
	return ErrNotSupported
}

func (Unimplemented) PutComponentTemplate(context.Context, string, Map, bool) error {
	return ErrNotSupported
}

func (Unimplemented) PutIngestPipeline(context.Context, string, Map) error { return ErrNotSupported }

func (Unimplemented) SequenceSearch(context.Context, []string, Map) (SequenceResult, error) {
	return SequenceResult{}, ErrNotSupported
}

func (Unimplemented) SequenceStatus(context.Context, string) (SequenceResult, error) {
	return SequenceResult{}, ErrNotSupported
}

func (Unimplemented) SequenceGet(context.Context, string) (SequenceResult, error) {
	return SequenceResult{}, ErrNotSupported
}

func (Unimplemented) SequenceDelete(context.Context, string) error { return ErrNotSupported }
