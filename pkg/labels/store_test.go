package labels

import (
	"context"
	"fmt"
	"time"

	"github.com/kyoushi/dataset/pkg/datastore"
)

// testPoller never sleeps for real time.
func testPoller() datastore.Poller {
	return datastore.Poller{Interval: time.Second, Sleep: func(time.Duration) {}}
}

type updateCall struct {
	Index []string
	Body  datastore.Map
	Opts  datastore.UpdateOptions
}

type scriptCall struct {
	ID     string
	Script datastore.Script
}

// fakeStore records store interactions and serves canned results. Every
// update-by-query task completes immediately.
type fakeStore struct {
	datastore.Unimplemented

	updates      []updateCall
	updatedPer   []int64
	deletedTasks []string

	scripts  []scriptCall
	mappings []datastore.Map

	scrollHits [][]datastore.Hit
	scrolls    int

	countResults []int64
	counts       int

	seqResults []*datastore.SequenceHits
	seqCalls   int
}

func (s *fakeStore) UpdateByQuery(ctx context.Context, index []string, body datastore.Map, opts datastore.UpdateOptions) (string, error) {
	s.updates = append(s.updates, updateCall{Index: index, Body: body, Opts: opts})
	return fmt.Sprintf("task:%d", len(s.updates)-1), nil
}

func (s *fakeStore) Task(ctx context.Context, id string) (datastore.TaskStatus, error) {
	var n int
	fmt.Sscanf(id, "task:%d", &n)
	updated := int64(1)
	if n < len(s.updatedPer) {
		updated = s.updatedPer[n]
	}
	return datastore.TaskStatus{Completed: true, Total: updated, Updated: updated}, nil
}

func (s *fakeStore) DeleteTask(ctx context.Context, id string) error {
	s.deletedTasks = append(s.deletedTasks, id)
	return nil
}

func (s *fakeStore) PutScript(ctx context.Context, id string, script datastore.Script) error {
	s.scripts = append(s.scripts, scriptCall{ID: id, Script: script})
	return nil
}

func (s *fakeStore) PutMapping(ctx context.Context, index string, body datastore.Map) error {
	s.mappings = append(s.mappings, body)
	return nil
}

func (s *fakeStore) Scroll(ctx context.Context, index []string, body datastore.Map, keepAlive time.Duration) (datastore.Cursor, error) {
	var hits []datastore.Hit
	if s.scrolls < len(s.scrollHits) {
		hits = s.scrollHits[s.scrolls]
	}
	s.scrolls++
	return &sliceCursor{hits: hits}, nil
}

func (s *fakeStore) Count(ctx context.Context, index []string, body datastore.Map) (int64, error) {
	var n int64
	if s.counts < len(s.countResults) {
		n = s.countResults[s.counts]
	}
	s.counts++
	return n, nil
}

func (s *fakeStore) SequenceSearch(ctx context.Context, index []string, body datastore.Map) (datastore.SequenceResult, error) {
	hits := &datastore.SequenceHits{}
	if s.seqCalls < len(s.seqResults) {
		hits = s.seqResults[s.seqCalls]
	}
	s.seqCalls++
	return datastore.SequenceResult{Hits: hits}, nil
}

type sliceCursor struct {
	hits []datastore.Hit
	pos  int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.hits) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Hit() datastore.Hit { return c.hits[c.pos-1] }
func (c *sliceCursor) Err() error         { return nil }
func (c *sliceCursor) Close() error       { return nil }
