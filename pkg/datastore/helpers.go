package datastore

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Poller drives the fixed-interval wait loops for asynchronous store
// operations. Sleep is injectable so tests do not have to wait for real time
// to pass. MaxWait of zero means no deadline.
type Poller struct {
	Interval time.Duration
	MaxWait  time.Duration
	Sleep    func(time.Duration)
}

// DefaultPoller matches the check interval the store tooling has always used.
func DefaultPoller() Poller {
	return Poller{Interval: 500 * time.Millisecond, Sleep: time.Sleep}
}

func (p Poller) sleep() {
	if p.Sleep != nil {
		p.Sleep(p.Interval)
		return
	}
	time.Sleep(p.Interval)
}

// ErrWaitTimeout indicates an async store operation outlived the poller deadline.
type ErrWaitTimeout struct {
	ID      string
	Waited  time.Duration
	MaxWait time.Duration
}

func (e ErrWaitTimeout) Error() string {
	return fmt.Sprintf("gave up waiting for store task %s after %s (limit %s)",
		e.ID, e.Waited, e.MaxWait)
}

// WaitForTask blocks until the async task completes, polling at the
// configured interval.
func (p Poller) WaitForTask(ctx context.Context, store Store, id string) (TaskStatus, error) {
	var waited time.Duration
	for {
		status, err := store.Task(ctx, id)
		if err != nil {
			return TaskStatus{}, err
		}
		if status.Completed {
			return status, nil
		}
		if err := ctx.Err(); err != nil {
			return TaskStatus{}, err
		}
		if p.MaxWait > 0 && waited >= p.MaxWait {
			return TaskStatus{}, ErrWaitTimeout{ID: id, Waited: waited, MaxWait: p.MaxWait}
		}
		p.sleep()
		waited += p.Interval
	}
}

// SearchSequence issues a sequence query and polls until its result is
// available. Async result data is deleted from the store once retrieved,
// failures during that cleanup are logged and swallowed.
func (p Poller) SearchSequence(ctx context.Context, store Store, index []string, body Map) (*SequenceHits, error) {
	result, err := store.SequenceSearch(ctx, index, body)
	if err != nil {
		return nil, err
	}

	async := result.Running
	var waited time.Duration
	for result.Running {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.MaxWait > 0 && waited >= p.MaxWait {
			return nil, ErrWaitTimeout{ID: result.ID, Waited: waited, MaxWait: p.MaxWait}
		}
		p.sleep()
		waited += p.Interval
		if result, err = store.SequenceStatus(ctx, result.ID); err != nil {
			return nil, err
		}
	}

	if async {
		if result, err = store.SequenceGet(ctx, result.ID); err != nil {
			return nil, err
		}
		if err := store.SequenceDelete(ctx, result.ID); err != nil {
			log.WithField("sequence", result.ID).
				Warnf("failed to delete async sequence result: %s", err)
		}
	}
	return result.Hits, nil
}

// ScanComposite pages through a composite aggregation until the store stops
// returning an after key, accumulating all buckets. The aggregation
// definition inside body is rewritten in place to resume after each page.
func ScanComposite(ctx context.Context, store Store, index []string, body Map, name string) ([]Bucket, error) {
	buckets := make([]Bucket, 0)
	for {
		page, err := store.Aggregate(ctx, index, body, name)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, page.Buckets...)
		if page.AfterKey == nil {
			return buckets, nil
		}
		setCompositeAfter(body, name, page.AfterKey)
	}
}

func setCompositeAfter(body Map, name string, after Map) {
	aggs, ok := body["aggs"].(map[string]interface{})
	if !ok {
		return
	}
	agg, ok := aggs[name].(map[string]interface{})
	if !ok {
		return
	}
	if composite, ok := agg["composite"].(map[string]interface{}); ok {
		composite["after"] = map[string]interface{}(after)
	}
}
