package es

import (
	"context"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v7/esapi"

	"github.com/kyoushi/dataset/pkg/datastore"
)

type eqlResponse struct {
	ID        string `json:"id"`
	IsRunning bool   `json:"is_running"`
	Hits      struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Sequences []struct {
			Events []struct {
				Index  string                 `json:"_index"`
				ID     string                 `json:"_id"`
				Source map[string]interface{} `json:"_source"`
			} `json:"events"`
		} `json:"sequences"`
	} `json:"hits"`
}

func (r eqlResponse) result() datastore.SequenceResult {
	out := datastore.SequenceResult{
		Running: r.IsRunning,
		ID:      r.ID,
	}
	if r.IsRunning {
		return out
	}
	hits := &datastore.SequenceHits{Total: r.Hits.Total.Value}
	for _, seq := range r.Hits.Sequences {
		events := make([]datastore.SequenceEvent, 0, len(seq.Events))
		for _, event := range seq.Events {
			events = append(events, datastore.SequenceEvent{
				Index:  event.Index,
				ID:     event.ID,
				Source: datastore.Map(event.Source),
			})
		}
		hits.Sequences = append(hits.Sequences, datastore.Sequence{Events: events})
	}
	out.Hits = hits
	return out
}

// SequenceSearch issues an EQL query without waiting for completion. Long
// running searches come back as an async handle to poll.
func (c *Client) SequenceSearch(ctx context.Context, index []string, body datastore.Map) (datastore.SequenceResult, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return datastore.SequenceResult{}, err
	}
	req := esapi.EqlSearchRequest{
		Index: strings.Join(index, ","),
		Body:  reader,
		// near-zero wait: results are polled through the status API
		WaitForCompletionTimeout: time.Millisecond,
	}
	res, err := req.Do(ctx, c.es)
	var out eqlResponse
	if err := decodeResponse("eql search", res, err, &out); err != nil {
		return datastore.SequenceResult{}, err
	}
	return out.result(), nil
}

// SequenceStatus polls a running async EQL search.
func (c *Client) SequenceStatus(ctx context.Context, id string) (datastore.SequenceResult, error) {
	req := esapi.EqlGetStatusRequest{DocumentID: id}
	res, err := req.Do(ctx, c.es)
	var out eqlResponse
	if err := decodeResponse("eql status", res, err, &out); err != nil {
		return datastore.SequenceResult{}, err
	}
	return out.result(), nil
}

// SequenceGet fetches the stored result of a finished async EQL search.
func (c *Client) SequenceGet(ctx context.Context, id string) (datastore.SequenceResult, error) {
	req := esapi.EqlGetRequest{DocumentID: id}
	res, err := req.Do(ctx, c.es)
	var out eqlResponse
	if err := decodeResponse("eql get", res, err, &out); err != nil {
		return datastore.SequenceResult{}, err
	}
	return out.result(), nil
}

// SequenceDelete discards stored async EQL results.
func (c *Client) SequenceDelete(ctx context.Context, id string) error {
	req := esapi.EqlDeleteRequest{DocumentID: id}
	res, err := req.Do(ctx, c.es)
	return decodeResponse("eql delete", res, err, nil)
}
