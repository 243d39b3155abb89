package es

import (
	"context"
	"time"

	"github.com/elastic/go-elasticsearch/v7/esapi"

	"github.com/kyoushi/dataset/pkg/datastore"
)

// scrollPageSize is the per page hit count of streaming cursors.
const scrollPageSize = 1000

// Scroll opens a streaming cursor over all hits of a query.
func (c *Client) Scroll(ctx context.Context, index []string, body datastore.Map, keepAlive time.Duration) (datastore.Cursor, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	size := scrollPageSize
	requestCache := false
	req := esapi.SearchRequest{
		Index:        index,
		Body:         reader,
		Size:         &size,
		Scroll:       keepAlive,
		RequestCache: &requestCache,
	}
	res, err := req.Do(ctx, c.es)
	var out searchResponse
	if err := decodeResponse("scroll search", res, err, &out); err != nil {
		return nil, err
	}
	return &scrollCursor{
		client:    c,
		keepAlive: keepAlive,
		scrollID:  out.ScrollID,
		page:      out.Hits.Hits,
		pos:       -1,
	}, nil
}

type scrollCursor struct {
	client    *Client
	keepAlive time.Duration
	scrollID  string
	page      []hitJSON
	pos       int
	err       error
	done      bool
}

func (s *scrollCursor) Next(ctx context.Context) bool {
	if s.err != nil || s.done {
		return false
	}
	s.pos++
	if s.pos < len(s.page) {
		return true
	}
	if len(s.page) == 0 {
		s.done = true
		return false
	}

	req := esapi.ScrollRequest{
		ScrollID: s.scrollID,
		Scroll:   s.keepAlive,
	}
	res, err := req.Do(ctx, s.client.es)
	var out searchResponse
	if err := decodeResponse("scroll", res, err, &out); err != nil {
		s.err = err
		return false
	}
	if out.ScrollID != "" {
		s.scrollID = out.ScrollID
	}
	s.page = out.Hits.Hits
	s.pos = 0
	if len(s.page) == 0 {
		s.done = true
		return false
	}
	return true
}

func (s *scrollCursor) Hit() datastore.Hit {
	return s.page[s.pos].hit()
}

func (s *scrollCursor) Err() error { return s.err }

// Close releases the server-side scroll context.
func (s *scrollCursor) Close() error {
	if s.scrollID == "" {
		return nil
	}
	req := esapi.ClearScrollRequest{ScrollID: []string{s.scrollID}}
	res, err := req.Do(context.Background(), s.client.es)
	s.scrollID = ""
	return decodeResponse("clear scroll", res, err, nil)
}
