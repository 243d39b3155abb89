// Package es adapts the official Elasticsearch client to the datastore.Store
// capability set the dataset tooling is written against.
package es

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"strings"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	jsoniter "github.com/json-iterator/go"

	"github.com/kyoushi/dataset/pkg/datastore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// tasksIndex is where the server keeps completed task documents. There is
// no task delete API, the bookkeeping document has to be removed directly.
const tasksIndex = ".tasks"

// Config holds the store connection settings.
type Config struct {
	// Addresses lists the cluster node URLs
	Addresses []string
	Username  string
	Password  string
}

// APIError is a non-2xx response from the store.
type APIError struct {
	Op     string
	Status string
	Body   string
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s failed: %s %s", e.Op, e.Status, e.Body)
}

// Client implements datastore.Store on an Elasticsearch cluster.
type Client struct {
	es *elasticsearch.Client
}

// NewClient connects to the configured cluster.
func NewClient(cfg Config) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, err
	}
	return &Client{es: es}, nil
}

func encodeBody(body datastore.Map) (io.Reader, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// decodeResponse drains a response and decodes it, converting error
// responses into APIError.
func decodeResponse(op string, res *esapi.Response, err error, dest interface{}) error {
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		data, _ := ioutil.ReadAll(res.Body)
		return APIError{Op: op, Status: res.Status(), Body: strings.TrimSpace(string(data))}
	}
	if dest == nil {
		_, err := io.Copy(ioutil.Discard, res.Body)
		return err
	}
	return json.NewDecoder(res.Body).Decode(dest)
}

type hitJSON struct {
	Index  string                 `json:"_index"`
	ID     string                 `json:"_id"`
	Source map[string]interface{} `json:"_source"`
	Sort   []interface{}          `json:"sort"`
}

func (h hitJSON) hit() datastore.Hit {
	return datastore.Hit{
		Index:  h.Index,
		ID:     h.ID,
		Source: datastore.Map(h.Source),
		Sort:   h.Sort,
	}
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []hitJSON `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]jsoniter.RawMessage `json:"aggregations"`
}

// Search runs a query returning at most size hits plus the total match
// count. The request cache is bypassed so consecutive label queries observe
// fresh state.
func (c *Client) Search(ctx context.Context, index []string, body datastore.Map, size int) ([]datastore.Hit, int64, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return nil, 0, err
	}
	trackTotal := true
	requestCache := false
	req := esapi.SearchRequest{
		Index:          index,
		Body:           reader,
		Size:           &size,
		TrackTotalHits: trackTotal,
		RequestCache:   &requestCache,
	}
	res, err := req.Do(ctx, c.es)
	var out searchResponse
	if err := decodeResponse("search", res, err, &out); err != nil {
		return nil, 0, err
	}
	hits := make([]datastore.Hit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		hits = append(hits, h.hit())
	}
	return hits, out.Hits.Total.Value, nil
}

// Count returns the number of records matching the query.
func (c *Client) Count(ctx context.Context, index []string, body datastore.Map) (int64, error) {
	query := datastore.Map{}
	if q, ok := body["query"]; ok {
		query["query"] = q
	}
	reader, err := encodeBody(query)
	if err != nil {
		return 0, err
	}
	req := esapi.CountRequest{Index: index, Body: reader}
	res, err := req.Do(ctx, c.es)
	var out struct {
		Count int64 `json:"count"`
	}
	if err := decodeResponse("count", res, err, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Aggregate runs one page of the named composite aggregation.
func (c *Client) Aggregate(ctx context.Context, index []string, body datastore.Map, name string) (datastore.AggPage, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return datastore.AggPage{}, err
	}
	size := 0
	requestCache := false
	req := esapi.SearchRequest{
		Index:        index,
		Body:         reader,
		Size:         &size,
		RequestCache: &requestCache,
	}
	res, err := req.Do(ctx, c.es)
	var out searchResponse
	if err := decodeResponse("aggregate", res, err, &out); err != nil {
		return datastore.AggPage{}, err
	}
	raw, ok := out.Aggregations[name]
	if !ok {
		return datastore.AggPage{}, fmt.Errorf("aggregation %q missing from response", name)
	}
	return parseCompositeAgg(raw)
}

func parseCompositeAgg(raw jsoniter.RawMessage) (datastore.AggPage, error) {
	var agg struct {
		AfterKey map[string]interface{}   `json:"after_key"`
		Buckets  []map[string]interface{} `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return datastore.AggPage{}, err
	}
	page := datastore.AggPage{AfterKey: datastore.Map(agg.AfterKey)}
	for _, raw := range agg.Buckets {
		bucket := datastore.Bucket{Values: datastore.Map{}}
		for key, val := range raw {
			switch key {
			case "key":
				if m, ok := val.(map[string]interface{}); ok {
					bucket.Key = datastore.Map(m)
				}
			case "doc_count":
				if n, ok := val.(float64); ok {
					bucket.DocCount = int64(n)
				}
			default:
				// remaining keys are sub-aggregation results
				bucket.Values[key] = val
			}
		}
		page.Buckets = append(page.Buckets, bucket)
	}
	return page, nil
}

// UpdateByQuery starts an async scripted update and returns the task id.
func (c *Client) UpdateByQuery(ctx context.Context, index []string, body datastore.Map, opts datastore.UpdateOptions) (string, error) {
	request := datastore.Map{
		"script": map[string]interface{}{
			"id":     opts.ScriptID,
			"params": opts.Params,
		},
	}
	if q, ok := body["query"]; ok {
		request["query"] = q
	}
	reader, err := encodeBody(request)
	if err != nil {
		return "", err
	}
	waitForCompletion := false
	req := esapi.UpdateByQueryRequest{
		Index:             index,
		Body:              reader,
		WaitForCompletion: &waitForCompletion,
	}
	if opts.Refresh {
		refresh := true
		req.Refresh = &refresh
	}
	res, err := req.Do(ctx, c.es)
	var out struct {
		Task string `json:"task"`
	}
	if err := decodeResponse("update by query", res, err, &out); err != nil {
		return "", err
	}
	return out.Task, nil
}

// Task reports the status of an async task.
func (c *Client) Task(ctx context.Context, id string) (datastore.TaskStatus, error) {
	req := esapi.TasksGetRequest{TaskID: id}
	res, err := req.Do(ctx, c.es)
	var out struct {
		Completed bool `json:"completed"`
		Task      struct {
			Status struct {
				Total int64 `json:"total"`
			} `json:"status"`
		} `json:"task"`
		Response struct {
			Updated int64 `json:"updated"`
		} `json:"response"`
	}
	if err := decodeResponse("task get", res, err, &out); err != nil {
		return datastore.TaskStatus{}, err
	}
	return datastore.TaskStatus{
		Completed: out.Completed,
		Total:     out.Task.Status.Total,
		Updated:   out.Response.Updated,
	}, nil
}

// DeleteTask removes the bookkeeping document of a completed task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	req := esapi.DeleteRequest{Index: tasksIndex, DocumentID: id}
	res, err := req.Do(ctx, c.es)
	return decodeResponse("task delete", res, err, nil)
}

// DeleteByQuery removes all matching records. The refresh flag is always
// set so consecutive queries see the deletions.
func (c *Client) DeleteByQuery(ctx context.Context, index []string, body datastore.Map) (int64, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return 0, err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   index,
		Body:    reader,
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, c.es)
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := decodeResponse("delete by query", res, err, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// PutScript installs a stored script, compiled for its target context.
func (c *Client) PutScript(ctx context.Context, id string, script datastore.Script) error {
	body := datastore.Map{
		"script": map[string]interface{}{
			"lang":   script.Language,
			"source": script.Source,
		},
	}
	reader, err := encodeBody(body)
	if err != nil {
		return err
	}
	req := esapi.PutScriptRequest{
		ScriptID:      id,
		Body:          reader,
		ScriptContext: script.Context,
	}
	res, err := req.Do(ctx, c.es)
	return decodeResponse("put script", res, err, nil)
}

// PutMapping updates the field mappings of the matching indices.
func (c *Client) PutMapping(ctx context.Context, index string, body datastore.Map) error {
	reader, err := encodeBody(body)
	if err != nil {
		return err
	}
	req := esapi.IndicesPutMappingRequest{
		Index: []string{index},
		Body:  reader,
	}
	res, err := req.Do(ctx, c.es)
	return decodeResponse("put mapping", res, err, nil)
}

// PutIndexTemplate installs an index template, optionally refusing to
// replace an existing one.
func (c *Client) PutIndexTemplate(ctx context.Context, name string, body datastore.Map, create bool) error {
	reader, err := encodeBody(body)
	if err != nil {
		return err
	}
	req := esapi.IndicesPutIndexTemplateRequest{
		Name: name,
		Body: reader,
	}
	if create {
		req.Create = &create
	}
	res, err := req.Do(ctx, c.es)
	return decodeResponse("put index template", res, err, nil)
}

// PutComponentTemplate installs a component template.
func (c *Client) PutComponentTemplate(ctx context.Context, name string, body datastore.Map, create bool) error {
	reader, err := encodeBody(body)
	if err != nil {
		return err
	}
	req := esapi.ClusterPutComponentTemplateRequest{
		Name: name,
		Body: reader,
	}
	if create {
		req.Create = &create
	}
	res, err := req.Do(ctx, c.es)
	return decodeResponse("put component template", res, err, nil)
}

// PutIngestPipeline installs an ingest pipeline.
func (c *Client) PutIngestPipeline(ctx context.Context, id string, body datastore.Map) error {
	reader, err := encodeBody(body)
	if err != nil {
		return err
	}
	req := esapi.IngestPutPipelineRequest{
		PipelineID: id,
		Body:       reader,
	}
	res, err := req.Do(ctx, c.es)
	return decodeResponse("put ingest pipeline", res, err, nil)
}
