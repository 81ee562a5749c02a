package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"log/slog"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
)

type Client struct {
	es *elasticsearch.Client
}

const (
	TimeLayout  = "20060102150405"
	IndexLayout = "2006.01.02"
)

// NewClient connects to addresses, or to ELASTICSEARCH_URL when none are given.
func NewClient(addresses ...string) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, err
	}
	return &Client{es}, nil
}

// IndexExists reports whether any index matches index, wildcards included.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		slog.Error("Error running index exists query",
			"err", err.Error(),
			"index", index,
		)
		return false, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	}
	return false, responseError("check index", res)
}

// DeleteIndex drops index, a missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, index string) (bool, error) {
	res, err := c.es.Indices.Delete([]string{index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return false, nil
	}
	if res.IsError() {
		return false, responseError("delete index", res)
	}
	return true, nil
}

func (c *Client) Index(ctx context.Context, index string, id string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      strings.ToLower(index),
		DocumentID: id,
		Body:       bytes.NewReader(b),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		err := responseError("index document", res)
		slog.Error("Elastic document index error",
			"err", err.Error(),
			"index", index,
			"id", id,
		)
		return err
	}
	return nil
}

// https://github.com/elastic/go-elasticsearch/blob/example_bulk/_examples/bulk/bulk.go
func (c *Client) BulkIndex(ctx context.Context, batchSize int, bulkRequests []*BulkRequest) (result *BulkResult) {
	result = &BulkResult{}
	if batchSize <= 0 {
		batchSize = len(bulkRequests)
	}

	var (
		buf      bytes.Buffer
		buffered int
		batch    int
	)

	for i, br := range bulkRequests {
		// prepare the metadata payload
		meta := []byte(fmt.Sprintf(`{ "index" : { "_index" : "%s", "_id" : "%s" } }%s`, strings.ToLower(br.Index), br.ID, "\n"))

		// prepare the data payload, encode to JSON
		data, err := json.Marshal(br.Document)
		if err != nil {
			result.AppendError("failed to encode document %s: %s", br.ID, err)
			return result
		}
		// append newline to the data payload
		data = append(data, "\n"...)

		// write meta and data to buffer
		buf.Grow(len(meta) + len(data))
		buf.Write(meta)
		buf.Write(data)
		buffered++

		// when a threshold is reached, execute the Bulk() request with body from buffer
		if buffered < batchSize && i < len(bulkRequests)-1 {
			continue
		}
		batch++
		if err := c.flush(ctx, &buf, result); err != nil {
			result.AppendError("failed to index batch %d: %s", batch, err)
			return result
		}

		// reset the buffer and items counter
		buf.Reset()
		buffered = 0
	}

	return result
}

func (c *Client) flush(ctx context.Context, buf *bytes.Buffer, result *BulkResult) error {
	type bulkResponse struct {
		Errors bool `json:"errors"`
		Items  []struct {
			Index struct {
				ID     string `json:"_id"`
				Result string `json:"result"`
				Status int    `json:"status"`
				Error  struct {
					Type   string `json:"type"`
					Reason string `json:"reason"`
				} `json:"error"`
			} `json:"index"`
		} `json:"items"`
	}

	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return err
	}
	// Close the response body, to prevent reaching the limit for goroutines or file handles
	defer res.Body.Close()

	// if the whole request failed, mark all documents as failed
	if res.IsError() {
		return responseError("bulk", res)
	}

	// a successful response might still contain errors for particular documents...
	var blk bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&blk); err != nil {
		return fmt.Errorf("failed to parse response body: %w", err)
	}
	for _, d := range blk.Items {
		// ... so for any HTTP status above 201 ...
		if d.Index.Status > 201 {
			result.AppendError("error [%d]: %s %s", d.Index.Status, d.Index.Error.Type, d.Index.Error.Reason)
		} else {
			// ... otherwise increase the success counter
			result.Indexed++
		}
	}
	return nil
}

func (c *Client) Search(ctx context.Context, index string, query string) (*SearchResult, error) {
	slog.Debug("Elastic query",
		"query", query,
		"index", index,
	)

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(strings.NewReader(query)),
	)
	if err != nil {
		slog.Error("Error getting response",
			"err", err.Error(),
			"query", query,
			"index", index,
		)
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		err := responseError("run query", res)
		slog.Error("Elastic search error",
			"err", err.Error(),
			"query", query,
			"index", index,
		)
		return nil, err
	}

	var r SearchResult
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		slog.Error("Error parsing the response body",
			"err", err.Error(),
		)
		return nil, err
	}

	slog.Debug("Elastic query time:",
		"took", r.Took,
	)

	return &r, nil
}
