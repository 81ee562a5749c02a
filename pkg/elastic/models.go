package elastic

import "encoding/json"

// BulkRequest is one document of a bulk index call.
type BulkRequest struct {
	Index    string
	ID       string
	Document interface{}
}

type BulkResult struct {
	Errors  []error
	Indexed int
}

type SearchHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type SearchHits struct {
	Total struct {
		Value int `json:"value"`
	} `json:"total"`
	Hits []SearchHit `json:"hits"`
}

// SearchResult keeps the parts of a search response the reporters read.
type SearchResult struct {
	Took     int        `json:"took"`
	TimedOut bool       `json:"timed_out"`
	Hits     SearchHits `json:"hits"`
}
