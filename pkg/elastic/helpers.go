package elastic

import (
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v7/esapi"
)

func (bres *BulkResult) AppendError(format string, a ...interface{}) {
	bres.Errors = append(bres.Errors, fmt.Errorf(format, a...))
}

// responseError describes a failed response from its error body.
func responseError(op string, res *esapi.Response) error {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil || e.Error.Type == "" {
		return fmt.Errorf("failed to %s: [%s]", op, res.Status())
	}
	return fmt.Errorf("failed to %s: [%s] %s: %s", op, res.Status(), e.Error.Type, e.Error.Reason)
}
