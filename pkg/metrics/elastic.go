package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/moonwalker/tuner/pkg/elastic"
)

// Reporter ships summaries to elasticsearch, one index per day.
type Reporter struct {
	client *elastic.Client
	prefix string
	logger *slog.Logger
}

func NewReporter(client *elastic.Client, prefix string, logger *slog.Logger) *Reporter {
	if prefix == "" {
		prefix = "tuner-metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{client: client, prefix: prefix, logger: logger}
}

// pruneWindow is how many days before the retention cut Prune looks at.
const pruneWindow = 7

func (r *Reporter) index(s *Summary) string {
	return r.dayIndex(s.System.Timestamp)
}

func (r *Reporter) dayIndex(t time.Time) string {
	return fmt.Sprintf("%s-%s", r.prefix, t.UTC().Format(elastic.IndexLayout))
}

// Report indexes the stats of a summary as one document.
// Its signature fits Monitor.Run.
func (r *Reporter) Report(s *Summary) {
	if err := r.ReportContext(context.Background(), s); err != nil {
		r.logger.Error("failed to report metrics", "err", err)
	}
}

func (r *Reporter) ReportContext(ctx context.Context, s *Summary) error {
	doc := struct {
		System SystemInfo                    `json:"system"`
		Stats  map[string]map[string]float64 `json:"stats"`
	}{s.System, s.Stats}
	return r.client.Index(ctx, r.index(s), s.System.Timestamp.Format(elastic.TimeLayout), doc)
}

// ReportMetrics bulk indexes every metric of a summary.
func (r *Reporter) ReportMetrics(ctx context.Context, s *Summary, batchSize int) (int, error) {
	index := r.index(s)
	reqs := make([]*elastic.BulkRequest, 0, len(s.Metrics))
	for i, m := range s.Metrics {
		reqs = append(reqs, &elastic.BulkRequest{
			Index:    index,
			ID:       fmt.Sprintf("%s-%s-%d", m.Name, m.Timestamp.Format(elastic.TimeLayout), i),
			Document: m,
		})
	}
	res := r.client.BulkIndex(ctx, batchSize, reqs)
	if len(res.Errors) > 0 {
		return res.Indexed, fmt.Errorf("bulk index: %d errors, first: %w", len(res.Errors), res.Errors[0])
	}
	return res.Indexed, nil
}

// Latest returns the newest stats document across the daily indices,
// nil when nothing was reported yet.
func (r *Reporter) Latest(ctx context.Context) (*Summary, error) {
	exists, err := r.client.IndexExists(ctx, r.prefix+"-*")
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	query := `{"size":1,"sort":[{"system.timestamp":{"order":"desc"}}]}`
	res, err := r.client.Search(ctx, r.prefix+"-*", query)
	if err != nil {
		return nil, err
	}
	if len(res.Hits.Hits) == 0 {
		return nil, nil
	}
	var s Summary
	if err := json.Unmarshal(res.Hits.Hits[0].Source, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Prune drops the daily indices older than keep days before now. Only the
// days just past the cut are checked, so calling it once a day is enough.
func (r *Reporter) Prune(ctx context.Context, now time.Time, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	cut := now.UTC().AddDate(0, 0, -keep)

	var deleted []string
	for day := 1; day <= pruneWindow; day++ {
		index := r.dayIndex(cut.AddDate(0, 0, -day))
		exists, err := r.client.IndexExists(ctx, index)
		if err != nil {
			return deleted, err
		}
		if !exists {
			continue
		}
		ok, err := r.client.DeleteIndex(ctx, index)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted = append(deleted, index)
		}
	}
	if len(deleted) > 0 {
		r.logger.Info("metrics indices pruned", "indices", deleted, "keep", keep)
	}
	return deleted, nil
}
