package eventsource

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/moonwalker/tuner/pkg/rules/engine"
)

// ReportPublisher appends evaluation reports to a stream, see streams.Stream.
type ReportPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, publisher string) (*jetstream.PubAck, error)
}

type ServeOptions struct {
	Queue  string
	Topics []string
	// Reports, when set, receives every report on ReportPrefix+"."+topic.
	Reports      ReportPublisher
	ReportPrefix string
	Name         string
	Logger       *slog.Logger
}

// Serve feeds events from src into the engine until ctx is done. Commands
// are applied as they arrive, reports go back to the requester and to the
// report stream.
func Serve(ctx context.Context, src EventSource, eng *engine.Engine, opts ServeOptions) error {
	commands := make(chan string)
	events := make(chan *Event)

	if err := src.Receive(opts.Queue, commands, events, opts.Topics); err != nil {
		return err
	}
	defer src.Close()

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger.Info("serving rules", "queue", opts.Queue, "topics", opts.Topics)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-commands:
			if err := eng.Command(cmd); err != nil {
				opts.Logger.Warn("ignoring command", "err", err)
			}
		case ev := <-events:
			handleEvent(ctx, eng, ev, opts)
		}
	}
}

func handleEvent(ctx context.Context, eng *engine.Engine, ev *Event, opts ServeOptions) {
	report := eng.ProcessContext(ctx, ev.Context)

	data, err := json.Marshal(report)
	if err != nil {
		opts.Logger.Error("failed to encode report", "report", report.ID, "err", err)
		return
	}

	if ev.Respond != nil {
		if err := ev.Respond(data); err != nil {
			opts.Logger.Error("failed to respond", "topic", ev.Topic, "err", err)
		}
	}

	if opts.Reports != nil {
		prefix := opts.ReportPrefix
		if prefix == "" {
			prefix = "tuner.reports"
		}
		if _, err := opts.Reports.Publish(ctx, prefix+"."+ev.Topic, data, opts.Name); err != nil {
			opts.Logger.Error("failed to publish report", "topic", ev.Topic, "err", err)
		}
	}

	opts.Logger.Debug("event processed",
		"topic", ev.Topic,
		"report", report.ID,
		"matched", report.Len(),
		"latency", time.Since(ev.Received).String(),
	)
}
