package streams

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	MAX_BYTES = 1000000000 // 1 GiB
)

// Stream appends messages to a JetStream stream.
type Stream struct {
	streamName string
	js         jetstream.JetStream
	stream     jetstream.Stream
}

// OpenStream creates the stream or updates its subjects.
func OpenStream(ctx context.Context, nc *nats.Conn, name string, subjects []string) (*Stream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	s, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
		MaxBytes: MAX_BYTES,
	})
	if err != nil {
		return nil, err
	}

	return &Stream{streamName: name, js: js, stream: s}, nil
}

func (this *Stream) Name() string {
	return this.streamName
}

func (this *Stream) Publish(ctx context.Context, subject string, payload []byte, publisher string) (*jetstream.PubAck, error) {
	msg := &nats.Msg{
		Subject: subject,
		Data:    payload,
	}
	if publisher != "" {
		msg.Header = nats.Header{
			HeaderPublisher: []string{publisher},
		}
	}

	start := time.Now()
	pa, err := this.js.PublishMsg(ctx, msg)
	if err != nil {
		return nil, err
	}

	slog.Debug("publish message",
		elapsed(start),
		"subject", subject,
		"streamName", this.streamName,
	)

	return pa, nil
}

// LastBySubject returns the payload of the newest message on subject.
func (this *Stream) LastBySubject(ctx context.Context, subject string) ([]byte, map[string][]string, error) {
	start := time.Now()
	m, err := this.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		return nil, nil, err
	}

	slog.Debug("get last message by subject", "subject", subject, elapsed(start))

	return m.Data, m.Header, nil
}
