// $ go test -v pkg/rules/eventsource/*.go

package eventsource

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonwalker/tuner/pkg/env"
	"github.com/moonwalker/tuner/pkg/rules"
	"github.com/moonwalker/tuner/pkg/rules/engine"
	"github.com/moonwalker/tuner/pkg/streams"
)

type chanSource struct {
	commands chan string
	events   chan *Event
	ready    chan struct{}
	closed   bool
}

func newChanSource() *chanSource {
	return &chanSource{ready: make(chan struct{})}
}

func (s *chanSource) Receive(queue string, commands chan string, events chan *Event, topics []string) error {
	s.commands, s.events = commands, events
	close(s.ready)
	return nil
}

func (s *chanSource) TriggerReload() error {
	s.commands <- engine.CmdReload
	return nil
}

func (s *chanSource) Close() { s.closed = true }

type publisher struct {
	sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *publisher) Publish(ctx context.Context, subject string, payload []byte, by string) (*jetstream.PubAck, error) {
	p.Lock()
	defer p.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return &jetstream.PubAck{Stream: "reports"}, nil
}

func (p *publisher) count() int {
	p.Lock()
	defer p.Unlock()
	return len(p.subjects)
}

type rulesOf []*rules.Rule

func (r rulesOf) Enabled() []*rules.Rule { return r }

func testEngine(t *testing.T) *engine.Engine {
	r := rules.NewRule("greet")
	r.Name = "Greet"
	r.Conditions = rules.Conditions{{Key: "environment", Value: "test"}}
	r.Actions = []*rules.Action{{
		Type:   rules.ACTION_LOG,
		Params: rules.Params{{Key: "message", Value: "hello {user}"}},
	}}
	e := engine.New(rulesOf{r}, slog.New(slog.DiscardHandler))
	t.Cleanup(e.Close)
	return e
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent("deploys", []byte(`{"environment":"test","cpu":4}`))
	require.NoError(t, err)
	assert.Equal(t, "deploys", ev.Topic)
	assert.Equal(t, "test", ev.Context["environment"])
	assert.Equal(t, float64(4), ev.Context["cpu"])

	ev, err = decodeEvent(CustomEvent, []byte(`{"topic":"custom","payload":{"user":"alice"}}`))
	require.NoError(t, err)
	assert.Equal(t, "custom", ev.Topic)
	assert.Equal(t, rules.Context{"user": "alice"}, ev.Context)

	_, err = decodeEvent("deploys", []byte(`[1,2]`))
	assert.ErrorIs(t, err, rules.ErrContextNotObject)
}

func TestServe(t *testing.T) {
	eng := testEngine(t)
	src := newChanSource()
	pub := &publisher{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- Serve(ctx, src, eng, ServeOptions{Queue: "q", Topics: []string{"deploys"}, Reports: pub, Name: "test"})
	}()
	<-src.ready

	replies := make(chan []byte, 1)
	src.events <- &Event{
		Received: time.Now(),
		Topic:    "deploys",
		Context:  rules.Context{"environment": "test", "user": "alice"},
		Respond: func(data []byte) error {
			replies <- data
			return nil
		},
	}

	var reply []byte
	select {
	case reply = <-replies:
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}

	var report struct {
		ID      string                     `json:"id"`
		Results map[string]json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(reply, &report))
	assert.NotEmpty(t, report.ID)
	assert.JSONEq(t, `{"name":"Greet","actions":{"log":{"status":"success","message":"hello alice"}}}`, string(report.Results["greet"]))

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"tuner.reports.deploys"}, pub.subjects)

	src.commands <- engine.CmdStop
	assert.Eventually(t, func() bool { return !eng.Enabled() }, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.True(t, src.closed)
}

// $ go test -count=1 -run TestNatsEventSource -v pkg/rules/eventsource/*.go
func TestNatsEventSource(t *testing.T) {
	opts := streams.Options{URL: env.Get("NATS_URL", nats.DefaultURL), Name: "tuner-test"}
	nc, err := streams.Connect(opts)
	if err != nil {
		t.Skip("nats not available:", err)
	}
	defer nc.Close()

	eng := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewNatsEventSource(opts, slog.New(slog.DiscardHandler))
	go Serve(ctx, src, eng, ServeOptions{Queue: "tuner-test", Topics: []string{"tuner.test.events"}})

	var msg *nats.Msg
	require.Eventually(t, func() bool {
		msg, err = nc.Request("tuner.test.events", []byte(`{"environment":"test","user":"bob"}`), 200*time.Millisecond)
		return err == nil
	}, 5*time.Second, 100*time.Millisecond)
	assert.Contains(t, string(msg.Data), "hello bob")

	require.NoError(t, src.TriggerReload())
}

type messages struct {
	sync.Mutex
	list []string
}

func (m *messages) Enabled(context.Context, slog.Level) bool { return true }
func (m *messages) WithAttrs([]slog.Attr) slog.Handler       { return m }
func (m *messages) WithGroup(string) slog.Handler            { return m }

func (m *messages) Handle(_ context.Context, r slog.Record) error {
	m.Lock()
	defer m.Unlock()
	m.list = append(m.list, r.Message)
	return nil
}

func (m *messages) all() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.list...)
}

func TestServeUsesGivenLogger(t *testing.T) {
	eng := testEngine(t)
	src := newChanSource()
	logs := &messages{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- Serve(ctx, src, eng, ServeOptions{Queue: "q", Logger: slog.New(logs)})
	}()
	<-src.ready

	src.commands <- "rules.bogus"
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"serving rules", "ignoring command"}, logs.all())
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestDeliverStopsWhenClosed(t *testing.T) {
	src := NewNatsEventSource(streams.Options{}, nil).(*natsEventSource)
	events := make(chan *Event)

	go func() { <-events }()
	assert.True(t, deliver(src.done, events, &Event{Topic: "a"}))

	src.Close()
	src.Close()

	returned := make(chan bool)
	go func() { returned <- deliver(src.done, events, &Event{Topic: "b"}) }()
	select {
	case ok := <-returned:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("deliver blocked after close")
	}
}
