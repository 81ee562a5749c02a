package eventsource

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"

	"github.com/moonwalker/tuner/pkg/rules"
	"github.com/moonwalker/tuner/pkg/rules/engine"
	"github.com/moonwalker/tuner/pkg/streams"
)

type natsEventSource struct {
	opts     streams.Options
	logger   *slog.Logger
	con      *nats.Conn
	cmdSub   *nats.Subscription
	workSubs []*nats.Subscription
	done     chan struct{}
	closed   sync.Once
}

func NewNatsEventSource(opts streams.Options, logger *slog.Logger) EventSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &natsEventSource{opts: opts, logger: logger, done: make(chan struct{})}
}

func (s *natsEventSource) Receive(queue string, commands chan string, events chan *Event, topics []string) error {
	var err error
	s.con, err = streams.Connect(s.opts)
	if err != nil {
		return err
	}

	// subscription for commands
	s.cmdSub, err = s.con.Subscribe(CommandPrefix+"*", func(msg *nats.Msg) {
		if engine.CommandTopics[msg.Subject] {
			deliver(s.done, commands, msg.Subject)
		}
	})
	if err != nil {
		return err
	}

	// subscription for workloads
	for _, topic := range topics {
		err = s.subscribe(queue, events, topic)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *natsEventSource) subscribe(queue string, events chan *Event, topic string) error {
	sub, err := s.con.QueueSubscribe(topic, queue, func(msg *nats.Msg) {
		go func() {
			ev, err := decodeEvent(msg.Subject, msg.Data)
			if err != nil {
				s.logger.Warn("dropping event", "subject", msg.Subject, "err", err)
				return
			}
			if msg.Reply != "" {
				ev.Respond = msg.Respond
			}
			deliver(s.done, events, ev)
		}()
	})
	if err != nil {
		return err
	}

	s.workSubs = append(s.workSubs, sub)

	// set no limits for workload subscription, just in case
	return sub.SetPendingLimits(-1, -1)
}

// deliver hands v to the receiver, or gives up once the source is closed.
func deliver[T any](done <-chan struct{}, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	}
}

// decodeEvent turns a message body into an event. A CUSTOM_EVENT carries
// its own topic and the context under "payload".
func decodeEvent(subject string, data []byte) (*Event, error) {
	topic := subject
	if subject == CustomEvent {
		topic = gjson.GetBytes(data, "topic").String()
		data = []byte(gjson.GetBytes(data, "payload").Raw)
	}

	ctx, err := rules.ContextFromJSON(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		Received: time.Now().UTC(),
		Topic:    topic,
		Context:  ctx,
	}, nil
}

func (s *natsEventSource) TriggerReload() error {
	nc, err := streams.Connect(s.opts)
	if err != nil {
		return err
	}
	defer nc.Close()

	nc.Publish(engine.CmdReload, nil)
	nc.Flush()

	return nc.LastError()
}

func (s *natsEventSource) Close() {
	s.closed.Do(func() { close(s.done) })
	if s.cmdSub != nil {
		s.cmdSub.Unsubscribe()
	}
	for _, sub := range s.workSubs {
		sub.Unsubscribe()
	}
	if s.con != nil {
		s.con.Close()
	}
}
