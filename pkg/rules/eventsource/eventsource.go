package eventsource

import (
	"time"

	"github.com/moonwalker/tuner/pkg/rules"
)

const (
	// CustomEvent wraps a context under "payload" and names the topic
	// under "topic".
	CustomEvent = "CUSTOM_EVENT"
	// CommandPrefix is the subject prefix of engine commands.
	CommandPrefix = "rules."
)

// Event is one evaluation request received from a transport.
type Event struct {
	Received time.Time
	Topic    string
	Context  rules.Context
	// Respond answers a request, nil for plain publishes.
	Respond func(data []byte) error
}

type EventSource interface {
	Receive(queue string, commands chan string, events chan *Event, topics []string) error
	TriggerReload() error
	Close()
}
