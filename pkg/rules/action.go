package rules

import "strings"

const (
	defaultLogLevel = "info"
)

// Effect is the closed set of things an action can ask for.
// Use a type switch over the variants below; UnknownEffect covers
// every type tag this package does not know.
type Effect interface {
	effect()
}

// LogEffect emits a formatted message at a log level.
type LogEffect struct {
	Message string
	Level   string
}

// SetConfigEffect reports a configuration change, it never applies it.
type SetConfigEffect struct {
	Key   string
	Value interface{}
}

// RunCommandEffect reports a command line, it is never executed.
type RunCommandEffect struct {
	Command string
}

type UnknownEffect struct {
	Type string
}

func (LogEffect) effect()        {}
func (SetConfigEffect) effect()  {}
func (RunCommandEffect) effect() {}
func (UnknownEffect) effect()    {}

// Effect decodes the action params into its typed variant.
func (a *Action) Effect() Effect {
	switch a.Type {
	case ACTION_LOG:
		return LogEffect{
			Message: a.Params.String("message", ""),
			Level:   strings.ToLower(a.Params.String("level", defaultLogLevel)),
		}
	case ACTION_SET_CONFIG:
		value, _ := a.Params.Get("value")
		return SetConfigEffect{
			Key:   a.Params.String("key", ""),
			Value: value,
		}
	case ACTION_RUN_COMMAND:
		return RunCommandEffect{
			Command: a.Params.String("command", ""),
		}
	}
	return UnknownEffect{Type: a.Type}
}
