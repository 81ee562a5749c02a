package rules

import (
	"bytes"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusSimulated Status = "simulated"
)

// Outcome is the result of one action.
type Outcome struct {
	Type    string      `json:"-"`
	Status  Status      `json:"status"`
	Message string      `json:"message,omitempty"`
	Key     string      `json:"key,omitempty"`
	Value   interface{} `json:"value,omitempty"`
	Command string      `json:"command,omitempty"`
}

func (o *Outcome) Failed() bool {
	return o.Status == StatusError
}

// MarshalJSON writes the fields that belong to the action type. A log
// outcome always carries its message, even when it rendered empty, and a
// set_config outcome always carries its value, even when it is zero.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	switch {
	case o.Status == StatusError:
		return json.Marshal(struct {
			Status  Status `json:"status"`
			Message string `json:"message"`
		}{o.Status, o.Message})
	case o.Type == ACTION_LOG:
		return json.Marshal(struct {
			Status  Status `json:"status"`
			Message string `json:"message"`
		}{o.Status, o.Message})
	case o.Type == ACTION_SET_CONFIG:
		return json.Marshal(struct {
			Status Status      `json:"status"`
			Key    string      `json:"key"`
			Value  interface{} `json:"value"`
		}{o.Status, o.Key, o.Value})
	case o.Type == ACTION_RUN_COMMAND:
		return json.Marshal(struct {
			Status  Status `json:"status"`
			Command string `json:"command"`
		}{o.Status, o.Command})
	}
	type plain Outcome
	return json.Marshal((*plain)(o))
}

// RuleResult is what one matched (or failed) rule produced during a pass.
type RuleResult struct {
	Name     string
	Outcomes []*Outcome
	Error    error
}

// Actions returns the outcomes keyed by action type. When a rule declares
// the same type more than once the last outcome wins.
func (r *RuleResult) Actions() map[string]*Outcome {
	m := make(map[string]*Outcome, len(r.Outcomes))
	for _, o := range r.Outcomes {
		m[o.Type] = o
	}
	return m
}

func (r *RuleResult) Action(actionType string) *Outcome {
	var res *Outcome
	for _, o := range r.Outcomes {
		if o.Type == actionType {
			res = o
		}
	}
	return res
}

func (r *RuleResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	name, err := json.Marshal(r.Name)
	if err != nil {
		return nil, err
	}
	buf.Write(name)

	if r.Error != nil {
		msg, err := json.Marshal(r.Error.Error())
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"error":`)
		buf.Write(msg)
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}

	// keyed by type, ordered by first appearance
	actions := r.Actions()
	order := make([]string, 0, len(actions))
	seen := make(map[string]struct{}, len(actions))
	for _, o := range r.Outcomes {
		if _, ok := seen[o.Type]; !ok {
			seen[o.Type] = struct{}{}
			order = append(order, o.Type)
		}
	}
	buf.WriteString(`,"actions":{`)
	for i, t := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKeyValue(&buf, t, actions[t]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// Report aggregates one evaluation pass, keyed by rule id.
// Order holds the ids in the order the rules were evaluated.
type Report struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Order    []string
	Results  map[string]*RuleResult
}

func NewReport(id string) *Report {
	return &Report{
		ID:      id,
		Started: time.Now().UTC(),
		Results: make(map[string]*RuleResult),
	}
}

// Add records a rule result. Adding an id twice keeps its first position.
func (r *Report) Add(id string, res *RuleResult) {
	if _, ok := r.Results[id]; !ok {
		r.Order = append(r.Order, id)
	}
	r.Results[id] = res
}

func (r *Report) Get(id string) (*RuleResult, bool) {
	res, ok := r.Results[id]
	return res, ok
}

func (r *Report) Len() int {
	return len(r.Results)
}

// Each walks the results in evaluation order.
func (r *Report) Each(fn func(id string, res *RuleResult)) {
	for _, id := range r.Order {
		fn(id, r.Results[id])
	}
}

func (r *Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeKeyValue(&buf, "id", r.ID); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	if err := writeKeyValue(&buf, "started", r.Started); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	if err := writeKeyValue(&buf, "duration", r.Duration.String()); err != nil {
		return nil, err
	}
	buf.WriteString(`,"results":{`)
	for i, id := range r.Order {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKeyValue(&buf, id, r.Results[id]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}
