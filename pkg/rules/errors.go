package rules

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("rule not found")
	ErrFormat        = errors.New("format")
	ErrEvaluation    = errors.New("rule evaluation")
	ErrRecord        = errors.New("malformed rule record")
	ErrSourceLoad    = errors.New("source load")
	ErrPersistence   = errors.New("persistence")
	ErrUnknownAction = errors.New("unknown action type")
	ErrLogLevel      = errors.New("unknown log level")
)

// FormatError is returned when a template cannot be rendered
// against a context.
type FormatError struct {
	Key    string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("format: missing key %q", e.Key)
	}
	return fmt.Sprintf("format: %s", e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// EvaluationError is returned when a rule's conditions cannot be evaluated.
type EvaluationError struct {
	RuleID string
	Key    string
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %q: condition %q: %s", e.RuleID, e.Key, e.Reason)
}

func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

// RecordError describes a single record that could not be decoded.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Is(target error) bool {
	return target == ErrRecord
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
