package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonwalker/tuner/pkg/parse"
	"github.com/moonwalker/tuner/pkg/rules"
	"github.com/moonwalker/tuner/pkg/rules/repo"
)

const (
	CmdReload = "rules.reload"
	CmdStop   = "rules.stop"
	CmdResume = "rules.resume"

	// LevelCritical sits above slog.LevelError.
	LevelCritical = slog.Level(12)
)

var (
	CommandTopics = map[string]bool{
		CmdReload: true,
		CmdStop:   true,
		CmdResume: true,
	}

	ErrUnknownCommand = errors.New("unknown command")
)

// RuleSource hands the engine a snapshot of the enabled rules.
type RuleSource interface {
	Enabled() []*rules.Rule
}

// Reloader is implemented by rule sources that can reload themselves.
type Reloader interface {
	Reload(ctx context.Context) repo.LoadStats
}

type Engine struct {
	sync.Mutex
	logger   *slog.Logger
	source   RuleSource
	enabled  bool
	onStats  func(*EngineStats)
	newID    func() string
	lastRun  *rules.Report
	runs     int64
	Commands chan string
	done     chan struct{}
	closed   sync.Once
}

type EngineStats struct {
	EngineEnabled   bool   `json:"engineEnabled"`
	RulesLoaded     int    `json:"rulesLoaded"`
	Runs            int64  `json:"runs"`
	LastRunID       string `json:"lastRunId,omitempty"`
	LastRunRules    int    `json:"lastRunRules"`
	LastRunDuration string `json:"lastRunDuration,omitempty"`
}

type Option func(*Engine)

// WithIDFunc sets how report ids are generated, uuids by default.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

func New(source RuleSource, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:   logger,
		source:   source,
		enabled:  true,
		newID:    uuid.NewString,
		Commands: make(chan string),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.commandsLoop()
	return e
}

// Close stops the commands loop and the stats ticker.
func (e *Engine) Close() {
	e.closed.Do(func() {
		close(e.done)
	})
}

func (e *Engine) OnStats(interval time.Duration, fn func(stats *EngineStats)) {
	e.Lock()
	e.onStats = fn
	e.Unlock()

	e.emitStats()                      // emit first immediately
	ticker := time.NewTicker(interval) // then emit every interval
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.emitStats()
			case <-e.done:
				return
			}
		}
	}()
}

func (e *Engine) Stats() *EngineStats {
	e.Lock()
	defer e.Unlock()

	stats := &EngineStats{
		EngineEnabled: e.enabled,
		RulesLoaded:   len(e.source.Enabled()),
		Runs:          e.runs,
	}
	if e.lastRun != nil {
		stats.LastRunID = e.lastRun.ID
		stats.LastRunRules = e.lastRun.Len()
		stats.LastRunDuration = e.lastRun.Duration.String()
	}
	return stats
}

func (e *Engine) Enabled() bool {
	e.Lock()
	defer e.Unlock()
	return e.enabled
}

// Command runs one of the engine commands: reload, stop or resume.
func (e *Engine) Command(cmd string) error {
	switch cmd {
	// reload rules from the source
	case CmdReload:
		if r, ok := e.source.(Reloader); ok {
			stats := r.Reload(context.Background())
			e.logger.Info("rules reloaded", "rules", stats.Rules, "skipped", stats.SourcesSkipped)
		}
	// disable rules processing
	case CmdStop:
		e.Lock()
		e.enabled = false
		e.Unlock()
		e.logger.Info("rules processing stopped")
	// enable rules processing
	case CmdResume:
		e.Lock()
		e.enabled = true
		e.Unlock()
		e.logger.Info("rules processing resumed")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	e.emitStats()
	return nil
}

// Process evaluates every enabled rule against ctx, highest priority
// first. Rules with the same priority keep their load order.
func (e *Engine) Process(ctx rules.Context) *rules.Report {
	return e.ProcessContext(context.Background(), ctx)
}

// ProcessContext is Process that stops before the next rule once stdctx
// is done. Results gathered so far are returned.
func (e *Engine) ProcessContext(stdctx context.Context, ctx rules.Context) *rules.Report {
	report := rules.NewReport(e.newID())
	start := time.Now()

	if !e.Enabled() {
		e.logger.Warn("rules processing disabled, nothing evaluated", "report", report.ID)
		return report
	}

	// stable sort over the snapshot keeps load order for equal priorities
	snapshot := slices.Clone(e.source.Enabled())
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Priority > snapshot[j].Priority
	})

	for _, rule := range snapshot {
		if err := stdctx.Err(); err != nil {
			e.logger.Warn("rules processing cancelled", "report", report.ID, "err", err)
			break
		}
		if rule == nil || !rule.Enabled {
			continue
		}
		if res, matched := e.processRule(rule, ctx); matched {
			report.Add(rule.ID, res)
		}
	}

	report.Duration = time.Since(start)

	e.Lock()
	e.lastRun = report
	e.runs++
	e.Unlock()

	e.logger.Debug("rules processed", "report", report.ID, "matched", report.Len(), "took", report.Duration.String())
	return report
}

func (e *Engine) processRule(rule *rules.Rule, ctx rules.Context) (res *rules.RuleResult, matched bool) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%w: %v", rules.ErrEvaluation, p)
			e.logger.Error("rule failed", "id", rule.ID, "err", err)
			res, matched = &rules.RuleResult{Name: rule.Name, Error: err}, true
		}
	}()

	ok, err := e.EvaluateConditions(rule, ctx)
	if err != nil {
		e.logger.Error("rule failed", "id", rule.ID, "err", err)
		return &rules.RuleResult{Name: rule.Name, Error: err}, true
	}
	if !ok {
		e.logger.Debug("rule conditions not met", "id", rule.ID)
		return nil, false
	}

	e.logger.Info("executing rule", "id", rule.ID, "name", rule.Name)
	return e.ExecuteActions(rule, ctx), true
}

// EvaluateConditions reports whether every condition of rule holds in ctx.
// A key missing from ctx only matches an expected nil, numbers compare
// by value whatever their kind.
func (e *Engine) EvaluateConditions(rule *rules.Rule, ctx rules.Context) (bool, error) {
	for _, c := range rule.Conditions {
		if !parse.IsScalar(c.Value) {
			return false, &rules.EvaluationError{
				RuleID: rule.ID,
				Key:    c.Key,
				Reason: fmt.Sprintf("expected value must be a scalar, got %T", c.Value),
			}
		}

		actual, present := ctx.Get(c.Key)
		if c.Value == nil {
			if present && actual != nil {
				return false, nil
			}
			continue
		}
		if !present || !parse.Equal(actual, c.Value) {
			return false, nil
		}
	}
	return true, nil
}

// ExecuteActions runs the actions of rule in order. A failing action is
// recorded as an error outcome and the next action still runs.
func (e *Engine) ExecuteActions(rule *rules.Rule, ctx rules.Context) *rules.RuleResult {
	res := &rules.RuleResult{
		Name:     rule.Name,
		Outcomes: make([]*rules.Outcome, 0, len(rule.Actions)),
	}
	for _, a := range rule.Actions {
		res.Outcomes = append(res.Outcomes, e.executeAction(rule.ID, a, ctx))
	}
	return res
}

func (e *Engine) executeAction(ruleID string, a *rules.Action, ctx rules.Context) (out *rules.Outcome) {
	if a == nil {
		return failed("", errors.New("empty action"))
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("action panicked", "rule", ruleID, "type", a.Type, "panic", p)
			out = failed(a.Type, fmt.Errorf("%v", p))
		}
	}()

	switch eff := a.Effect().(type) {
	case rules.LogEffect:
		msg, err := rules.Format(eff.Message, ctx)
		if err != nil {
			e.logger.Error("log action failed", "rule", ruleID, "err", err)
			return failed(a.Type, err)
		}
		level, ok := ParseLevel(eff.Level)
		if !ok {
			err := fmt.Errorf("%w: %q", rules.ErrLogLevel, eff.Level)
			e.logger.Error("log action failed", "rule", ruleID, "err", err)
			return failed(a.Type, err)
		}
		e.logger.Log(context.Background(), level, msg, "rule", ruleID)
		return &rules.Outcome{Type: a.Type, Status: rules.StatusSuccess, Message: msg}

	case rules.SetConfigEffect:
		e.logger.Info("config change requested", "rule", ruleID, "key", eff.Key, "value", eff.Value)
		return &rules.Outcome{Type: a.Type, Status: rules.StatusSuccess, Key: eff.Key, Value: eff.Value}

	case rules.RunCommandEffect:
		cmd, err := rules.Format(eff.Command, ctx)
		if err != nil {
			e.logger.Error("run_command action failed", "rule", ruleID, "err", err)
			return failed(a.Type, err)
		}
		e.logger.Warn("command simulated, not executed", "rule", ruleID, "command", cmd)
		return &rules.Outcome{Type: a.Type, Status: rules.StatusSimulated, Command: cmd}

	case rules.UnknownEffect:
		e.logger.Warn("unknown action type", "rule", ruleID, "type", eff.Type)
		return failed(a.Type, fmt.Errorf("%w: %s", rules.ErrUnknownAction, eff.Type))
	}

	return failed(a.Type, fmt.Errorf("%w: %s", rules.ErrUnknownAction, a.Type))
}

func failed(actionType string, err error) *rules.Outcome {
	return &rules.Outcome{Type: actionType, Status: rules.StatusError, Message: err.Error()}
}

// ParseLevel maps a log action level to a slog level.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "critical", "fatal":
		return LevelCritical, true
	}
	return slog.LevelInfo, false
}

func (e *Engine) emitStats() {
	e.Lock()
	fn := e.onStats
	e.Unlock()
	if fn != nil {
		fn(e.Stats())
	}
}

func (e *Engine) commandsLoop() {
	// commands
	for {
		select {
		case cmd := <-e.Commands:
			if err := e.Command(cmd); err != nil {
				e.logger.Warn("ignoring command", "err", err)
			}
		case <-e.done:
			return
		}
	}
}
