// Package chaos runs hypothesis-driven experiments against a live
// bookhold API: a steady state is checked, faults or load are injected,
// metrics are sampled while the system settles, and assertions decide
// whether the hypothesis held.
package chaos

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is a fault injection, load burst or recovery step.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion validates the last observation of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Failed           []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Metric    string    `json:"metric"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// ErrSteadyState aborts an experiment before any fault is injected.
var ErrSteadyState = errors.New("steady state invalid - aborting experiment")

type Options struct {
	// SampleInterval is how often metrics are read while observing.
	SampleInterval time.Duration
	// Pause separates the experiments of a game day.
	Pause time.Duration
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer   trace.Tracer
	log      *slog.Logger
	interval time.Duration
	pause    time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(log *slog.Logger, opts Options) *Engine {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	return &Engine{
		tracer:   otel.Tracer("bookhold/chaos"),
		log:      log,
		interval: opts.SampleInterval,
		pause:    opts.Pause,
	}
}

func (e *Engine) Register(exps ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exps...)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes a single experiment.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.steadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyState
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(context.WithoutCancel(ctx)); err != nil {
			span.RecordError(err)
			e.log.WarnContext(ctx, "rollback failed", "experiment", exp.Name, "target", action.Target, "error", err)
		}
	}

	span.AddEvent("validating_assertions")
	result.Failed = failedAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.Failed) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// observe samples every steady-state metric until exp.Duration elapses.
// At least one sample is always taken.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	deadline := time.NewTimer(exp.Duration)
	defer deadline.Stop()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var violatedAt time.Time
	recovered := false
	sample := func() {
		now := time.Now()
		for _, m := range exp.SteadyState {
			value, err := m.Query(ctx)
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: now, Error: err.Error(), Component: m.Name})
				continue
			}
			result.Observations[m.Name] = append(result.Observations[m.Name], DataPoint{Timestamp: now, Value: value})

			if !m.Threshold.Holds(value) {
				if violatedAt.IsZero() {
					violatedAt = now
				}
				result.Violations = append(result.Violations, Violation{
					Metric:    m.Name,
					Expected:  m.Threshold.Value,
					Actual:    value,
					Timestamp: now,
				})
			} else if !violatedAt.IsZero() && !recovered {
				mttr := now.Sub(violatedAt)
				result.MTTR = &mttr
				recovered = true
			}
		}
	}

	sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (e *Engine) steadyState(ctx context.Context, metrics []Metric) []Violation {
	var violations []Violation
	for _, m := range metrics {
		value, err := m.Query(ctx)
		if err != nil {
			value = -1
		}
		if err != nil || !m.Threshold.Holds(value) {
			violations = append(violations, Violation{
				Metric:    m.Name,
				Expected:  m.Threshold.Value,
				Actual:    value,
				Timestamp: time.Now(),
			})
		}
	}
	return violations
}

func failedAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		obs := result.Observations[a.Metric]
		if len(obs) == 0 || !a.Condition(obs[len(obs)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay is a named series of experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
}

// ExecuteGameDay runs every scenario in order and reports whether all
// hypotheses held.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)))
	defer span.End()

	e.log.InfoContext(ctx, "starting game day", "name", day.Name, "date", day.Date, "scenarios", len(day.Scenarios))

	allHeld := true
	for i, scenario := range day.Scenarios {
		if i > 0 && e.pause > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(e.pause):
			}
		}

		e.log.InfoContext(ctx, "running experiment",
			"n", i+1, "of", len(day.Scenarios), "experiment", scenario.Name, "hypothesis", scenario.Hypothesis)

		result, err := e.Run(ctx, scenario)
		if err != nil {
			allHeld = false
			e.log.ErrorContext(ctx, "experiment failed", "experiment", scenario.Name, "error", err)
			continue
		}
		e.report(ctx, result)
		allHeld = allHeld && result.HypothesisHeld
	}
	return allHeld, nil
}

func (e *Engine) report(ctx context.Context, r *Result) {
	attrs := []any{
		"experiment", r.Experiment,
		"hypothesis_held", r.HypothesisHeld,
		"violations", len(r.Violations),
		"errors", len(r.ErrorEvents),
		"duration", r.Duration,
	}
	if r.MTTR != nil {
		attrs = append(attrs, "mttr", *r.MTTR)
	}
	if r.HypothesisHeld {
		e.log.InfoContext(ctx, "hypothesis held", attrs...)
		return
	}
	for _, msg := range r.Failed {
		e.log.WarnContext(ctx, "assertion failed", "experiment", r.Experiment, "assertion", msg)
	}
	e.log.WarnContext(ctx, "hypothesis violated", attrs...)
}
