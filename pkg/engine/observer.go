package engine

import (
	"log/slog"
	"time"
)

// EventType classifies run events for filtering and routing.
type EventType string

const (
	EventNodeEnter    EventType = "node_enter"
	EventStepDone     EventType = "step_done"
	EventStepCaptured EventType = "step_captured"
	EventNodeExit     EventType = "node_exit"
	EventEdgeEvaluate EventType = "edge_evaluate"
	EventTransition   EventType = "transition"
	EventRunComplete  EventType = "run_complete"
	EventRunError     EventType = "run_error"
)

// Event is a single observation from a run. Captured step failures are
// reported as EventStepCaptured with the recovered error attached; they
// are observations, not run failures.
type Event struct {
	Type    EventType
	Node    string
	Step    string
	Edge    string
	Elapsed time.Duration
	Err     error
}

// Observer receives events during a run. Single-method design so new
// event types never break existing observers.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// MultiObserver fans out events to multiple observers in order.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(e Event) {
	for _, obs := range m {
		obs.OnEvent(e)
	}
}

// LogObserver writes run events as structured slog lines.
type LogObserver struct {
	Logger *slog.Logger
}

func (o *LogObserver) OnEvent(e Event) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	args := []any{slog.String("event", string(e.Type))}
	if e.Node != "" {
		args = append(args, slog.String("node", e.Node))
	}
	if e.Step != "" {
		args = append(args, slog.String("step", e.Step))
	}
	if e.Edge != "" {
		args = append(args, slog.String("edge", e.Edge))
	}
	if e.Elapsed > 0 {
		args = append(args, slog.Duration("elapsed", e.Elapsed))
	}
	if e.Err != nil {
		args = append(args, slog.String("error", e.Err.Error()))
	}

	switch e.Type {
	case EventRunError:
		logger.Error("run event", args...)
	case EventStepCaptured:
		logger.Warn("run event", args...)
	default:
		logger.Info("run event", args...)
	}
}

func emit(obs Observer, e Event) {
	if obs != nil {
		obs.OnEvent(e)
	}
}
