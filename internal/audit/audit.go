// Package audit fans domain events out to the hash-chained ledger, the
// process log and live stream subscribers.
package audit

import (
	"context"
	"log/slog"
)

// Event names.
const (
	EventIngest            = "ingest"
	EventDailyRecompute    = "daily_recompute"
	EventRealtimeDecay     = "realtime_decay"
	EventAutoTrigger       = "auto_trigger"
	EventOverdueAutoIgnore = "overdue_auto_ignore"
	EventFeedback          = "feedback"
	EventActionCreated     = "action_created"
	EventActionCompleted   = "action_completed"
	EventActionIgnored     = "action_ignored"
	EventAutoNudgeToggled  = "auto_nudge_toggled"
)

// Sink receives audit events. Emit is called synchronously on the path that
// produced the event; sinks report their own failures.
type Sink interface {
	Emit(ctx context.Context, name string, payload map[string]any)
}

// Func adapts a function to a Sink.
type Func func(ctx context.Context, name string, payload map[string]any)

func (f Func) Emit(ctx context.Context, name string, payload map[string]any) {
	f(ctx, name, payload)
}

// Multi emits to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, name string, payload map[string]any) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, name, payload)
		}
	}
}

// Nop discards events.
var Nop Sink = Func(func(context.Context, string, map[string]any) {})

// Logger writes each event as one structured log line.
type Logger struct {
	Log   *slog.Logger
	Level slog.Level
}

func (l Logger) Emit(ctx context.Context, name string, payload map[string]any) {
	args := make([]any, 0, 2+len(payload)*2)
	args = append(args, "event", name)
	for k, v := range payload {
		args = append(args, k, v)
	}
	l.Log.Log(ctx, l.Level, "audit", args...)
}

// Recorder keeps emitted events in memory. Used by tests.
type Recorder struct {
	Events []Recorded
}

// Recorded is one captured event.
type Recorded struct {
	Name    string
	Payload map[string]any
}

func (r *Recorder) Emit(_ context.Context, name string, payload map[string]any) {
	r.Events = append(r.Events, Recorded{Name: name, Payload: payload})
}

// Count returns how many events named name were recorded.
func (r *Recorder) Count(name string) int {
	n := 0
	for _, e := range r.Events {
		if e.Name == name {
			n++
		}
	}
	return n
}
