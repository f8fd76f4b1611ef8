package report

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Event string

const (
	EventRunStarted    Event = "run_started"
	EventStepStarted   Event = "step_started"
	EventAttempt       Event = "attempt"
	EventAttemptFailed Event = "attempt_failed"
	EventReload        Event = "reload"
	EventRecovery      Event = "recovery"
	EventStepSucceeded Event = "step_succeeded"
	EventEscalation    Event = "escalation"
	EventRunPaused     Event = "run_paused"
	EventCancelRequest Event = "cancel_requested"
	EventRunCompleted  Event = "run_completed"
	EventRunFailed     Event = "run_failed"
)

// Message is one timestamped transition of a run.
type Message struct {
	Time    time.Time      `json:"time"`
	Level   Level          `json:"level"`
	Event   Event          `json:"event"`
	RunID   string         `json:"runId"`
	Step    string         `json:"step,omitempty"`
	Ordinal int            `json:"ordinal,omitempty"`
	Attempt int            `json:"attempt,omitempty"`
	Text    string         `json:"text"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Sink receives messages. Emit must not block the caller for long and has no
// acknowledgement.
type Sink interface {
	Emit(msg Message)
}

type SinkFunc func(msg Message)

func (f SinkFunc) Emit(msg Message) {
	f(msg)
}

type multi []Sink

func (m multi) Emit(msg Message) {
	for _, s := range m {
		s.Emit(msg)
	}
}

// Multi fans a message out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Discard drops everything.
var Discard Sink = SinkFunc(func(Message) {})

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Emit(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Count returns how many messages carry event.
func (r *Recorder) Count(event Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.Event == event {
			n++
		}
	}
	return n
}

type slogSink struct {
	logger *slog.Logger
}

// NewSlogSink writes messages to a structured logger.
func NewSlogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return slogSink{logger: logger}
}

func (s slogSink) Emit(msg Message) {
	attrs := []slog.Attr{
		slog.String("event", string(msg.Event)),
		slog.String("run_id", msg.RunID),
	}
	if msg.Step != "" {
		attrs = append(attrs, slog.String("step", msg.Step), slog.Int("ordinal", msg.Ordinal))
	}
	if msg.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", msg.Attempt))
	}
	for k, v := range msg.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.LogAttrs(context.Background(), slogLevel(msg.Level), msg.Text, attrs...)
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
