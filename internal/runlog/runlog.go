// Package runlog records the human-readable log and the stage events of a
// single research request.
package runlog

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink receives log lines. Pipeline stages only write; presentation reads
// from whatever concrete sink the caller supplied.
type Sink interface {
	Write(line string)
}

// EventKind names a structured stage event.
type EventKind string

const (
	StageStarted   EventKind = "stage_started"
	StageCompleted EventKind = "stage_completed"
	StageFailed    EventKind = "stage_failed"
)

// Stage names emitted by the pipeline.
const (
	StagePlanner     = "planner"
	StageRetriever   = "retriever"
	StageScraper     = "scraper"
	StageEvaluator   = "evaluator"
	StageChunker     = "chunker"
	StageSynthesizer = "synthesizer"
	StageDocument    = "document_loader"
)

// Event is a structured stage transition.
type Event struct {
	Kind     EventKind     `json:"kind"`
	Stage    string        `json:"stage"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      string        `json:"error,omitempty"`
}

// EventSink receives stage events.
type EventSink interface {
	Emit(e Event)
}

// Log is an in-memory Sink and EventSink scoped to one request.
type Log struct {
	mu     sync.Mutex
	lines  []string
	events []Event
}

// New returns an empty Log.
func New() *Log {
	return &Log{}
}

// Write appends a line.
func (l *Log) Write(line string) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

// Emit appends a stage event.
func (l *Log) Emit(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

// Lines returns a copy of the recorded lines.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Events returns a copy of the recorded events.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// String joins the recorded lines with newlines.
func (l *Log) String() string {
	return strings.Join(l.Lines(), "\n")
}

// Completed returns the set of stages that emitted StageCompleted.
func (l *Log) Completed() map[string]bool {
	done := make(map[string]bool)
	for _, e := range l.Events() {
		if e.Kind == StageCompleted {
			done[e.Stage] = true
		}
	}
	return done
}

// Zap mirrors log lines to the global zap logger at debug level.
type Zap struct {
	Fields []zap.Field
}

// Write logs the line.
func (z Zap) Write(line string) {
	zap.L().Debug(line, z.Fields...)
}

// Emit logs the event.
func (z Zap) Emit(e Event) {
	fields := append([]zap.Field{
		zap.String("event", string(e.Kind)),
		zap.String("stage", e.Stage),
	}, z.Fields...)
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Err != "" {
		fields = append(fields, zap.String("error", e.Err))
	}
	zap.L().Debug("runlog: stage event", fields...)
}

// Multi fans writes out to several sinks. Sinks that also implement
// EventSink receive events.
type Multi []Sink

// Write forwards the line to every sink.
func (m Multi) Write(line string) {
	for _, s := range m {
		s.Write(line)
	}
}

// Emit forwards the event to every sink that accepts events.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if es, ok := s.(EventSink); ok {
			es.Emit(e)
		}
	}
}

// Discard drops everything written to it.
type Discard struct{}

// Write does nothing.
func (Discard) Write(string) {}

// Events returns the EventSink side of s, or a no-op sink.
func Events(s Sink) EventSink {
	if es, ok := s.(EventSink); ok {
		return es
	}
	return noEvents{}
}

type noEvents struct{}

func (noEvents) Emit(Event) {}
