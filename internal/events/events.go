// Package events defines the fire-and-forget notification channel between
// the supervisor and whatever front end is watching it.
//
// Delivery is best-effort: progress is advisory, so callers ignore Emit
// errors after logging them.
package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// Event names delivered to front ends.
const (
	DownloadProgress = "download_progress"
	DownloadFinished = "download_finished"
	Progress         = "progress"
	TaskState        = "task_state"
)

// DownloadPayload accompanies DownloadProgress and DownloadFinished.
type DownloadPayload struct {
	Percentage float64 `json:"percentage"`
}

// MessagePayload accompanies Progress, one per line of build output.
type MessagePayload struct {
	Message string `json:"message"`
}

// StatePayload accompanies TaskState.
type StatePayload struct {
	State string `json:"state"`
}

// Emitter delivers a named event with a flat payload.
type Emitter interface {
	Emit(name string, payload any) error
}

// Envelope is the wire form used by JSON-based sinks.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Func adapts a function to the Emitter interface.
type Func func(name string, payload any) error

// Emit calls f.
func (f Func) Emit(name string, payload any) error {
	return f(name, payload)
}

// Discard drops every event.
var Discard Emitter = Func(func(string, any) error { return nil })

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogEmitter creates an emitter that logs each event at the given level.
func NewLogEmitter(logger *slog.Logger, level slog.Level) *LogEmitter {
	return &LogEmitter{logger: logger, level: level}
}

// Emit logs the event.
func (e *LogEmitter) Emit(name string, payload any) error {
	e.logger.Log(context.Background(), e.level, "event", "name", name, "payload", payload)
	return nil
}

// JSONEmitter writes one JSON envelope per line. Suitable for a host process
// that reads events from our stdout.
type JSONEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONEmitter creates a JSON-lines emitter.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{enc: json.NewEncoder(w)}
}

// Emit encodes the envelope.
func (e *JSONEmitter) Emit(name string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(Envelope{Event: name, Payload: payload})
}

// Multi fans one event out to several emitters. Every emitter is tried;
// the first error is returned.
type Multi []Emitter

// Emit delivers to all emitters.
func (m Multi) Emit(name string, payload any) error {
	var first error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(name, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
