package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONEmitter(&buf)

	if err := e.Emit(DownloadProgress, DownloadPayload{Percentage: 42}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if err := e.Emit(Progress, MessagePayload{Message: "checking for gcc... yes"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}

	var first struct {
		Event   string          `json:"event"`
		Payload DownloadPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Event != DownloadProgress || first.Payload.Percentage != 42 {
		t.Errorf("first = %+v", first)
	}
	if !strings.Contains(lines[1], `"message":"checking for gcc... yes"`) {
		t.Errorf("second line = %s", lines[1])
	}
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := NewLogEmitter(logger, slog.LevelInfo)

	if err := e.Emit(TaskState, StatePayload{State: "running"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "name=task_state") {
		t.Errorf("log output missing event name: %s", out)
	}
}

func TestMulti(t *testing.T) {
	var got []string
	record := Func(func(name string, _ any) error {
		got = append(got, name)
		return nil
	})
	boom := errors.New("boom")
	failing := Func(func(string, any) error { return boom })

	m := Multi{record, nil, failing, record}
	err := m.Emit(Progress, MessagePayload{})
	if !errors.Is(err, boom) {
		t.Errorf("Emit() error = %v, want boom", err)
	}
	if len(got) != 2 {
		t.Errorf("recorded %d deliveries, want 2 (failure must not stop fan-out)", len(got))
	}
}

func TestDiscard(t *testing.T) {
	if err := Discard.Emit(Progress, nil); err != nil {
		t.Errorf("Discard.Emit() = %v", err)
	}
}
