package process

import (
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func collect(t *testing.T, m *Multiplexer) []Line {
	t.Helper()
	var out []Line
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-m.Lines():
			if !ok {
				return out
			}
			out = append(out, line)
		case <-timeout:
			t.Fatal("multiplexer did not close its channel")
			return nil
		}
	}
}

func TestMultiplexer_PreservesPerStreamOrder(t *testing.T) {
	stdout := strings.NewReader("a1\na2\na3\na4\n")
	stderr := strings.NewReader("b1\nb2\n")

	m := NewMultiplexer(
		NewPipeReader(StreamStdout, stdout),
		NewPipeReader(StreamStderr, stderr),
	)
	m.Start()
	lines := collect(t, m)

	var gotOut, gotErr []string
	for _, l := range lines {
		switch l.Stream {
		case StreamStdout:
			gotOut = append(gotOut, l.Text)
		case StreamStderr:
			gotErr = append(gotErr, l.Text)
		}
	}

	if want := []string{"a1", "a2", "a3", "a4"}; !equalStrings(gotOut, want) {
		t.Errorf("stdout = %v, want %v", gotOut, want)
	}
	if want := []string{"b1", "b2"}; !equalStrings(gotErr, want) {
		t.Errorf("stderr = %v, want %v", gotErr, want)
	}

	bytesRead, linesRead := m.Stats()
	if linesRead != 6 {
		t.Errorf("linesRead = %d, want 6", linesRead)
	}
	if bytesRead != int64(len("a1\na2\na3\na4\nb1\nb2\n")) {
		t.Errorf("bytesRead = %d", bytesRead)
	}
}

func TestMultiplexer_NoSources(t *testing.T) {
	m := NewMultiplexer()
	m.Start()
	if lines := collect(t, m); len(lines) != 0 {
		t.Errorf("got %d lines, want 0", len(lines))
	}
}

func TestMultiplexer_StopUnblocksSenders(t *testing.T) {
	pr, pw := io.Pipe()
	m := NewMultiplexer(NewPipeReader(StreamStdout, pr))
	m.Start()

	go func() {
		_, _ = pw.Write([]byte("one\ntwo\nthree\n"))
	}()

	// Consume one line, then stop without draining the rest.
	select {
	case <-m.Lines():
	case <-time.After(5 * time.Second):
		t.Fatal("no line received")
	}

	m.Stop()
	pw.Close()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("source goroutine leaked after Stop")
	}

	// Stop is idempotent.
	m.Stop()
}

func TestPipeReader_LongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	m := NewMultiplexer(NewPipeReader(StreamStderr, strings.NewReader(long+"\nshort\n")))
	m.Start()

	lines := collect(t, m)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if len(lines[0].Text) != len(long) {
		t.Errorf("long line length = %d, want %d", len(lines[0].Text), len(long))
	}
	if lines[1].Text != "short" {
		t.Errorf("second line = %q, want short", lines[1].Text)
	}
}

func TestPipeReader_NoTrailingNewline(t *testing.T) {
	m := NewMultiplexer(NewPipeReader(StreamStdout, strings.NewReader("partial")))
	m.Start()

	lines := collect(t, m)
	if len(lines) != 1 || lines[0].Text != "partial" {
		t.Errorf("lines = %+v, want [partial]", lines)
	}
}

func TestPipeReader_LineOverLimitKeepsDraining(t *testing.T) {
	huge := strings.Repeat("x", 2*maxLineSize)
	input := huge + "\nafter\ntail"
	src := NewPipeReader(StreamStdout, strings.NewReader(input))
	m := NewMultiplexer(src)
	m.Start()

	lines := collect(t, m)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if !lines[0].Truncated || len(lines[0].Text) != maxLineSize {
		t.Errorf("first line: truncated=%v len=%d, want truncated len=%d",
			lines[0].Truncated, len(lines[0].Text), maxLineSize)
	}
	if lines[1].Text != "after" || lines[1].Truncated {
		t.Errorf("second line = %+v, want after", lines[1])
	}
	if lines[2].Text != "tail" {
		t.Errorf("third line = %q, want tail", lines[2].Text)
	}
	if n := src.LinesTooLong(); n != 1 {
		t.Errorf("LinesTooLong() = %d, want 1", n)
	}
	if bytesRead, _ := src.Stats(); bytesRead != int64(len(input)) {
		t.Errorf("bytesRead = %d, want %d", bytesRead, len(input))
	}
}

func TestPipeReader_LineAtLimitIsKept(t *testing.T) {
	exact := strings.Repeat("y", maxLineSize)
	m := NewMultiplexer(NewPipeReader(StreamStderr, strings.NewReader(exact+"\r\nnext\n")))
	m.Start()

	lines := collect(t, m)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Truncated || lines[0].Text != exact {
		t.Errorf("line at limit: truncated=%v len=%d", lines[0].Truncated, len(lines[0].Text))
	}
	if lines[1].Text != "next" {
		t.Errorf("second line = %q, want next", lines[1].Text)
	}
}

func TestLineText_TruncatedKeepsWholeRunes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ascii", "abc", "abc"},
		{"complete rune at end", "ab\u00e9", "ab\u00e9"},
		{"cut two-byte rune", "ab" + "\u00e9"[:1], "ab"},
		{"cut three-byte rune", "ab" + "\u20ac"[:2], "ab"},
		{"cut four-byte rune", "ab" + "\U0001F600"[:3], "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lineText([]byte(tt.input), true)
			if got != tt.want {
				t.Errorf("lineText(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("lineText(%q) is not valid UTF-8", tt.input)
			}
		})
	}
}
