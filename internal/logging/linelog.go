package logging

import (
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// MaxLineLength is the maximum length of a single stored line before truncation.
	MaxLineLength = 4096

	// DefaultBufferedLines is the ring size when none is given.
	DefaultBufferedLines = 100
)

// LineLog records child output for one task. It keeps the most recent lines
// for failure reports and logs each line at a level derived from its content.
type LineLog struct {
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	count  int
	total  int64
	mu     sync.Mutex
}

// NewLineLog creates a line log holding up to capacity lines.
func NewLineLog(logger *slog.Logger, capacity int, verbose bool) *LineLog {
	if capacity <= 0 {
		capacity = DefaultBufferedLines
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LineLog{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, capacity),
	}
}

// Record stores and logs one line of output from step on stream.
func (l *LineLog) Record(step, stream, line string) {
	if len(line) > MaxLineLength {
		line = truncateLine(line)
	}

	l.mu.Lock()
	l.buffer[l.bufIdx] = line
	l.bufIdx = (l.bufIdx + 1) % len(l.buffer)
	if l.count < len(l.buffer) {
		l.count++
	}
	l.total++
	l.mu.Unlock()

	level := ClassifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !l.verbose && level == slog.LevelDebug {
		return
	}

	l.logger.Log(nil, level, "build_output",
		"step", step,
		"stream", stream,
		"line", line,
	)
}

// truncateLine cuts line to at most MaxLineLength bytes without splitting a
// UTF-8 sequence.
func truncateLine(line string) string {
	cut := MaxLineLength
	for cut > 0 && MaxLineLength-cut < utf8.UTFMax && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "...(truncated)"
}

// ClassifyLine picks a log level for a line of configure or make output.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	// Error patterns
	if strings.Contains(lower, "error:") ||
		strings.Contains(lower, "fatal") ||
		strings.HasPrefix(lower, "make: ***") ||
		strings.Contains(lower, "undefined reference") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "permission denied") {
		return slog.LevelWarn
	}

	// Warning patterns
	if strings.Contains(lower, "warning:") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "deprecated") {
		return slog.LevelWarn
	}

	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (l *LineLog) RecentLines(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.count {
		n = l.count
	}

	size := len(l.buffer)
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.bufIdx - n + i + size) % size
		lines = append(lines, l.buffer[idx])
	}
	return lines
}

// Total returns the number of lines recorded since the last Reset.
func (l *LineLog) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Reset clears the buffer before a new task.
func (l *LineLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.buffer {
		l.buffer[i] = ""
	}
	l.bufIdx = 0
	l.count = 0
	l.total = 0
}

// ErrorPatterns are common build failure markers counted for the exit summary.
var ErrorPatterns = []string{
	"error:",
	"warning:",
	"undefined reference",
	"No such file or directory",
	"make: ***",
	"not found",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (l *LineLog) CountErrors() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range l.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
