package process

import (
	"bufio"
	"bytes"
	"io"
	"sync/atomic"
	"unicode/utf8"
)

// Line is one line read from a child stream.
type Line struct {
	Stream Stream
	Text   string
	// Truncated is set when the line exceeded maxLineSize and its tail was
	// discarded.
	Truncated bool
}

// LineSource produces lines until its input ends or done is closed.
// Run must return promptly once done is closed and the input is unblocked.
type LineSource interface {
	Run(out chan<- Line, done <-chan struct{})
	Stats() (bytesRead, linesRead int64)
}

// Line buffer limits. Compiler output can carry very long lines.
const (
	initialLineSize = 64 * 1024
	maxLineSize     = 1024 * 1024
)

var newline = []byte{'\n'}

// PipeReader reads newline-delimited text from one child stream.
type PipeReader struct {
	stream Stream
	reader io.Reader

	bytesRead    atomic.Int64
	linesRead    atomic.Int64
	linesTooLong atomic.Int64
}

// NewPipeReader creates a line source for r tagged with stream.
func NewPipeReader(stream Stream, r io.Reader) *PipeReader {
	return &PipeReader{stream: stream, reader: r}
}

// Run reads lines until EOF or a read error and sends each on out.
// Lines are sent in the order they were read. A line longer than
// maxLineSize is cut at a rune boundary and the rest of it is read and
// dropped, so the pipe keeps draining.
func (p *PipeReader) Run(out chan<- Line, done <-chan struct{}) {
	br := bufio.NewReaderSize(p.reader, initialLineSize)
	line := make([]byte, 0, initialLineSize)
	truncated := false

	for {
		chunk, err := br.ReadSlice('\n')
		p.bytesRead.Add(int64(len(chunk)))

		if !truncated {
			if room := maxLineSize - len(line); len(bytes.TrimSuffix(chunk, newline)) > room {
				line = append(line, chunk[:room]...)
				truncated = true
			} else {
				line = append(line, chunk...)
			}
		}

		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && len(line) == 0 {
			return
		}

		p.linesRead.Add(1)
		if truncated {
			p.linesTooLong.Add(1)
		}
		select {
		case out <- Line{Stream: p.stream, Text: lineText(line, truncated), Truncated: truncated}:
		case <-done:
			return
		}
		if err != nil {
			return
		}

		line = line[:0]
		truncated = false
	}
}

// lineText strips the line ending and, for a truncated line, any partial
// rune left at the cut.
func lineText(b []byte, truncated bool) string {
	if truncated {
		start := len(b)
		for start > 0 && len(b)-start < utf8.UTFMax {
			start--
			if utf8.RuneStart(b[start]) {
				break
			}
		}
		if !utf8.FullRune(b[start:]) {
			b = b[:start]
		}
		return string(b)
	}
	b = bytes.TrimSuffix(b, newline)
	b = bytes.TrimSuffix(b, []byte{'\r'})
	return string(b)
}

// Stats returns bytes and lines read so far.
func (p *PipeReader) Stats() (bytesRead, linesRead int64) {
	return p.bytesRead.Load(), p.linesRead.Load()
}

// LinesTooLong returns how many lines were truncated.
func (p *PipeReader) LinesTooLong() int64 {
	return p.linesTooLong.Load()
}

var _ LineSource = (*PipeReader)(nil)
