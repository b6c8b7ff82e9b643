package session

import (
	"fmt"
	"sync"
	"time"
)

// LineKind classifies a console line.
type LineKind uint8

const (
	// LineText is data received from the peer.
	LineText LineKind = iota
	// LineInfo is a status message.
	LineInfo
	// LineError is a failure.
	LineError
)

func (k LineKind) String() string {
	switch k {
	case LineText:
		return "text"
	case LineInfo:
		return "info"
	case LineError:
		return "error"
	default:
		return fmt.Sprintf("LineKind(%d)", uint8(k))
	}
}

// Console receives the output of one session. Implementations must be safe
// for concurrent use; sessions write from their I/O goroutines.
type Console interface {
	AddText(s string)
	AddInfo(s string)
	AddError(s string)
}

// ConsoleFactory creates the console for a new session.
type ConsoleFactory func(title string) Console

// Line is one console entry.
type Line struct {
	Kind LineKind
	Text string
	Time time.Time
}

// Buffer is a Console that keeps lines in memory.
type Buffer struct {
	mu    sync.Mutex
	lines []Line
	clock TimeProvider
}

// NewBuffer returns an empty buffer stamping lines with tp, or with the
// system clock if tp is nil.
func NewBuffer(tp TimeProvider) *Buffer {
	return &Buffer{clock: getTimeProvider(tp)}
}

func (b *Buffer) add(kind LineKind, s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, Line{Kind: kind, Text: s, Time: b.clock.Now()})
}

// AddText appends received data.
func (b *Buffer) AddText(s string) { b.add(LineText, s) }

// AddInfo appends a status message.
func (b *Buffer) AddInfo(s string) { b.add(LineInfo, s) }

// AddError appends an error message.
func (b *Buffer) AddError(s string) { b.add(LineError, s) }

// Lines returns a copy of every line so far.
func (b *Buffer) Lines() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Line(nil), b.lines...)
}

// Drain returns the buffered lines and clears the buffer.
func (b *Buffer) Drain() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines
	b.lines = nil
	return lines
}
