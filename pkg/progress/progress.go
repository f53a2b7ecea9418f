// Package progress reports the advance of maintenance operations such as
// gc over a set of transcripts.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// Callback receives one update per processed item.
type Callback func(op string, current, total int, item string)

// Noop discards updates.
func Noop(op string, current, total int, item string) {}

// Progress counts processed items and forwards each step to a Callback.
type Progress struct {
	Op      string
	Total   int
	current int
	cb      Callback
}

// New creates a tracker for total items. A nil cb selects Noop.
func New(op string, total int, cb Callback) *Progress {
	if cb == nil {
		cb = Noop
	}
	return &Progress{Op: op, Total: total, cb: cb}
}

// Step records one processed item.
func (p *Progress) Step(item string) {
	p.current++
	p.cb(p.Op, p.current, p.Total, item)
}

// Current returns the number of processed items.
func (p *Progress) Current() int {
	return p.current
}

const barWidth = 30

// Terminal renders updates as a single self-overwriting line.
type Terminal struct {
	w           io.Writer
	lastLineLen atomic.Int64
	enabled     atomic.Bool
}

// NewTerminal creates a progress line on w. A disabled Terminal prints
// nothing.
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	t := &Terminal{w: w}
	t.enabled.Store(enabled)
	return t
}

// Callback returns a Callback that draws on t.
func (t *Terminal) Callback() Callback {
	return func(op string, current, total int, item string) {
		if !t.enabled.Load() {
			return
		}
		t.render(op, current, total, item)
	}
}

func (t *Terminal) render(op string, current, total int, item string) {
	if total <= 0 {
		total = 1
	}
	if current > total {
		current = total
	}
	filled := barWidth * current / total
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	clear := "\r"
	if n := t.lastLineLen.Load(); n > 0 {
		clear = "\r" + strings.Repeat(" ", int(n)) + "\r"
	}

	line := fmt.Sprintf("%s [%s] %d/%d (%.0f%%)", op, bar, current, total, float64(current)/float64(total)*100)
	if item != "" {
		line += " " + item
	}
	fmt.Fprint(t.w, clear+line)
	t.lastLineLen.Store(int64(len(line)))
}

// Done ends the progress line.
func (t *Terminal) Done() {
	if !t.enabled.Load() || t.lastLineLen.Load() == 0 {
		return
	}
	fmt.Fprintln(t.w)
}

// SetEnabled turns drawing on or off.
func (t *Terminal) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}
