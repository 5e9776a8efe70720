// Package console renders chat traffic as plain terminal lines.
package console

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultCoalesceWindow is how long a received text line waits for an
// image that belongs to it.
const DefaultCoalesceWindow = 300 * time.Millisecond

// Sink receives every printed line, e.g. a chatlog.TextLog.
type Sink interface {
	Write(at time.Time, line string) error
}

// Presenter prints received text and images. A text line followed by an
// image within the coalesce window is printed as one entry.
type Presenter struct {
	mu     sync.Mutex
	out    io.Writer
	sink   Sink
	window time.Duration

	pending   string
	pendingAt time.Time
	timer     *time.Timer
	gen       uint64
}

// NewPresenter writes to out and mirrors every line to sink when non-nil.
func NewPresenter(out io.Writer, sink Sink, window time.Duration) *Presenter {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Presenter{out: out, sink: sink, window: window}
}

// Text shows a received chat line once the coalesce window passes or an
// image arrives.
func (p *Presenter) Text(at time.Time, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.flushLocked()
	p.pending = strings.TrimRight(string(payload), "\n")
	p.pendingAt = at
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.window, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen == gen {
			p.flushLocked()
		}
	})
}

// Image shows a received image. from labels it when no text line is
// waiting to be shown with it.
func (p *Presenter) Image(at time.Time, from string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	desc := Describe(data)
	if p.pending != "" {
		text, textAt := p.pending, p.pendingAt
		p.clearLocked()
		p.emitLocked(textAt, text+"\n    "+desc)
		return
	}
	p.emitLocked(at, from+": "+desc)
}

// Outgoing shows something this side sent; it never waits.
func (p *Presenter) Outgoing(at time.Time, line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
	p.emitLocked(at, strings.TrimRight(line, "\n"))
}

// System shows a status message.
func (p *Presenter) System(at time.Time, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
	p.emitLocked(at, "* "+fmt.Sprintf(format, args...))
}

// Flush prints a waiting text line now.
func (p *Presenter) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
}

func (p *Presenter) flushLocked() {
	if p.pending == "" {
		return
	}
	text, at := p.pending, p.pendingAt
	p.clearLocked()
	p.emitLocked(at, text)
}

func (p *Presenter) clearLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.pending = ""
}

func (p *Presenter) emitLocked(at time.Time, line string) {
	fmt.Fprintf(p.out, "[%s] %s\n", at.Format("15:04:05"), line)
	if p.sink != nil {
		_ = p.sink.Write(at, line)
	}
}

// Describe summarizes image bytes as "[image image/png 640x480, 1234 bytes]".
func Describe(data []byte) string {
	kind := http.DetectContentType(data)
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return fmt.Sprintf("[image %s %dx%d, %d bytes]", kind, cfg.Width, cfg.Height, len(data))
	}
	return fmt.Sprintf("[image %s, %d bytes]", kind, len(data))
}
