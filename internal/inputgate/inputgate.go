// Package inputgate reads human input from a console without letting an
// absent human stall the caller forever.
package inputgate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// EndMarker terminates a multi-line block.
const EndMarker = "END"

// Gate hands console lines to one foreground waiter at a time.
//
// A single read loop owns the reader and reads one line per request. A line
// goes to whoever is waiting when it arrives. When nobody is waiting, because
// the prompt that asked for it timed out, the line is dropped. A read left
// in flight by a timed-out prompt serves the next prompt instead of
// starting a second read.
type Gate struct {
	in  *bufio.Reader
	out io.Writer

	start sync.Once
	want  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	waiter  chan result
	reading bool
}

type result struct {
	line string
	err  error
}

// New creates a gate reading from r and printing prompts to w.
func New(r io.Reader, w io.Writer) *Gate {
	if w == nil {
		w = io.Discard
	}
	return &Gate{
		in:   bufio.NewReader(r),
		out:  w,
		want: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Prompt prints text and waits at most timeout for one line. It returns the
// trimmed line, or "" on timeout, end of input or context cancellation.
// A non-positive timeout returns "" without reading.
func (g *Gate) Prompt(ctx context.Context, text string, timeout time.Duration) string {
	if text != "" {
		fmt.Fprint(g.out, text)
	}
	if timeout <= 0 || ctx.Err() != nil {
		return ""
	}

	res, ok := g.await(ctx, timeout)
	if !ok {
		if ctx.Err() == nil && !g.closed() {
			fmt.Fprintln(g.out)
			slog.Debug("Console prompt timed out", "timeout", timeout)
		}
		return ""
	}
	if res.err != nil && !errors.Is(res.err, io.EOF) {
		slog.Warn("Console read failed", "error", res.err)
	}
	return res.line
}

// ReadBlock prints text and reads lines until a blank line, a line equal to
// END (any case) or end of input. It blocks without a deadline.
func (g *Gate) ReadBlock(text string) (string, error) {
	if text != "" {
		fmt.Fprintln(g.out, text)
	}

	var lines []string
	eof := false
	for {
		res, ok := g.await(context.Background(), 0)
		if !ok {
			eof = true
			break
		}
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		if strings.EqualFold(res.line, EndMarker) {
			break
		}
		if res.line != "" {
			lines = append(lines, res.line)
		}
		if res.err != nil {
			eof = true
			break
		}
		if res.line == "" {
			break
		}
	}

	if len(lines) == 0 && eof {
		return "", io.EOF
	}
	return strings.Join(lines, "\n"), nil
}

// await registers the caller as the waiter and asks for a line unless a read
// is already in flight. A zero timeout waits until a line or end of input.
// ok is false on timeout, cancellation or when input is exhausted.
func (g *Gate) await(ctx context.Context, timeout time.Duration) (result, bool) {
	if g.closed() {
		return result{}, false
	}
	g.start.Do(func() { go g.readLoop() })

	w := make(chan result, 1)
	g.mu.Lock()
	g.waiter = w
	if !g.reading {
		g.reading = true
		g.want <- struct{}{}
	}
	g.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-w:
		return res, true
	case <-g.done:
		select {
		case res := <-w:
			return res, true
		default:
			return result{}, false
		}
	case <-expired:
	case <-ctx.Done():
	}

	g.mu.Lock()
	if g.waiter == w {
		g.waiter = nil
	}
	g.mu.Unlock()

	// A line handed over at the deadline still belongs to this prompt.
	select {
	case res := <-w:
		if ctx.Err() == nil {
			return res, true
		}
	default:
	}
	return result{}, false
}

func (g *Gate) readLoop() {
	defer close(g.done)

	for range g.want {
		line, err := g.in.ReadString('\n')
		res := result{line: strings.TrimSpace(line), err: err}

		g.mu.Lock()
		g.reading = false
		w := g.waiter
		g.waiter = nil
		g.mu.Unlock()

		if w != nil {
			w <- res
		} else if res.line != "" {
			slog.Debug("Discarding late console input", "input", res.line)
		}

		if err != nil {
			return
		}
	}
}

func (g *Gate) closed() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
