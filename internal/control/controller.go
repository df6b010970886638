// Package control turns UI input into servo position writes on the central
// side. Input that arrives faster than the link should carry is dropped, not
// queued; the next slider movement supersedes it anyway.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/chaz8081/ble-servo/internal/ble/protocol"
)

var (
	// ErrThrottled is returned by Apply when a write is dropped by the rate
	// limiter.
	ErrThrottled = errors.New("control: write throttled")
	// ErrNotReady is returned by Apply while the writer reports it cannot
	// accept writes.
	ErrNotReady = errors.New("control: writer not ready")
)

// PositionWriter is the interface the central exposes for position writes.
type PositionWriter interface {
	Write(ctx context.Context, pos protocol.Position) error
}

// readiness is implemented by writers that know whether a write can succeed
// right now, such as the central before discovery completes.
type readiness interface {
	Ready() bool
}

// Options configures write throttling.
type Options struct {
	MaxPerSecond float64 // <= 0 disables throttling
	Burst        int
}

// Controller forwards positions to a PositionWriter.
type Controller struct {
	writer  PositionWriter
	limiter *rate.Limiter

	mu      sync.Mutex
	last    protocol.Position
	hasLast bool
}

// NewController creates a Controller writing through w.
// Panics if w is nil (programmer error).
func NewController(w PositionWriter, opts Options) *Controller {
	if w == nil {
		panic("control: NewController called with nil writer")
	}
	limit := rate.Inf
	if opts.MaxPerSecond > 0 {
		limit = rate.Limit(opts.MaxPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	return &Controller{writer: w, limiter: rate.NewLimiter(limit, burst)}
}

// Apply encodes fraction and writes it. A position equal to the last one
// written is skipped. A writer that is not ready is checked before the rate
// limiter, so input dropped while connecting does not use up a token. A
// write that fails after passing the limiter still counts against it.
func (c *Controller) Apply(ctx context.Context, fraction float64) error {
	pos := protocol.Encode(fraction)

	c.mu.Lock()
	unchanged := c.hasLast && c.last == pos
	c.mu.Unlock()
	if unchanged {
		return nil
	}

	if r, ok := c.writer.(readiness); ok && !r.Ready() {
		return ErrNotReady
	}
	if !c.limiter.Allow() {
		return ErrThrottled
	}
	if err := c.writer.Write(ctx, pos); err != nil {
		return err
	}

	c.mu.Lock()
	c.last = pos
	c.hasLast = true
	c.mu.Unlock()
	slog.Debug("[CTRL] position applied", "position", pos)
	return nil
}

// Forget clears the last written position so the next Apply always writes.
// Call it after reconnecting, since the peripheral may have restarted.
func (c *Controller) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasLast = false
}

// Run reads one position per line from r until EOF or ctx is done. Lines
// hold a fraction ("0.25") or a percentage ("25%"). Unparsable lines and
// failed writes are logged and skipped.
func (c *Controller) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fraction, err := ParseFraction(line)
		if err != nil {
			slog.Warn("[CTRL] skipping input", "line", line, "error", err)
			continue
		}
		switch err := c.Apply(ctx, fraction); {
		case err == nil:
		case errors.Is(err, ErrThrottled):
			slog.Debug("[CTRL] write throttled", "fraction", fraction)
		default:
			slog.Warn("[CTRL] write dropped", "fraction", fraction, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("control: read input: %w", err)
	}
	return ctx.Err()
}

// ParseFraction parses "0.25" or "25%" into a fraction. Values outside
// [0, 1] are accepted here and clamped when encoded.
func ParseFraction(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, fmt.Errorf("control: invalid percentage %q: %w", s, err)
		}
		return v / 100, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("control: invalid fraction %q: %w", s, err)
	}
	return v, nil
}
