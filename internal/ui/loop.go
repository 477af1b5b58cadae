// Package ui drives an app.App from a single goroutine. The loop runs a
// frame on every interval tick, on every wake-up requested by the network
// actor and after every batch of interactions, and hands each frame to a
// Renderer.
package ui

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/redsky/internal/app"
	"github.com/steemit/redsky/pkg/logging"
)

// Buffer size of the input channel. Interactions come from a human or the
// control server, so a small buffer is plenty.
const inputChSize = 64

// ErrStopped is returned by Do once Run has returned
var ErrStopped = errors.New("ui loop stopped")

// Renderer receives every frame. It is called on the loop goroutine.
type Renderer interface {
	Render(f app.Frame) error
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(f app.Frame) error

// Render calls f
func (f RendererFunc) Render(frame app.Frame) error { return f(frame) }

type input struct {
	fn   func(*app.App) error
	done chan error
}

// Loop owns the App. Only the loop goroutine touches it; other goroutines
// reach it through Do.
type Loop struct {
	app      *app.App
	renderer Renderer
	interval time.Duration
	logger   *zap.Logger

	inputCh chan input
	wakeCh  chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu     sync.RWMutex
	last   app.Frame
	frames uint64
}

// New creates a loop. A nil renderer discards frames; a zero interval
// disables the periodic tick so frames run only on wake-ups and inputs.
func New(a *app.App, renderer Renderer, interval time.Duration) *Loop {
	if renderer == nil {
		renderer = RendererFunc(func(app.Frame) error { return nil })
	}
	return &Loop{
		app:      a,
		renderer: renderer,
		interval: interval,
		logger:   logging.WithComponent("ui"),
		inputCh:  make(chan input, inputChSize),
		wakeCh:   make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

// Wake requests a frame. It never blocks and wake-ups that arrive before
// the next frame are coalesced.
func (lp *Loop) Wake() {
	select {
	case lp.wakeCh <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop goroutine and returns its error. A frame is run
// right after fn.
func (lp *Loop) Do(ctx context.Context, fn func(*app.App) error) error {
	in := input{fn: fn, done: make(chan error, 1)}
	select {
	case lp.inputCh <- in:
	case <-lp.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-in.done:
		return err
	case <-lp.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastFrame returns the most recently rendered frame
func (lp *Loop) LastFrame() app.Frame {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.last
}

// Frames returns the number of frames run so far
func (lp *Loop) Frames() uint64 {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.frames
}

// Run runs frames until ctx is cancelled. It is fully serial: the App is
// only ever touched from the goroutine calling Run.
func (lp *Loop) Run(ctx context.Context) error {
	defer lp.once.Do(func() { close(lp.stopped) })

	var tick <-chan time.Time
	if lp.interval > 0 {
		ticker := time.NewTicker(lp.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	lp.logger.Info("UI loop started", zap.Duration("frame_interval", lp.interval))
	for {
		lp.frame()
		select {
		case <-ctx.Done():
			lp.logger.Info("UI loop stopped", zap.Uint64("frames", lp.Frames()))
			return ctx.Err()
		case in := <-lp.inputCh:
			// Consume all queued inputs to minimize frames.
		consumeAllInputs:
			for {
				in.done <- lp.handle(in.fn)
				select {
				case in = <-lp.inputCh:
				default:
					break consumeAllInputs
				}
			}
		case <-lp.wakeCh:
		case <-tick:
		}
	}
}

// handle runs one interaction. A panic is reported as an error to the caller
// instead of killing the loop.
func (lp *Loop) handle(fn func(*app.App) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			lp.logger.Error("Interaction panicked", zap.Any("panic", r))
			err = errors.New("interaction failed")
		}
	}()
	return fn(lp.app)
}

func (lp *Loop) frame() {
	f := lp.app.Tick()

	lp.mu.Lock()
	lp.last = f
	lp.frames++
	lp.mu.Unlock()

	if err := lp.renderer.Render(f); err != nil {
		lp.logger.Warn("Failed to render frame", zap.Error(err))
	}

	// One event is drained per frame; keep going while more are queued.
	if lp.app.Backlog() > 0 {
		lp.Wake()
	}
}
