// Package controller drives client fetches per target with a bounded retry budget.
//
// Each target moves through Idle, Fetching, Ready and Failed. At most MaxRetries automatic
// retries run in any sliding Window; once exhausted, automatic attempts are refused until the
// window moves on or the caller asks for a manual Retry.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cedromirror/talkcart-web-sub008/internal/client/api"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/conversation"
)

const (
	DefaultMaxRetries = 3
	DefaultWindow     = 30 * time.Second
	DefaultTimeout    = 10 * time.Second
)

var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

var (
	// ErrBudgetExhausted means the target used its automatic retries for the current window.
	ErrBudgetExhausted = errors.New("controller: retry budget exhausted")
	// ErrCanceled is returned to waiters of a flight that was torn down before it finished.
	ErrCanceled = errors.New("controller: fetch canceled")
)

type State int

const (
	Idle State = iota
	Fetching
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Class groups failures by how the controller reacts to them.
type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
	ClassAuth
)

// Classify decides whether err may be retried automatically.
func Classify(err error) Class {
	switch {
	case errors.Is(err, api.ErrAuthentication):
		return ClassAuth
	case errors.Is(err, api.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case conversation.IsPermanent(err), errors.Is(err, context.Canceled), errors.Is(err, ErrCanceled):
		return ClassPermanent
	}
	return ClassTransient
}

// FetchFunc performs one call against the service. ctx carries the per call timeout.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Snapshot is a point in time copy of a target.
type Snapshot[T any] struct {
	Target    string
	State     State
	Data      T
	HasData   bool
	Err       error
	Class     Class
	Retries   int
	Exhausted bool
	Seq       uint64
	UpdatedAt time.Time
}

type flight[T any] struct {
	seq    uint64
	done   chan struct{}
	cancel context.CancelFunc
	data   T
	err    error
}

type record[T any] struct {
	state     State
	data      T
	hasData   bool
	err       error
	class     Class
	retries   []time.Time
	exhausted bool
	seq       uint64
	flight    *flight[T]
	updatedAt time.Time
}

// Controller is session scoped: create one per signed-in user and call SetIdentity when the
// user changes. The zero value is not usable; use New.
type Controller[T any] struct {
	MaxRetries int
	Window     time.Duration
	Timeout    time.Duration
	Backoff    []time.Duration
	Clock      Clock
	Logger     *slog.Logger
	// OnAuthFailure runs when a call fails authentication. The controller never retries those.
	OnAuthFailure func(target string, err error)

	mu       sync.Mutex
	identity string
	targets  map[string]*record[T]
}

func New[T any]() *Controller[T] {
	return &Controller[T]{
		MaxRetries: DefaultMaxRetries,
		Window:     DefaultWindow,
		Timeout:    DefaultTimeout,
		Backoff:    DefaultBackoff,
		Clock:      SystemClock{},
		targets:    make(map[string]*record[T]),
	}
}

func (c *Controller[T]) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// SetIdentity switches the session user. Every target is discarded and in-flight work is
// canceled; nothing fetched for the previous user is applied afterwards.
func (c *Controller[T]) SetIdentity(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID == c.identity {
		return
	}
	for _, rec := range c.targets {
		if rec.flight != nil {
			rec.flight.cancel()
		}
	}
	c.targets = make(map[string]*record[T])
	c.identity = userID
	c.log("controller identity changed", "user_id", userID)
}

// Snapshot never blocks on network work.
func (c *Controller[T]) Snapshot(target string) Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot[T]{Target: target}
	rec, ok := c.targets[target]
	if !ok {
		return snap
	}
	snap.State = rec.state
	snap.Data = rec.data
	snap.HasData = rec.hasData
	snap.Err = rec.err
	snap.Class = rec.class
	snap.Retries = len(c.pruned(rec, c.Clock.Now()))
	snap.Exhausted = rec.exhausted
	snap.Seq = rec.seq
	snap.UpdatedAt = rec.updatedAt
	return snap
}

// Start launches a fetch and returns without waiting. It joins a flight already in progress.
func (c *Controller[T]) Start(target string, fn FetchFunc[T]) error {
	_, err := c.begin(target, fn, false)
	return err
}

// Fetch runs an automatic attempt and waits for its outcome, including any retries.
func (c *Controller[T]) Fetch(ctx context.Context, target string, fn FetchFunc[T]) (T, error) {
	fl, err := c.begin(target, fn, false)
	if err != nil {
		var zero T
		return zero, err
	}
	return wait(ctx, fl)
}

// Retry is the manual path: it resets the budget for target and attempts exactly once.
func (c *Controller[T]) Retry(ctx context.Context, target string, fn FetchFunc[T]) (T, error) {
	fl, err := c.begin(target, fn, true)
	if err != nil {
		var zero T
		return zero, err
	}
	return wait(ctx, fl)
}

// Cancel tears down target. A late result from its flight is dropped.
func (c *Controller[T]) Cancel(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.targets[target]
	if !ok {
		return
	}
	if rec.flight != nil {
		rec.flight.cancel()
	}
	delete(c.targets, target)
}

func wait[T any](ctx context.Context, fl *flight[T]) (T, error) {
	select {
	case <-fl.done:
		return fl.data, fl.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Controller[T]) begin(target string, fn FetchFunc[T], manual bool) (*flight[T], error) {
	if fn == nil {
		return nil, errors.New("controller: nil fetch func")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.targets == nil {
		c.targets = make(map[string]*record[T])
	}
	rec, ok := c.targets[target]
	if !ok {
		rec = &record[T]{}
		c.targets[target] = rec
	}
	if rec.flight != nil {
		return rec.flight, nil
	}

	now := c.Clock.Now()
	switch {
	case manual:
		rec.retries = nil
		rec.exhausted = false
	case rec.state == Failed && rec.class != ClassTransient:
		return nil, rec.err
	case rec.state == Failed:
		if len(c.pruned(rec, now)) >= c.maxRetries() {
			rec.exhausted = true
			return nil, fmt.Errorf("%w: %s", ErrBudgetExhausted, target)
		}
		rec.retries = append(rec.retries, now)
		rec.exhausted = false
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec.seq++
	fl := &flight[T]{seq: rec.seq, done: make(chan struct{}), cancel: cancel}
	rec.flight = fl
	rec.state = Fetching
	go c.run(ctx, target, rec, fl, fn, manual)
	return fl, nil
}

func (c *Controller[T]) run(ctx context.Context, target string, rec *record[T], fl *flight[T], fn FetchFunc[T], manual bool) {
	defer fl.cancel()
	for attempt := 0; ; attempt++ {
		data, err := c.call(ctx, fn)
		if err == nil {
			c.finish(target, rec, fl, data, nil, ClassTransient)
			return
		}
		if ctx.Err() != nil {
			c.finish(target, rec, fl, data, ErrCanceled, ClassPermanent)
			return
		}
		class := Classify(err)
		switch class {
		case ClassAuth:
			c.log("controller auth failure", "target", target, "error", err)
			if c.OnAuthFailure != nil {
				c.OnAuthFailure(target, err)
			}
			c.finish(target, rec, fl, data, err, class)
			return
		case ClassPermanent:
			c.finish(target, rec, fl, data, err, class)
			return
		}
		if manual || !c.takeRetry(rec, fl) {
			if !manual {
				err = fmt.Errorf("%w: %w", ErrBudgetExhausted, err)
			}
			c.finish(target, rec, fl, data, err, ClassTransient)
			return
		}
		delay := c.backoff(attempt)
		c.log("controller retrying", "target", target, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-c.Clock.After(delay):
		case <-ctx.Done():
			c.finish(target, rec, fl, data, ErrCanceled, ClassPermanent)
			return
		}
	}
}

// call applies the per call timeout. A deadline is reported as such even when fn wraps it.
func (c *Controller[T]) call(ctx context.Context, fn FetchFunc[T]) (T, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	data, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = errors.Join(err, context.DeadlineExceeded)
	}
	return data, err
}

func (c *Controller[T]) takeRetry(rec *record[T], fl *flight[T]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.seq != fl.seq {
		return false
	}
	now := c.Clock.Now()
	if len(c.pruned(rec, now)) >= c.maxRetries() {
		rec.exhausted = true
		return false
	}
	rec.retries = append(rec.retries, now)
	return true
}

func (c *Controller[T]) finish(target string, rec *record[T], fl *flight[T], data T, err error, class Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	latest := c.targets[target] == rec && rec.seq == fl.seq
	if !latest {
		var zero T
		fl.data, fl.err = zero, ErrCanceled
		close(fl.done)
		return
	}
	rec.flight = nil
	rec.updatedAt = c.Clock.Now()
	if err == nil {
		rec.state = Ready
		rec.data = data
		rec.hasData = true
		rec.err = nil
		rec.exhausted = false
	} else {
		// previous data stays visible while the target is failed
		rec.state = Failed
		rec.err = err
		rec.class = class
	}
	fl.data, fl.err = data, err
	close(fl.done)
}

// pruned drops retry timestamps that left the window. Callers hold c.mu.
func (c *Controller[T]) pruned(rec *record[T], now time.Time) []time.Time {
	window := c.Window
	if window <= 0 {
		window = DefaultWindow
	}
	kept := rec.retries[:0]
	for _, at := range rec.retries {
		if now.Sub(at) < window {
			kept = append(kept, at)
		}
	}
	rec.retries = kept
	return kept
}

func (c *Controller[T]) maxRetries() int {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

func (c *Controller[T]) backoff(attempt int) time.Duration {
	if len(c.Backoff) == 0 {
		return 0
	}
	if attempt >= len(c.Backoff) {
		return c.Backoff[len(c.Backoff)-1]
	}
	return c.Backoff[attempt]
}

func (c *Controller[T]) log(msg string, attrs ...any) {
	if c.Logger == nil {
		return
	}
	c.Logger.Debug(msg, attrs...)
}
