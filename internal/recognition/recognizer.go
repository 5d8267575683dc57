// Package recognition wraps pluggable OCR engines behind a Recognizer that
// reports progress, supports cancellation and allows one recognition at a
// time.
package recognition

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zombor/inventory-tracker/internal/capture"
)

// Engine is an OCR capability. Recognize must report progress in the range
// 0-100 and should return promptly once ctx is cancelled.
type Engine interface {
	// Init prepares the engine, e.g. loads models or opens a client
	Init(ctx context.Context, languageHint string) error

	// Recognize returns the text found in a PNG-encoded bitmap
	Recognize(ctx context.Context, png []byte, progress func(percent int)) (string, error)

	// Close releases engine resources
	Close() error
}

// Result is the outcome of one recognition: either Text or Err is set
type Result struct {
	Text string
	Err  error
}

// Event is one element of a recognition's event sequence. Every sequence
// ends with exactly one event whose Final is set.
type Event struct {
	Progress int
	Final    *Result
}

// eventBuffer is the capacity of the event channel; the last slot is kept
// free for the final event
const eventBuffer = 16

type initCall struct {
	done chan struct{}
	err  error
}

// Recognizer owns one Engine. A second Recognize while one is in flight
// fails with ErrBusy; it is never queued.
type Recognizer struct {
	engine Engine

	mu       sync.Mutex
	ready    bool
	closed   bool
	initCall *initCall

	busy     atomic.Bool
	inflight sync.WaitGroup
}

// New creates a Recognizer for engine. Initialize must succeed before
// Recognize is used.
func New(engine Engine) *Recognizer {
	return &Recognizer{engine: engine}
}

// Initialize prepares the engine. It is a no-op when already ready, and
// callers arriving while an initialization is running share its outcome.
// A failed initialization may be retried.
func (r *Recognizer) Initialize(ctx context.Context, languageHint string) error {
	const op = "Initialize"

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return newError(op, ErrEngineUnavailable, nil, "recognizer closed")
	}
	if r.ready {
		r.mu.Unlock()
		return nil
	}
	if call := r.initCall; call != nil {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return newError(op, ErrEngineUnavailable, ctx.Err(), "waiting for initialization")
		}
	}

	call := &initCall{done: make(chan struct{})}
	r.initCall = call
	r.mu.Unlock()

	start := time.Now()
	err := r.engine.Init(ctx, languageHint)

	r.mu.Lock()
	if err != nil {
		call.err = newError(op, ErrEngineUnavailable, err, "")
		slog.Warn("OCR engine initialization failed", "language", languageHint, "error", err)
	} else {
		r.ready = true
		slog.Info("OCR engine ready", "language", languageHint, "duration", time.Since(start))
	}
	r.initCall = nil
	close(call.done)
	r.mu.Unlock()

	return call.err
}

// Recognize starts recognition of img and returns its event sequence. The
// channel yields progress events and is closed after the final event.
// Cancelling ctx ends the sequence with ErrCancelled and never with partial
// text.
func (r *Recognizer) Recognize(ctx context.Context, img *capture.RawImage) <-chan Event {
	const op = "Recognize"
	events := make(chan Event, eventBuffer)

	fail := func(err error) <-chan Event {
		events <- Event{Final: &Result{Err: err}}
		close(events)
		return events
	}

	r.mu.Lock()
	ready, closed := r.ready, r.closed
	if ready && !closed {
		if !r.busy.CompareAndSwap(false, true) {
			r.mu.Unlock()
			return fail(newError(op, ErrBusy, nil, ""))
		}
		r.inflight.Add(1)
	}
	r.mu.Unlock()

	if closed || !ready {
		return fail(newError(op, ErrEngineUnavailable, nil, "engine not initialized"))
	}

	go func() {
		defer close(events)

		last := -1
		emit := func(p int) {
			p = min(max(p, 0), 100)
			if p <= last {
				return
			}
			last = p
			// single sender: len only shrinks under us
			if len(events) < cap(events)-1 {
				events <- Event{Progress: p}
			}
		}
		emit(0)

		text, err := r.run(ctx, img, emit)
		switch {
		case ctx.Err() != nil:
			events <- Event{Progress: max(last, 0), Final: &Result{Err: newError(op, ErrCancelled, ctx.Err(), "")}}
		case err != nil:
			events <- Event{Progress: max(last, 0), Final: &Result{Err: newError(op, ErrRecognitionFailed, err, "")}}
		default:
			events <- Event{Progress: 100, Final: &Result{Text: text}}
		}
	}()

	return events
}

// run drives the engine. Progress callbacks from the engine are serialized
// onto this goroutine so emit needs no locking. When ctx is cancelled run
// returns at once; the engine call winds down in the background and holds
// the busy flag until it does.
func (r *Recognizer) run(ctx context.Context, img *capture.RawImage, emit func(int)) (string, error) {
	data, err := img.PNG()
	if err != nil {
		r.release()
		return "", err
	}

	progress := make(chan int, eventBuffer)
	done := make(chan Result, 1)
	go func() {
		text, err := r.engine.Recognize(ctx, data, func(p int) {
			select {
			case progress <- p:
			default:
			}
		})
		r.release()
		done <- Result{Text: text, Err: err}
	}()

	start := time.Now()
	for {
		select {
		case p := <-progress:
			emit(p)
		case res := <-done:
			slog.Info("Recognition finished", "duration", time.Since(start), "chars", len(res.Text), "error", res.Err)
			return res.Text, res.Err
		case <-ctx.Done():
			slog.Info("Recognition cancelled", "duration", time.Since(start))
			return "", ctx.Err()
		}
	}
}

// release marks the engine free for the next recognition
func (r *Recognizer) release() {
	r.busy.Store(false)
	r.inflight.Done()
}

// Close tears the engine down, waiting for an in-flight recognition to
// return first. Calling Close more than once is safe.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.inflight.Wait()
	if err := r.engine.Close(); err != nil {
		return newError("Close", err, nil, "")
	}
	return nil
}

// Wait drains an event sequence, calling onProgress for each progress event,
// and returns the final result
func Wait(events <-chan Event, onProgress func(int)) (string, error) {
	for ev := range events {
		if ev.Final != nil {
			return ev.Final.Text, ev.Final.Err
		}
		if onProgress != nil {
			onProgress(ev.Progress)
		}
	}
	return "", newError("Wait", ErrRecognitionFailed, errors.New("event sequence ended without a result"), "")
}

// Factory creates a fresh engine for one scan flow
type Factory func(ctx context.Context) (Engine, error)

// Acquire creates and initializes a Recognizer for one flow. The returned
// release func must be called on every exit path; it closes the engine.
func Acquire(ctx context.Context, factory Factory, languageHint string) (*Recognizer, func(), error) {
	engine, err := factory(ctx)
	if err != nil {
		return nil, nil, newError("Acquire", ErrEngineUnavailable, err, "")
	}

	r := New(engine)
	if err := r.Initialize(ctx, languageHint); err != nil {
		if closeErr := r.Close(); closeErr != nil {
			slog.Warn("Failed to close OCR engine", "error", closeErr)
		}
		return nil, nil, err
	}

	release := func() {
		if err := r.Close(); err != nil {
			slog.Warn("Failed to close OCR engine", "error", err)
		}
	}
	return r, release, nil
}
