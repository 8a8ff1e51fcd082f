// Package worker runs the orchestrator: a single goroutine owns the model and
// applies results that background poll tasks fetch.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ontree-co/treeseg/internal/dss"
	"github.com/ontree-co/treeseg/internal/logging"
)

// ErrStopped is returned when work is handed to a loop that has shut down
var ErrStopped = errors.New("worker loop stopped")

// Loop owns a dss.Model. Every closure passed to Post or Do runs on the loop
// goroutine, one at a time, in the order received.
type Loop struct {
	model      *dss.Model
	queue      chan func(*dss.Model)
	wg         sync.WaitGroup
	startOnce  sync.Once
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// NewLoop creates a loop for model with room for queueSize pending closures
func NewLoop(model *dss.Model, queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		model:      model,
		queue:      make(chan func(*dss.Model), queueSize),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the loop goroutine
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.run()
	})
}

// Stop shuts the loop down and waits for the closure in progress to finish.
// Closures still queued are discarded.
func (l *Loop) Stop() {
	l.cancelFunc()
	l.wg.Wait()
}

// Done is closed once the loop stops accepting work
func (l *Loop) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Post queues fn, blocking while the queue is full. It reports false if the
// loop stopped first.
func (l *Loop) Post(fn func(*dss.Model)) bool {
	select {
	case l.queue <- fn:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Do runs fn on the loop and waits for it to finish
func (l *Loop) Do(ctx context.Context, fn func(*dss.Model)) error {
	done := make(chan struct{})
	wrapped := func(m *dss.Model) {
		defer close(done)
		fn(m)
	}

	select {
	case l.queue <- wrapped:
	case <-l.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-l.ctx.Done():
		// The closure may have been discarded
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run() {
	defer l.wg.Done()
	logging.Debugf("Worker loop started")

	for {
		select {
		case fn := <-l.queue:
			l.apply(fn)
		case <-l.ctx.Done():
			logging.Debugf("Worker loop stopping")
			return
		}
	}
}

func (l *Loop) apply(fn func(*dss.Model)) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("Worker loop recovered from panic: %v", r)
		}
	}()
	fn(l.model)
}
