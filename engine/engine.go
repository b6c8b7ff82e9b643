package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// Options configures an Engine.
type Options struct {
	// NumThreads is the number of completion workers; 0 uses runtime.NumCPU.
	NumThreads int
	// Backend selects the driver; BackendAuto picks the best available.
	Backend Backend
	// QueueDepth is the io_uring submission queue size.
	QueueDepth uint32
}

// NewOptions returns the default engine options.
func NewOptions() *Options {
	return &Options{
		NumThreads: 0,
		Backend:    BackendAuto,
		QueueDepth: 256,
	}
}

// Engine dispatches native asynchronous requests and resumes their callers.
type Engine struct {
	drv     driver
	slots   *slab
	workers int
	wg      sync.WaitGroup

	mu         sync.Mutex
	registered map[uintptr]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates an engine and starts its workers.
func New(opts *Options) (*Engine, error) {
	if opts == nil {
		opts = NewOptions()
	}

	workers := opts.NumThreads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if opts.QueueDepth == 0 {
		opts.QueueDepth = NewOptions().QueueDepth
	}

	slots := newSlab()
	drv, err := newDriver(opts, slots)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		drv:        drv,
		slots:      slots,
		workers:    workers,
		registered: make(map[uintptr]struct{}),
	}

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker(i)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"backend":  drv.backend().String(),
		"workers":  workers,
	}).Info("Completion engine started")

	return e, nil
}

// Backend reports which driver the engine is using.
func (e *Engine) Backend() Backend {
	return e.drv.backend()
}

// Workers reports the size of the worker pool.
func (e *Engine) Workers() int {
	return e.workers
}

// Add registers a handle with the engine. It must be called once per handle
// before any Run on it.
func (e *Engine) Add(fd uintptr) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.registered[fd]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyRegistered, fd)
	}
	if err := e.drv.register(fd); err != nil {
		return syserr.NewKernel("register", err)
	}
	e.registered[fd] = struct{}{}
	return nil
}

// Remove forgets a handle. Call it before closing the descriptor; the OS
// reuses descriptor numbers.
func (e *Engine) Remove(fd uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.registered[fd]; !ok {
		return
	}
	delete(e.registered, fd)
	e.drv.unregister(fd)
}

// Run issues req and blocks until its completion is delivered by a worker.
// If ctx is canceled first, the native request is canceled and Run returns
// an error for which syserr.IsCanceled is true, unless the request had
// already completed, in which case its real result is returned.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	if e.closed.Load() {
		return Result{}, ErrEngineClosed
	}
	if ctx.Err() != nil {
		return Result{}, syserr.Canceled(req.Op.String(), ctx)
	}
	if !e.isRegistered(req.FD) {
		return Result{}, fmt.Errorf("%w: %d", ErrNotRegistered, req.FD)
	}

	tok, s := e.slots.acquire(req)
	defer e.slots.release(tok)

	if err := e.drv.submit(tok, s); err != nil {
		return Result{}, syserr.New(req.Op.String(), err)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		if err := e.drv.cancel(tok, s); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"op":       req.Op.String(),
				"error":    err.Error(),
			}).Debug("Cancel request failed, waiting for completion")
		}
		<-s.done
		if s.err != nil && syserr.IsCanceled(s.err) {
			return Result{}, syserr.Canceled(req.Op.String(), ctx)
		}
	}

	return s.res, s.err
}

// CancelPending cancels every outstanding operation on fd. It does not wait
// for the canceled operations to complete.
func (e *Engine) CancelPending(fd uintptr) error {
	var firstErr error
	for _, tok := range e.slots.pending(fd, false) {
		s := e.slots.get(tok)
		if s == nil {
			continue
		}
		if err := e.drv.cancel(tok, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return syserr.NewKernel("cancel", firstErr)
	}
	return nil
}

// Close cancels outstanding operations, stops the workers and releases the
// driver. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)

		for _, tok := range e.slots.pending(0, true) {
			if s := e.slots.get(tok); s != nil {
				_ = e.drv.cancel(tok, s)
			}
		}

		if err := e.drv.wake(e.workers); err != nil {
			e.closeErr = syserr.NewKernel("wake", err)
		}
		e.wg.Wait()

		if err := e.drv.close(); err != nil && e.closeErr == nil {
			e.closeErr = syserr.NewKernel("close", err)
		}

		// Anything still parked can no longer be completed by a worker.
		for _, tok := range e.slots.pending(0, true) {
			e.slots.complete(tok, Result{}, ErrEngineClosed)
		}

		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"backend":  e.drv.backend().String(),
		}).Info("Completion engine stopped")
	})
	return e.closeErr
}

func (e *Engine) isRegistered(fd uintptr) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.registered[fd]
	return ok
}

// worker drains completions until it receives its sentinel.
func (e *Engine) worker(id int) {
	defer e.wg.Done()

	for {
		c, ok := e.drv.wait()
		if !ok {
			return
		}
		if !e.slots.complete(c.tok, c.res, c.err) {
			logrus.WithFields(logrus.Fields{
				"function": "worker",
				"worker":   id,
				"token":    uint64(c.tok),
			}).Debug("Dropped completion for stale token")
		}
	}
}
