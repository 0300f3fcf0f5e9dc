package ocr

import (
	"fmt"
	"time"

	"github.com/book-expert/logger"
)

// HandleState describes whether a native recognizer handle is currently held.
type HandleState int

const (
	// HandleAbsent means no native recognizer instance exists.
	HandleAbsent HandleState = iota
	// HandleLive means a recognizer instance is held and usable.
	HandleLive
)

// Lifecycle owns the native recognizer handle. It is the only component that
// creates or destroys engines, and it holds at most one live handle at any
// time.
//
// The recognizer accumulates corrupt internal state after a timeout or after
// running for too long, so EnsureFresh always destroys any existing handle
// before creating a new one. The extra startup latency per call is the price
// of never running against stale native state.
//
// Lifecycle is not safe for concurrent use; the pipeline runs attempts
// sequentially and callers that share a Service across goroutines must
// serialize whole recognition calls.
type Lifecycle struct {
	factory      EngineFactory
	settleDelay  time.Duration
	logger       *logger.Logger
	engine       Engine
	epoch        uint64
	lastTeardown time.Time
}

// NewLifecycle creates a lifecycle manager in the Absent state. settleDelay
// is observed between a teardown and the next creation to let asynchronous
// native cleanup finish.
func NewLifecycle(factory EngineFactory, settleDelay time.Duration, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		factory:      factory,
		settleDelay:  settleDelay,
		logger:       log,
		engine:       nil,
		epoch:        0,
		lastTeardown: time.Time{},
	}
}

// EnsureFresh guarantees a newly created handle: any live handle is torn down
// first, unconditionally. On creation failure the manager stays Absent and
// the error is returned without internal retry; retrying is the
// orchestrator's job.
func (l *Lifecycle) EnsureFresh() (Engine, error) {
	l.Teardown()
	l.waitForSettle()

	engine, err := l.factory()
	if err != nil {
		return nil, fmt.Errorf("create recognizer: %w", err)
	}

	l.engine = engine
	l.epoch++

	l.logger.Infof("Recognizer created (epoch %d)", l.epoch)

	return engine, nil
}

// Teardown releases the current handle if one exists. Tearing down an absent
// handle is a no-op, so Teardown is safe to call at any point, including at
// application shutdown.
func (l *Lifecycle) Teardown() {
	if l.engine == nil {
		return
	}

	err := l.engine.Close()
	if err != nil {
		l.logger.Warnf("Recognizer teardown reported: %v", err)
	}

	l.engine = nil
	l.lastTeardown = time.Now()

	l.logger.Infof("Recognizer torn down (epoch %d)", l.epoch)
}

// State reports whether a live handle is currently held.
func (l *Lifecycle) State() HandleState {
	if l.engine == nil {
		return HandleAbsent
	}

	return HandleLive
}

// Epoch returns the recreate epoch: the number of handles created so far. No
// attempt ever runs against a handle from an earlier epoch.
func (l *Lifecycle) Epoch() uint64 {
	return l.epoch
}

// waitForSettle sleeps out the remainder of the settle delay since the last
// teardown. The native side may still be releasing resources asynchronously;
// creating a new instance too early resurrects the stale-state problem the
// teardown was meant to fix.
func (l *Lifecycle) waitForSettle() {
	if l.lastTeardown.IsZero() {
		return
	}

	remaining := l.settleDelay - time.Since(l.lastTeardown)
	if remaining > 0 {
		time.Sleep(remaining)
	}
}
