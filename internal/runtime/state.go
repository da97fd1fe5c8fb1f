// Package runtime models the process-wide state a capture loop needs: the
// stop flag, the rotate-now flag, the armed interval timer, and the TX
// socket descriptor the flush-TX handler needs. Each piece is only ever
// written by the handler it belongs to — modeled here as a single State
// value passed to the loop and to the two signal/timer goroutines that
// stand in for C's async signal handlers.
package runtime

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

// State is the process-wide runtime state. New initializes it before a
// loop starts; Close clears the rotate-now flag and the TX descriptor. The
// interval timers are not held here: each Arm call returns the stop
// function that disarms its timer.
type State struct {
	stop   atomic.Bool
	rotate atomic.Bool

	sigCh  chan os.Signal
	stopCh chan struct{}
	txFD   atomic.Int64 // -1 when unset
}

// New creates a State with SIGINT/SIGHUP caught: SIGINT sets the stop
// flag, SIGHUP is accepted and ignored, which suppresses the terminal-
// hangup default kill a long-running capture would otherwise take when
// its controlling terminal closes.
func New() *State {
	s := &State{
		sigCh:  make(chan os.Signal, 4),
		stopCh: make(chan struct{}),
	}
	s.txFD.Store(-1)
	signal.Notify(s.sigCh, syscall.SIGINT, syscall.SIGHUP)
	go s.signalLoop()
	return s
}

func (s *State) signalLoop() {
	for {
		select {
		case sig, ok := <-s.sigCh:
			if !ok {
				return
			}
			if sig == syscall.SIGINT {
				s.stop.Store(true)
			}
			// SIGHUP: explicit no-op.
		case <-s.stopCh:
			return
		}
	}
}

// Stop reports whether SIGINT has been received or the loop itself has
// requested shutdown (frame-count cap, EOF).
func (s *State) Stop() bool { return s.stop.Load() }

// RequestStop lets the loop itself set the stop flag (e.g. on reaching
// its frame-count cap), using the same single-writer discipline as the
// signal handler.
func (s *State) RequestStop() { s.stop.Store(true) }

// RotateNow reports whether the rotation timer (or the size-mode byte
// counter) has requested a rotation.
func (s *State) RotateNow() bool { return s.rotate.Load() }

// SetRotateNow is called by the rotate-timer handler or, in size mode, by
// the loop itself after crossing the byte threshold.
func (s *State) SetRotateNow() { s.rotate.Store(true) }

// ClearRotateNow is called by the rotator once it has acted on the flag.
func (s *State) ClearRotateNow() { s.rotate.Store(false) }

// SetTXFD records the TX socket descriptor the flush-TX handler drains.
// Only valid for the lifetime of the loop; cleared by Close.
func (s *State) SetTXFD(fd int) { s.txFD.Store(int64(fd)) }

// TXFD returns the currently registered TX descriptor, or -1 if none.
func (s *State) TXFD() int { return int(s.txFD.Load()) }

// ArmFlushTimer starts (or restarts) a periodic timer that invokes flush
// every interval: one send-equivalent syscall, then the timer rearms
// itself. flush is expected to do exactly one non-blocking syscall; any
// error is swallowed here the same way a real signal handler cannot
// propagate one.
func (s *State) ArmFlushTimer(interval time.Duration, flush func() error) (stop func()) {
	return s.armPeriodic(interval, func() { _ = flush() })
}

// ArmRotateTimer starts a periodic timer that sets the rotate-now flag
// every interval and keeps rearming itself. A loop invocation only ever
// arms one of ArmFlushTimer or ArmRotateTimer, never both.
func (s *State) ArmRotateTimer(interval time.Duration) (stop func()) {
	return s.armPeriodic(interval, s.SetRotateNow)
}

func (s *State) armPeriodic(interval time.Duration, fire func()) (stop func()) {
	t := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				fire()
			case <-done:
				return
			}
		}
	}()
	return func() {
		t.Stop()
		close(done)
	}
}

// Close disarms the signal watcher and clears the rotate-now flag and the
// TX descriptor; the stop flag keeps its value. Calling it more than once
// is safe. It is part of teardown and must run on every exit path.
func (s *State) Close() {
	signal.Stop(s.sigCh)
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.rotate.Store(false)
	s.txFD.Store(-1)
}
