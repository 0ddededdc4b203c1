package gameserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/clock"
)

// ErrLoopStopped is returned by Do and Post once the loop has exited.
var ErrLoopStopped = errors.New("game loop stopped")

// idleWait caps how long the loop sleeps when no timer is pending.
const idleWait = time.Second

// Loop is the single goroutine that owns the handler, the room manager and
// the scheduler. Transports submit work with Do or Post; timers fire between
// tasks.
type Loop struct {
	sched    *clock.Scheduler
	tasks    chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewLoop creates a Loop over sched. queue bounds the pending task backlog.
func NewLoop(sched *clock.Scheduler, queue int, logger *zap.Logger) *Loop {
	if queue <= 0 {
		queue = 256
	}
	return &Loop{
		sched:  sched,
		tasks:  make(chan func(), queue),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes tasks and timers until ctx is cancelled or Stop is called.
//
// Postcondition: Do and Post fail with ErrLoopStopped after Run returns.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	for {
		l.sched.RunDue()

		wait := idleWait
		if next, ok := l.sched.NextDeadline(); ok {
			wait = next.Sub(l.sched.Now())
			if wait < 0 {
				wait = 0
			}
			if wait > idleWait {
				wait = idleWait
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case fn := <-l.tasks:
			l.run(fn)
		case <-timer.C:
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("game loop task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Do runs fn on the loop and waits for it to finish.
//
// Postcondition: returns nil iff fn ran to completion.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrLoopStopped
	}
}

// Stop asks Run to return and waits until it has.
//
// Precondition: Run has been or will be called.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}
