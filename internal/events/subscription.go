package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Subscription is one live viewer of a task's progress stream.
//
// The consumer reads Messages until Done is closed and calls MarkSent after
// each message it manages to deliver. A subscription whose consumer stops
// marking sends is swept once the liveness timeout passes.
type Subscription struct {
	TaskID   string
	ClientID string

	queue chan Message
	done  chan struct{}
	once  sync.Once

	lastSent     atomic.Int64
	lastEnqueued atomic.Int64
	alive        atomic.Bool
}

func newSubscription(taskID, clientID string, queueSize int, now time.Time) *Subscription {
	s := &Subscription{
		TaskID:   taskID,
		ClientID: clientID,
		queue:    make(chan Message, queueSize),
		done:     make(chan struct{}),
	}
	s.lastSent.Store(now.UnixNano())
	s.lastEnqueued.Store(now.UnixNano())
	s.alive.Store(true)
	return s
}

// Messages returns the queue of pending messages.
func (s *Subscription) Messages() <-chan Message {
	return s.queue
}

// Done is closed when the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// MarkSent records a successful delivery to the remote viewer.
func (s *Subscription) MarkSent() {
	s.lastSent.Store(time.Now().UnixNano())
}

// Alive reports whether the subscription is still registered.
func (s *Subscription) Alive() bool {
	return s.alive.Load()
}

// LastSent returns the time of the last successful delivery.
func (s *Subscription) LastSent() time.Time {
	return time.Unix(0, s.lastSent.Load())
}

// offer enqueues m without blocking and reports whether it fit.
func (s *Subscription) offer(m Message, now time.Time) bool {
	select {
	case s.queue <- m:
		s.lastEnqueued.Store(now.UnixNano())
		return true
	default:
		return false
	}
}

func (s *Subscription) idleSince() time.Time {
	return time.Unix(0, s.lastEnqueued.Load())
}

func (s *Subscription) close() {
	s.once.Do(func() {
		s.alive.Store(false)
		close(s.done)
	})
}
