package session

import "sync"

// subscriberBufferSlack is added on top of the replay size so a live
// burst does not immediately trip the backpressure policy.
const subscriberBufferSlack = 64

// Subscriber is one live stream connection's view of a session. Events
// arrive on a buffered channel; the producer never blocks on a slow
// consumer — when the buffer is full the subscriber is disconnected
// instead (explicit disconnect-on-backpressure policy).
type Subscriber struct {
	ch     chan any
	closed sync.Once
}

func newSubscriber(buffer int) *Subscriber {
	if buffer < subscriberBufferSlack {
		buffer = subscriberBufferSlack
	}
	return &Subscriber{ch: make(chan any, buffer)}
}

// Events is the stream of protocol messages for this subscriber. The
// channel is closed when the subscriber is unregistered, the session is
// cancelled, or the session is garbage-collected.
func (s *Subscriber) Events() <-chan any {
	return s.ch
}

// offer enqueues without blocking. Returns false when the buffer is
// full, which the manager treats as disconnect.
func (s *Subscriber) offer(msg any) bool {
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.closed.Do(func() { close(s.ch) })
}
