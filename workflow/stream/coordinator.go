package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// drainTimeout bounds how long a finished subscription keeps offering
// queued events to a consumer that stopped reading.
const drainTimeout = 100 * time.Millisecond

type (
	// Coordinator fans workflow events out to per-session subscribers and
	// optional broadcast sinks. Producers never block on slow consumers:
	// each subscription runs an internal pump with an unbounded queue, and
	// successive progress heartbeats queued behind a slow consumer are
	// coalesced into the most recent one rather than flooding it.
	Coordinator struct {
		mu    sync.Mutex
		subs  map[string][]*Subscription
		sinks []Sink

		closed bool
	}

	// Subscription is a single consumer attached to a session. Events
	// arrive on C in publish order. C is closed when the session run
	// finishes or the subscription is cancelled.
	Subscription struct {
		// C delivers the session's events in publish order.
		C <-chan Event

		coord   *Coordinator
		session string

		mu      sync.Mutex
		queue   []Event
		wake    chan struct{}
		done    chan struct{}
		out     chan Event
		stopped bool
	}

	// CoordinatorOption configures a Coordinator.
	CoordinatorOption func(*Coordinator)
)

// ErrCoordinatorClosed is returned by Publish after Close.
var ErrCoordinatorClosed = errors.New("stream: coordinator closed")

// WithSinks attaches broadcast sinks that receive every published event in
// addition to per-session subscribers.
func WithSinks(sinks ...Sink) CoordinatorOption {
	return func(c *Coordinator) {
		c.sinks = append(c.sinks, sinks...)
	}
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{subs: make(map[string][]*Subscription)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe attaches a consumer to a session and returns its subscription.
// Events published before Subscribe are not replayed; callers that need
// history read it from the workflow state event buffer instead.
func (c *Coordinator) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		coord:   c,
		session: sessionID,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		out:     make(chan Event),
	}
	sub.C = sub.out
	go sub.pump()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		sub.stop()
		return sub
	}
	c.subs[sessionID] = append(c.subs[sessionID], sub)
	return sub
}

// Publish delivers an event to every subscriber of its session and to the
// broadcast sinks. Publish never blocks on subscribers; sink errors are
// joined and returned.
func (c *Coordinator) Publish(ctx context.Context, event Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}
	subs := c.subs[event.SessionID()]
	sinks := c.sinks
	c.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(event)
	}
	var errs []error
	for _, sink := range sinks {
		if err := sink.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Finish closes every subscription attached to the session. Queued events
// are still drained before the subscription channels close.
func (c *Coordinator) Finish(sessionID string) {
	c.mu.Lock()
	subs := c.subs[sessionID]
	delete(c.subs, sessionID)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

// Close finishes all sessions and closes the broadcast sinks.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = map[string][]*Subscription{}
	sinks := c.sinks
	c.mu.Unlock()

	for _, ss := range subs {
		for _, sub := range ss {
			sub.stop()
		}
	}
	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel detaches the subscription from its session and closes C after
// draining queued events.
func (s *Subscription) Cancel() {
	s.coord.mu.Lock()
	subs := s.coord.subs[s.session]
	for i, sub := range subs {
		if sub == s {
			s.coord.subs[s.session] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.coord.mu.Unlock()
	s.stop()
}

func (s *Subscription) enqueue(event Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	// Coalesce consecutive queued progress heartbeats so a slow consumer
	// sees the latest counts instead of a backlog of stale ones.
	if n := len(s.queue); n > 0 &&
		event.Type() == EventProgress &&
		s.queue[n-1].Type() == EventProgress {
		s.queue[n-1] = event
	} else {
		s.queue = append(s.queue, event)
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.done)
}

// pump moves events from the unbounded queue to the consumer channel.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next Event
		if len(s.queue) > 0 {
			next = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-s.wake:
			case <-s.done:
				s.mu.Lock()
				empty := len(s.queue) == 0
				s.mu.Unlock()
				if empty {
					return
				}
			}
			continue
		}

		select {
		case s.out <- next:
		case <-s.done:
			// Finished subscription: keep delivering while the consumer
			// reads, but do not hang on an abandoned consumer.
			t := time.NewTimer(drainTimeout)
			select {
			case s.out <- next:
				t.Stop()
			case <-t.C:
				return
			}
		}
	}
}
