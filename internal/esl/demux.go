package esl

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"parley/internal/domain"
)

const queueBuffer = 32

// Demux fans a shared event stream into per-call queues so concurrently
// tracked calls never see each other's events.
type Demux struct {
	logger *zap.Logger

	mu     sync.Mutex
	queues map[string]*Subscription
}

func NewDemux(logger *zap.Logger) *Demux {
	return &Demux{
		logger: logger,
		queues: make(map[string]*Subscription),
	}
}

// Run routes events until the stream closes, then releases every waiter.
func (d *Demux) Run(events <-chan domain.Event) {
	for event := range events {
		d.route(event)
	}

	d.mu.Lock()
	for id, sub := range d.queues {
		sub.close()
		delete(d.queues, id)
	}
	d.mu.Unlock()
}

func (d *Demux) route(event domain.Event) {
	if event.CallID == "" {
		return
	}

	d.mu.Lock()
	sub := d.queues[event.CallID]
	if sub != nil && event.Name == domain.EventChannelHangup {
		delete(d.queues, event.CallID)
	}
	d.mu.Unlock()

	if sub == nil {
		return
	}

	sub.push(event, d.logger)
	if event.Name == domain.EventChannelHangup {
		sub.close()
	}
}

// Subscribe returns the queue for one call, creating it on first use.
func (d *Demux) Subscribe(callID string) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sub, ok := d.queues[callID]; ok {
		return sub
	}
	sub := &Subscription{callID: callID, ch: make(chan domain.Event, queueBuffer)}
	d.queues[callID] = sub
	return sub
}

// Unsubscribe drops a call's queue and releases any waiter on it.
func (d *Demux) Unsubscribe(callID string) {
	d.mu.Lock()
	sub := d.queues[callID]
	delete(d.queues, callID)
	d.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// Subscription is one call's private event queue. push and close are
// serialized on the subscription's own mutex: routing holds no demux
// lock while delivering, so an Unsubscribe racing a delivery must not
// close the channel out from under a pending send.
type Subscription struct {
	callID string

	mu     sync.Mutex
	ch     chan domain.Event
	closed bool
}

func (s *Subscription) push(event domain.Event, logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case dropped := <-s.ch:
			logger.Warn("call queue full, dropping oldest",
				zap.String("call_id", s.callID),
				zap.String("dropped", dropped.Name))
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// WaitFor blocks until an event with one of the wanted names arrives,
// the timeout expires, or the call ends. A hangup always matches and is
// reported as domain.ErrCallEnded together with the event itself, so a
// waiter unwinds within delivery latency rather than the full timeout.
func (s *Subscription) WaitFor(ctx context.Context, timeout time.Duration, names ...string) (domain.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-s.ch:
			if !ok {
				return domain.Event{}, domain.ErrCallEnded
			}
			if event.Name == domain.EventChannelHangup {
				return event, domain.ErrCallEnded
			}
			for _, name := range names {
				if event.Name == name {
					return event, nil
				}
			}
		case <-timer.C:
			return domain.Event{}, domain.ErrTimeout
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}
	}
}
