package collector

import (
	"context"
	"sync"
)

// Delivery is one message from the event bus.
// Ack must be called exactly once: nil acknowledges, an error asks for redelivery.
type Delivery struct {
	ID   string
	Body []byte
	Ack  func(err error)
}

// Source yields deliveries until ctx is cancelled or the source closes.
type Source interface {
	Deliveries(ctx context.Context) (<-chan Delivery, error)
}

// ChannelSource is an in-process Source fed by Publish.
type ChannelSource struct {
	ch chan Delivery

	mu      sync.Mutex
	acks    map[string]error
	pending sync.WaitGroup
	closed  bool
}

// NewChannelSource creates a ChannelSource with the given buffer size.
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{
		ch:   make(chan Delivery, buffer),
		acks: make(map[string]error),
	}
}

// Deliveries implements Source.
func (s *ChannelSource) Deliveries(_ context.Context) (<-chan Delivery, error) {
	return s.ch, nil
}

// Publish enqueues a message. Blocks when the buffer is full.
func (s *ChannelSource) Publish(ctx context.Context, id string, body []byte) error {
	s.pending.Add(1)
	d := Delivery{
		ID:   id,
		Body: body,
		Ack: func(err error) {
			s.mu.Lock()
			s.acks[id] = err
			s.mu.Unlock()
			s.pending.Done()
		},
	}
	select {
	case s.ch <- d:
		return nil
	case <-ctx.Done():
		s.pending.Done()
		return ctx.Err()
	}
}

// Close stops the source. Deliveries already queued are still handed out.
func (s *ChannelSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Wait blocks until every published delivery has been acked or nacked.
func (s *ChannelSource) Wait() {
	s.pending.Wait()
}

// Settled reports whether a delivery was acked or nacked, and the nack error if any.
func (s *ChannelSource) Settled(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.acks[id]
	return ok, err
}
