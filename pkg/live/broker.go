package live

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broker fans events out to in-process subscriptions.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	seq  atomic.Uint64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscription is signalled at least once after any event touching one of its
// topics. Signals that arrive while one is pending are merged.
type Subscription struct {
	broker *Broker
	topics map[string]struct{}
	c      chan struct{}
	once   sync.Once
}

func (b *Broker) Subscribe(topics ...string) *Subscription {
	s := &Subscription{
		broker: b,
		topics: make(map[string]struct{}, len(topics)),
		c:      make(chan struct{}, 1),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broker) Publish(_ context.Context, ev Event) error {
	b.seq.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.matches(ev.Topics) {
			s.notify()
		}
	}
	return nil
}

// Seq counts the events published so far.
func (b *Broker) Seq() uint64 {
	return b.seq.Load()
}

func (s *Subscription) C() <-chan struct{} {
	return s.c
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
}

func (s *Subscription) matches(topics []string) bool {
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			return true
		}
	}
	return false
}

func (s *Subscription) notify() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}
