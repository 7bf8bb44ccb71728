package nats

import (
	"context"
	"sync"

	"github.com/brojonat/walletlink/service/wallet"
)

// MockPublisher records fact events in publish order for tests. Failures can
// be scheduled for a number of upcoming publishes.
type MockPublisher struct {
	mu       sync.RWMutex
	events   []*FactEvent
	attempts int
	failN    int
	failErr  error
	closed   bool
}

// NewMockPublisher creates an empty recorder.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishFact records event unless a scheduled failure is pending.
func (m *MockPublisher) PublishFact(ctx context.Context, event *FactEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.failN > 0 {
		m.failN--
		return m.failErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FailNext makes the next n publishes return err without recording.
func (m *MockPublisher) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN, m.failErr = n, err
}

// Attempts counts every PublishFact call, failed ones included.
func (m *MockPublisher) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// Events returns the recorded events.
func (m *MockPublisher) Events() []*FactEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*FactEvent(nil), m.events...)
}

func (m *MockPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Chains lists the chain of each recorded fact; a disconnect shows as ChainNone.
func (m *MockPublisher) Chains() []wallet.Chain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wallet.Chain, len(m.events))
	for i, e := range m.events {
		out[i] = wallet.Chain(e.Chain)
	}
	return out
}

// ForChain returns the events published on chain's subject.
func (m *MockPublisher) ForChain(chain wallet.Chain) []*FactEvent {
	subject := SubjectFor(chain)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*FactEvent
	for _, e := range m.events {
		if e.Subject() == subject {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event.
func (m *MockPublisher) Last() (*FactEvent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.events) == 0 {
		return nil, false
	}
	return m.events[len(m.events)-1], true
}

func (m *MockPublisher) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
