package nats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/walletlink/service/wallet"
)

const publishTimeout = 5 * time.Second

// Forwarder publishes fact transitions seen by a store listener. Listen never
// blocks: events queue up for Run, and are dropped when the queue is full.
type Forwarder struct {
	publisher Publisher
	logger    *slog.Logger
	queue     chan *FactEvent

	mu   sync.Mutex
	last wallet.Fact
}

// NewForwarder creates a Forwarder holding up to buffer unsent events.
// initial is the fact the store currently holds.
func NewForwarder(p Publisher, initial wallet.Fact, buffer int, logger *slog.Logger) *Forwarder {
	if buffer < 1 {
		buffer = 1
	}
	return &Forwarder{
		publisher: p,
		logger:    logger,
		queue:     make(chan *FactEvent, buffer),
		last:      initial,
	}
}

// Listen is a store listener. Session-only changes are ignored.
func (f *Forwarder) Listen(st wallet.State) {
	f.mu.Lock()
	if f.last.Equal(st.Wallet) {
		f.mu.Unlock()
		return
	}
	event := FromFact(f.last, st.Wallet)
	f.last = st.Wallet
	f.mu.Unlock()

	select {
	case f.queue <- event:
	default:
		f.logger.Warn("fact event queue full, dropping event", "subject", event.Subject())
	}
}

// Run publishes queued events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-f.queue:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := f.publisher.PublishFact(pctx, event); err != nil {
				f.logger.Error("failed to publish fact event",
					"subject", event.Subject(),
					"error", err,
				)
			}
			cancel()
		}
	}
}
