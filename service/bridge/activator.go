package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/walletlink/service/wallet"
)

// Activator runs every bridge for as long as its context lives, connected
// or not, so a restored SDK session always reaches the store.
type Activator struct {
	bridges map[wallet.Chain]*Bridge
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewActivator groups bridges by chain. A later bridge for the same chain
// replaces an earlier one.
func NewActivator(logger *slog.Logger, bridges ...*Bridge) *Activator {
	a := &Activator{
		bridges: make(map[wallet.Chain]*Bridge, len(bridges)),
		logger:  logger,
	}
	for _, b := range bridges {
		a.bridges[b.Chain()] = b
	}
	return a
}

// Bridge returns the bridge for chain.
func (a *Activator) Bridge(chain wallet.Chain) (*Bridge, error) {
	b, ok := a.bridges[chain]
	if !ok {
		return nil, fmt.Errorf("no bridge for chain %q", chain.String())
	}
	return b, nil
}

// Start attaches every bridge to its SDK and the store before returning, then
// runs them until ctx is done. Store changes made after Start returns are seen
// by every bridge.
func (a *Activator) Start(ctx context.Context) {
	for chain, b := range a.bridges {
		detach := b.attach()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer detach()
			if err := b.loop(ctx); err != nil {
				a.logger.Error("bridge exited", "chain", chain.String(), "error", err)
			}
		}()
	}
	a.logger.Info("bridges active", "count", len(a.bridges))
}

// Wait blocks until every bridge Start launched has stopped.
func (a *Activator) Wait() {
	a.wg.Wait()
}

// Run starts every bridge and blocks until ctx is done and all have stopped.
func (a *Activator) Run(ctx context.Context) error {
	a.Start(ctx)
	a.Wait()
	return nil
}
