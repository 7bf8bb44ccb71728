package bitcoin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/walletlink/service/sdk"
)

// Disconnecter is implemented by providers that can drop their own session.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// Connector is an sdk.Source over the Bitcoin providers injected into env.
// It reports the first address of whichever brand it connected.
type Connector struct {
	env    Environment
	logger *slog.Logger

	mu       sync.Mutex
	status   sdk.Status
	active   *Wallet
	watchers map[int]func(sdk.Status)
	nextID   int
}

// NewConnector creates a disconnected Connector.
func NewConnector(env Environment, logger *slog.Logger) *Connector {
	return &Connector{
		env:      env,
		logger:   logger,
		watchers: make(map[int]func(sdk.Status)),
	}
}

// Available lists the installed brands.
func (c *Connector) Available() []Wallet {
	return Discover(c.env)
}

// Status implements sdk.Source.
func (c *Connector) Status() sdk.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Watch implements sdk.Source.
func (c *Connector) Watch(fn func(sdk.Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.watchers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

// Connect implements sdk.Source. walletName is matched against the supported
// brands; the brand's own call sequence is used and its first address wins.
func (c *Connector) Connect(ctx context.Context, walletName string) error {
	w, ok := Find(walletName)
	if !ok {
		return fmt.Errorf("%w: unknown wallet %q", ErrNoProvider, walletName)
	}

	c.set(sdk.Status{Pending: true, WalletName: w.Name}, nil)

	addr, err := FirstAddress(ctx, c.env, w)
	if err != nil {
		c.logger.Warn("bitcoin wallet connect failed", "wallet", w.ID, "error", err)
		c.set(sdk.Status{Error: err.Error()}, nil)
		return err
	}

	c.logger.Info("bitcoin wallet connected", "wallet", w.ID)
	c.set(sdk.Status{Connected: true, Account: addr, WalletName: w.Name}, &w)
	return nil
}

// Disconnect implements sdk.Source. Providers without a disconnect call are
// simply forgotten.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	var err error
	if active != nil {
		if v, ok := c.env.Lookup(active.Global); ok {
			if d, ok := v.(Disconnecter); ok {
				err = d.Disconnect(ctx)
			}
		}
	}
	c.set(sdk.Status{}, nil)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", active.Name, err)
	}
	return nil
}

func (c *Connector) set(s sdk.Status, active *Wallet) {
	c.mu.Lock()
	c.status = s
	c.active = active
	fns := make([]func(sdk.Status), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
