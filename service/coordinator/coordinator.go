// Package coordinator wires persistence, the store, chain SDK relays and
// bridges into one running unit.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/walletlink/service/bitcoin"
	"github.com/brojonat/walletlink/service/bridge"
	"github.com/brojonat/walletlink/service/config"
	"github.com/brojonat/walletlink/service/metrics"
	natspkg "github.com/brojonat/walletlink/service/nats"
	"github.com/brojonat/walletlink/service/persist"
	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/store"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Coordinator owns every long-lived component. The store is built (and its
// persisted fact restored) before any bridge starts.
type Coordinator struct {
	store     *store.Store
	relays    map[wallet.Chain]*sdk.Relay
	activator *bridge.Activator
	forwarder *natspkg.Forwarder
	publisher natspkg.Publisher
	backend   string

	closers []func()
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	kv        persist.KV
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	btcEnv    bitcoin.Environment
}

// WithKV uses kv instead of the backend named in the config.
func WithKV(kv persist.KV) Option {
	return func(o *options) { o.kv = kv }
}

// WithPublisher forwards fact events to p regardless of PUBLISH_EVENTS.
func WithPublisher(p natspkg.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithMetrics records metrics from every component into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithBitcoinProviders drives the bitcoin bridge from providers injected into
// env instead of a remote host. The bitcoin chain then has no relay.
func WithBitcoinProviders(env bitcoin.Environment) Option {
	return func(o *options) { o.btcEnv = env }
}

// New builds the components described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Coordinator{
		relays: make(map[wallet.Chain]*sdk.Relay),
		logger: logger,
	}

	kv := o.kv
	if kv == nil {
		var err error
		kv, err = c.openKV(ctx, cfg)
		if err != nil {
			c.Close()
			return nil, err
		}
	}
	c.backend = kv.Backend()

	adapter := persist.NewAdapter(kv, cfg.PersistKey, o.metrics, logger)
	c.store = store.New(ctx, adapter, logger,
		store.WithSettleDelay(cfg.SettleDelay),
		store.WithClaimTTL(cfg.ClaimTTL),
		store.WithMetrics(o.metrics),
	)
	c.closers = append(c.closers, c.store.Close)

	net, err := bridge.BitcoinNetwork(cfg.BitcoinNetwork)
	if err != nil {
		c.Close()
		return nil, err
	}

	for _, chain := range wallet.Chains() {
		c.relays[chain] = sdk.NewRelay(chain.String(), logger)
	}
	var btcSource sdk.Source = c.relays[wallet.ChainBitcoin]
	if o.btcEnv != nil {
		btcSource = bitcoin.NewConnector(o.btcEnv, logger)
		delete(c.relays, wallet.ChainBitcoin)
	}
	c.activator = bridge.NewActivator(logger,
		bridge.NewEthereum(c.store, c.relays[wallet.ChainEthereum], logger, o.metrics),
		bridge.NewSolana(c.store, c.relays[wallet.ChainSolana], logger, o.metrics),
		bridge.NewBitcoin(c.store, btcSource, net, logger, o.metrics),
		bridge.NewMove(c.store, c.relays[wallet.ChainMove], logger, o.metrics),
	)

	c.publisher = o.publisher
	if c.publisher == nil && cfg.PublishEvents {
		pub, err := natspkg.NewPublisher(cfg.NATSURL, logger, o.metrics)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.publisher = pub
		c.closers = append(c.closers, func() { pub.Close() })
	}
	if c.publisher != nil {
		c.forwarder = natspkg.NewForwarder(c.publisher, c.store.GetState().Wallet, cfg.EventBuffer, logger)
		c.closers = append(c.closers, c.store.Subscribe(c.forwarder.Listen))
	}

	logger.Info("coordinator ready",
		"storage_backend", c.backend,
		"restored", c.store.GetState().Wallet.Connected,
		"publish_events", c.publisher != nil,
		"bitcoin_network", net.Name,
		"bitcoin_in_process", o.btcEnv != nil,
	)
	return c, nil
}

func (c *Coordinator) openKV(ctx context.Context, cfg *config.Config) (persist.KV, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return persist.NewMemoryKV(), nil

	case config.StorageFile:
		return persist.NewFileKV(cfg.StorageDir)

	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		kv := persist.NewPostgresKV(pool)
		if err := kv.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		c.logger.Info("connected to database")
		return kv, nil

	case config.StorageNATS:
		kv, err := persist.NewNATSKV(ctx, cfg.NATSURL, cfg.NATSKVBucket)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { kv.Close() })
		return kv, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// Start runs the bridges and the event forwarder until ctx is done. Every
// bridge observes the store by the time Start returns.
func (c *Coordinator) Start(ctx context.Context) {
	if c.forwarder != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.forwarder.Run(ctx)
		}()
	}
	c.activator.Start(ctx)
}

// Wait blocks until everything Start launched has returned.
func (c *Coordinator) Wait() {
	c.activator.Wait()
	c.wg.Wait()
}

// Close releases every resource in reverse order of acquisition.
func (c *Coordinator) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Store returns the shared connection store.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// Bridge returns the bridge serving chain.
func (c *Coordinator) Bridge(chain wallet.Chain) (*bridge.Bridge, error) {
	return c.activator.Bridge(chain)
}

// Relay returns the SDK relay for chain.
func (c *Coordinator) Relay(chain wallet.Chain) (*sdk.Relay, error) {
	r, ok := c.relays[chain]
	if !ok {
		return nil, fmt.Errorf("no sdk relay for chain %q", chain.String())
	}
	return r, nil
}

// Backend names the storage backend in use.
func (c *Coordinator) Backend() string {
	return c.backend
}
