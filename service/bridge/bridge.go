// Package bridge turns native chain SDK connection events into wallet facts
// in the shared store, one bridge per chain.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/walletlink/service/metrics"
	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/store"
	"github.com/brojonat/walletlink/service/wallet"
)

const sdkCallTimeout = 10 * time.Second

// Canonicalizer validates an SDK account and returns its canonical form.
type Canonicalizer func(account string) (string, error)

// ChainSpec is everything chain-specific a Bridge needs.
type ChainSpec struct {
	Chain     wallet.Chain
	Brands    []Brand
	Fallback  string
	Canonical Canonicalizer
}

// Bridge observes one chain's SDK and keeps the store in step with it.
type Bridge struct {
	spec    ChainSpec
	store   *store.Store
	source  sdk.Source
	logger  *slog.Logger
	metrics *metrics.Metrics

	wake      chan struct{}
	requested atomic.Uint64 // newest disconnect broadcast aimed at this chain

	mu          sync.Mutex
	pending     *store.Claim // taken by Connect, released once the SDK answers
	connectBase sdk.Status // SDK status when Connect was called
	draining    bool       // we asked the SDK to disconnect and wait for it to settle

	// owned by the Run goroutine
	handled uint64
	lastErr string
}

// New creates a Bridge. Most callers want one of the chain constructors.
func New(spec ChainSpec, st *store.Store, src sdk.Source, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		spec:    spec,
		store:   st,
		source:  src,
		logger:  logger.With("chain", spec.Chain.String()),
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
}

// Chain returns the chain this bridge serves.
func (b *Bridge) Chain() wallet.Chain {
	return b.spec.Chain
}

// Run observes the SDK and the store until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	detach := b.attach()
	defer detach()
	return b.loop(ctx)
}

// attach subscribes to the SDK and the store, then replays the current store
// state so a broadcast raised before the subscription still reaches the loop.
func (b *Bridge) attach() (detach func()) {
	stopWatch := b.source.Watch(func(sdk.Status) { b.poke() })
	unsubscribe := b.store.Subscribe(b.observe)
	b.observe(b.store.GetState())
	b.poke()
	return func() {
		unsubscribe()
		stopWatch()
	}
}

func (b *Bridge) loop(ctx context.Context) error {
	b.logger.Debug("bridge started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("bridge stopped")
			return nil
		case <-b.wake:
			b.sync(ctx)
		}
	}
}

// Connect claims the store for this chain and asks the SDK to connect
// walletName. The connection itself is published once the SDK reports it.
// Failures are recorded in the session error and returned.
func (b *Bridge) Connect(ctx context.Context, walletName string) error {
	claim, err := b.store.Claim(b.spec.Chain)
	if err != nil {
		b.store.SetError(err.Error())
		b.metrics.RecordBridgeError(b.spec.Chain.String(), "claim_held")
		return err
	}

	b.mu.Lock()
	b.pending = &claim
	b.connectBase = b.source.Status()
	b.draining = false
	b.mu.Unlock()

	if err := b.source.Connect(ctx, walletName); err != nil {
		b.mu.Lock()
		b.pending = nil
		b.mu.Unlock()
		b.store.Abandon(claim)
		b.store.SetError(fmt.Sprintf("could not connect %s: %v", walletName, err))
		b.metrics.RecordBridgeError(b.spec.Chain.String(), "connect_failed")
		b.logger.Warn("sdk connect failed", "wallet_name", walletName, "error", err)
		return fmt.Errorf("connect %s wallet %q: %w", b.spec.Chain, walletName, err)
	}

	b.metrics.RecordBridgeEvent(b.spec.Chain.String(), "connect_requested")
	b.poke()
	return nil
}

// observe is the store listener. It runs on the mutating goroutine, so it
// only records the request and wakes the loop.
func (b *Bridge) observe(st wallet.State) {
	if !st.Session.Targets(b.spec.Chain) {
		return
	}
	for {
		cur := b.requested.Load()
		if st.Session.DisconnectSeq <= cur {
			return
		}
		if b.requested.CompareAndSwap(cur, st.Session.DisconnectSeq) {
			b.poke()
			return
		}
	}
}

func (b *Bridge) poke() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) sync(ctx context.Context) {
	// Read before the broadcast check: a request landing after this point
	// revokes any claim publish takes.
	since := b.store.GetState().Session.DisconnectSeq
	status := b.source.Status()

	if seq := b.requested.Load(); seq > b.handled {
		b.handled = seq
		// The store dropped any claim with the request, so an in-flight
		// connect is cancelled too.
		b.mu.Lock()
		connecting := b.pending != nil
		b.pending = nil
		b.mu.Unlock()
		if status.Connected || connecting {
			b.metrics.RecordBridgeEvent(b.spec.Chain.String(), "disconnect_broadcast")
			b.disconnectSDK(ctx, "disconnect requested")
			return
		}
	}

	if status.Error != b.lastErr {
		b.lastErr = status.Error
		if status.Error != "" {
			b.logger.Info("sdk reported failure", "error", status.Error)
			b.metrics.RecordBridgeError(b.spec.Chain.String(), "sdk_reported")
			b.store.SetError(status.Error)
			b.abandonPending()
		}
	}

	switch {
	case status.Ready():
		b.mu.Lock()
		draining := b.draining
		b.mu.Unlock()
		if !draining {
			b.publish(ctx, status, since)
		}

	case status.Settled():
		b.mu.Lock()
		b.draining = false
		abandon := b.pending != nil && status != b.connectBase
		b.mu.Unlock()
		if abandon {
			b.abandonPending()
		}
		if b.store.DisconnectChain(b.spec.Chain) {
			b.metrics.RecordBridgeEvent(b.spec.Chain.String(), "disconnected")
		}
	}
}

func (b *Bridge) publish(ctx context.Context, status sdk.Status, since uint64) {
	chain := b.spec.Chain.String()

	address, err := b.spec.Canonical(status.Account)
	if err != nil {
		b.logger.Warn("sdk reported an unusable account", "account", status.Account, "error", err)
		b.metrics.RecordBridgeError(chain, "bad_account")
		b.store.SetError(fmt.Sprintf("%s wallet reported an invalid address", b.spec.Chain))
		return
	}
	kind := Resolve(status.WalletName, b.spec.Brands, b.spec.Fallback)

	b.mu.Lock()
	pending := b.pending != nil
	b.mu.Unlock()

	cur := b.store.GetState().Wallet
	if !pending && cur.Connected && cur.Chain == b.spec.Chain && cur.WalletKind == kind && cur.Address == address {
		return
	}

	claim, err := b.store.ClaimSince(b.spec.Chain, since)
	if errors.Is(err, store.ErrClaimLost) {
		// A disconnect request raced this publish; the loop handles it next.
		b.logger.Info("disconnect requested while publishing, fact dropped")
		b.poke()
		return
	}
	if errors.Is(err, store.ErrClaimHeld) {
		b.logger.Info("another chain is connecting, dropping sdk session", "error", err)
		b.store.SetError(err.Error())
		b.disconnectSDK(ctx, "claim held by another chain")
		return
	}
	if err != nil {
		b.logger.Error("failed to claim store", "error", err)
		b.metrics.RecordBridgeError(chain, "claim_failed")
		return
	}

	fact := wallet.NewConnected(b.spec.Chain, kind, address, time.Now())
	if err := b.store.Commit(claim, fact); err != nil {
		// Only a disconnect request racing this commit drops the claim; the
		// broadcast that follows tears the SDK down.
		b.logger.Info("connected fact not published", "error", err)
		b.metrics.RecordBridgeError(chain, "commit_failed")
		b.poke()
		return
	}

	b.mu.Lock()
	b.pending = nil
	b.mu.Unlock()
	b.metrics.RecordBridgeEvent(chain, "connected")
}

func (b *Bridge) disconnectSDK(ctx context.Context, reason string) {
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, sdkCallTimeout)
	defer cancel()
	b.logger.Info("disconnecting sdk", "reason", reason)
	if err := b.source.Disconnect(callCtx); err != nil {
		b.logger.Warn("sdk disconnect failed", "error", err)
		b.metrics.RecordBridgeError(b.spec.Chain.String(), "disconnect_failed")
	}
}

func (b *Bridge) abandonPending() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	if pending != nil {
		b.store.Abandon(*pending)
	}
}
