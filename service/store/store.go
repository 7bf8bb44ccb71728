// Package store holds the single source of truth for the active wallet
// connection and the narrow surface through which it is mutated.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/walletlink/service/metrics"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/google/uuid"
)

const (
	// DefaultSettleDelay is how long a disconnect broadcast stays raised.
	DefaultSettleDelay = 50 * time.Millisecond

	// DefaultClaimTTL bounds how long a connect claim may stay uncommitted.
	DefaultClaimTTL = 2 * time.Minute

	defaultPersistTimeout = 5 * time.Second
)

var (
	// ErrClaimHeld is returned when another chain holds a live connect claim.
	ErrClaimHeld = errors.New("another chain is connecting")

	// ErrClaimLost is returned when committing with a claim that expired or was dropped.
	ErrClaimLost = errors.New("connect claim expired or was released")
)

// Persister is the persistence adapter the Store writes through.
type Persister interface {
	Save(ctx context.Context, f wallet.Fact)
	Load(ctx context.Context) *wallet.Fact
	Clear(ctx context.Context)
}

// Listener receives every state snapshot. Listeners run synchronously on the
// mutating goroutine, in subscription order, before the mutation returns.
// They may call GetState but must not mutate the Store.
type Listener func(wallet.State)

// Claim is the right to publish a connected fact for one chain. Seq is the
// disconnect sequence the claim was taken against: a later request aimed at
// every chain or at Chain revokes it.
type Claim struct {
	Chain   wallet.Chain
	Token   string
	Expires time.Time
	Seq     uint64
}

type listenerEntry struct {
	id int
	fn Listener
}

// Store is the shared connection store.
type Store struct {
	// dispatch serialises mutation, persistence and delivery so every listener
	// sees transitions in the order they were applied.
	dispatch sync.Mutex

	mu        sync.RWMutex
	state     wallet.State
	claim     *Claim
	requests  map[wallet.Chain]uint64 // newest disconnect seq per target
	listeners []listenerEntry
	nextID    int
	resetT    *time.Timer

	persist        Persister
	settleDelay    time.Duration
	claimTTL       time.Duration
	persistTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithSettleDelay sets how long disconnectRequested stays raised.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Store) { s.settleDelay = d }
}

// WithClaimTTL sets the connect claim lifetime.
func WithClaimTTL(d time.Duration) Option {
	return func(s *Store) { s.claimTTL = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records store metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithPersistTimeout bounds each persistence call.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) { s.persistTimeout = d }
}

// New creates a Store and restores a persisted fact if one was saved while
// connected. The restored fact is an optimistic hint; no chain SDK is queried.
func New(ctx context.Context, p Persister, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		persist:        p,
		requests:       make(map[wallet.Chain]uint64),
		settleDelay:    DefaultSettleDelay,
		claimTTL:       DefaultClaimTTL,
		persistTimeout: defaultPersistTimeout,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if restored := p.Load(ctx); restored != nil && restored.Connected {
		s.state.Wallet = *restored
		s.logger.InfoContext(ctx, "restored persisted wallet fact",
			"chain", restored.Chain.String(),
			"wallet_kind", restored.WalletKind,
		)
	}
	s.recordConnected()
	return s
}

// GetState returns the current snapshot.
func (s *Store) GetState() wallet.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers l and returns a func that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	next := make([]listenerEntry, len(s.listeners), len(s.listeners)+1)
	copy(next, s.listeners)
	s.listeners = append(next, listenerEntry{id: id, fn: l})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		kept := make([]listenerEntry, 0, len(s.listeners))
		for _, e := range s.listeners {
			if e.id != id {
				kept = append(kept, e)
			}
		}
		s.listeners = kept
	}
}

// UpdateWalletState replaces the wallet fact wholesale. f must be a complete
// connected fact or the disconnected sentinel; anything else is rejected with
// wallet.ErrInvalidFact and leaves state untouched. A connected fact is
// published through a claim, so it fails with ErrClaimHeld while another chain
// is mid-connect.
func (s *Store) UpdateWalletState(f wallet.Fact) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Connected {
		c, err := s.Claim(f.Chain)
		if err != nil {
			return err
		}
		return s.Commit(c, f)
	}

	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	if s.state.Wallet.IsSentinel() {
		s.mu.Unlock()
		return nil
	}
	prev := s.state.Wallet
	s.state.Wallet = wallet.Disconnected()
	snap := s.state
	s.mu.Unlock()

	s.publishCleared(prev, snap)
	return nil
}

// Claim reserves the right to publish a connected fact for chain. Claiming a
// chain that already holds the live claim refreshes and shares it.
func (s *Store) Claim(chain wallet.Chain) (Claim, error) {
	return s.takeClaim(chain, nil)
}

// ClaimSince is Claim for a caller that observed the store at disconnect
// sequence seq. It fails with ErrClaimLost if a disconnect aimed at every
// chain or at chain was requested after seq.
func (s *Store) ClaimSince(chain wallet.Chain, seq uint64) (Claim, error) {
	return s.takeClaim(chain, &seq)
}

func (s *Store) takeClaim(chain wallet.Chain, since *uint64) (Claim, error) {
	if !chain.Valid() {
		return Claim{}, fmt.Errorf("cannot claim chain %q", string(chain))
	}

	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	seq := s.state.Session.DisconnectSeq
	if since != nil {
		if s.revokedAfter(chain, *since) {
			s.mu.Unlock()
			return Claim{}, ErrClaimLost
		}
		seq = *since
	}
	now := s.now()
	if s.claim != nil && now.Before(s.claim.Expires) {
		if s.claim.Chain != chain {
			holder := s.claim.Chain
			s.mu.Unlock()
			s.metrics.RecordClaimConflict(chain.String(), holder.String())
			return Claim{}, fmt.Errorf("%w: %s", ErrClaimHeld, holder)
		}
		s.claim.Expires = now.Add(s.claimTTL)
		c := *s.claim
		c.Seq = seq
		s.mu.Unlock()
		return c, nil
	}

	s.claim = &Claim{Chain: chain, Token: uuid.NewString(), Expires: now.Add(s.claimTTL), Seq: seq}
	c := *s.claim
	changed := !s.state.Session.IsConnecting
	s.state.Session.IsConnecting = true
	snap := s.state
	s.mu.Unlock()

	s.logger.Debug("connect claim taken", "chain", chain.String())
	if changed {
		s.notify(snap)
	}
	return c, nil
}

// Commit publishes f using c. If a different chain currently owns the fact,
// that fact is cleared first and a disconnect broadcast is aimed at its chain,
// so consumers observe old -> sentinel -> new and never a merged fact.
func (s *Store) Commit(c Claim, f wallet.Fact) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if !f.Connected || f.Chain != c.Chain {
		return fmt.Errorf("%w: claim for %s cannot publish %s fact", wallet.ErrInvalidFact, c.Chain, f.Chain)
	}

	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	if s.claim == nil || s.claim.Token != c.Token || !s.now().Before(s.claim.Expires) {
		s.mu.Unlock()
		return ErrClaimLost
	}
	if s.revokedAfter(c.Chain, c.Seq) {
		s.claim = nil
		s.state.Session.IsConnecting = false
		snap := s.state
		s.mu.Unlock()
		s.logger.Info("connect claim revoked by disconnect request", "chain", c.Chain.String())
		s.notify(snap)
		return ErrClaimLost
	}
	s.claim = nil
	s.state.Session.IsConnecting = false
	s.state.Session.Error = ""

	prev := s.state.Wallet
	if prev.Connected && prev.Chain == f.Chain && prev.WalletKind == f.WalletKind && prev.Address == f.Address {
		// Same connection observed again (e.g. the SDK restored a session we
		// already restored from storage): keep the original timestamp.
		snap := s.state
		s.mu.Unlock()
		s.notify(snap)
		return nil
	}

	if prev.Connected && prev.Chain != f.Chain {
		s.state.Wallet = wallet.Disconnected()
		seq := s.raiseDisconnect(prev.Chain)
		cleared := s.state
		s.mu.Unlock()

		s.logger.Info("handing over wallet fact",
			"from_chain", prev.Chain.String(),
			"to_chain", f.Chain.String(),
		)
		s.metrics.RecordDisconnectRequest(prev.Chain.String())
		s.publishCleared(prev, cleared)
		s.scheduleReset(seq)

		s.mu.Lock()
	}

	s.state.Wallet = f
	snap := s.state
	s.mu.Unlock()

	ctx, cancel := s.persistCtx()
	s.persist.Save(ctx, f)
	cancel()

	s.logger.Info("wallet connected",
		"chain", f.Chain.String(),
		"wallet_kind", f.WalletKind,
		"address", f.Address,
	)
	s.metrics.RecordFactTransition(f.Chain.String(), f.WalletKind, "connect")
	s.recordConnected()
	s.notify(snap)
	return nil
}

// Abandon releases c without publishing anything.
func (s *Store) Abandon(c Claim) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	if s.claim == nil || s.claim.Token != c.Token {
		s.mu.Unlock()
		return
	}
	s.claim = nil
	s.state.Session.IsConnecting = false
	snap := s.state
	s.mu.Unlock()

	s.logger.Debug("connect claim abandoned", "chain", c.Chain.String())
	s.notify(snap)
}

// RequestDisconnect clears the fact and persistence immediately and raises the
// disconnect broadcast so whichever bridge owns a live SDK connection tears it
// down. The flag is lowered again after the settle delay.
func (s *Store) RequestDisconnect() {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	prev := s.state.Wallet
	s.state.Wallet = wallet.Disconnected()
	s.claim = nil
	s.state.Session.IsConnecting = false
	seq := s.raiseDisconnect(wallet.ChainNone)
	snap := s.state
	s.mu.Unlock()

	s.logger.Info("disconnect requested", "chain", prev.Chain.String())
	s.metrics.RecordDisconnectRequest("all")
	s.publishCleared(prev, snap)
	s.scheduleReset(seq)
}

// DisconnectChain clears the fact only if chain still owns it. Bridges use it
// when their SDK reports disconnected so a late event cannot wipe a fact that
// another chain has since published.
func (s *Store) DisconnectChain(chain wallet.Chain) bool {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	prev := s.state.Wallet
	if !prev.Connected || prev.Chain != chain {
		s.mu.Unlock()
		return false
	}
	s.state.Wallet = wallet.Disconnected()
	snap := s.state
	s.mu.Unlock()

	s.publishCleared(prev, snap)
	return true
}

// SetError records a connection failure for the UI. The wallet fact is untouched.
func (s *Store) SetError(message string) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	if s.state.Session.Error == message {
		s.mu.Unlock()
		return
	}
	s.state.Session.Error = message
	snap := s.state
	s.mu.Unlock()

	s.notify(snap)
}

// ClearError dismisses the current error message.
func (s *Store) ClearError() {
	s.SetError("")
}

// Close stops the pending flag reset, if any.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetT != nil {
		s.resetT.Stop()
		s.resetT = nil
	}
}

// raiseDisconnect must be called with s.mu held.
func (s *Store) raiseDisconnect(target wallet.Chain) uint64 {
	s.state.Session.DisconnectSeq++
	s.state.Session.DisconnectRequested = true
	s.state.Session.DisconnectTarget = target
	s.requests[target] = s.state.Session.DisconnectSeq
	return s.state.Session.DisconnectSeq
}

// revokedAfter must be called with s.mu held.
func (s *Store) revokedAfter(chain wallet.Chain, seq uint64) bool {
	return s.requests[wallet.ChainNone] > seq || s.requests[chain] > seq
}

func (s *Store) scheduleReset(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetT != nil {
		s.resetT.Stop()
	}
	s.resetT = time.AfterFunc(s.settleDelay, func() { s.lowerDisconnect(seq) })
}

func (s *Store) lowerDisconnect(seq uint64) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	if s.state.Session.DisconnectSeq != seq || !s.state.Session.DisconnectRequested {
		s.mu.Unlock()
		return
	}
	s.state.Session.DisconnectRequested = false
	s.state.Session.DisconnectTarget = wallet.ChainNone
	snap := s.state
	s.mu.Unlock()

	s.notify(snap)
}

// publishCleared persists and announces a transition to the sentinel. Caller
// holds s.dispatch but not s.mu.
func (s *Store) publishCleared(prev wallet.Fact, snap wallet.State) {
	ctx, cancel := s.persistCtx()
	s.persist.Clear(ctx)
	cancel()

	if prev.Connected {
		s.logger.Info("wallet disconnected", "chain", prev.Chain.String())
		s.metrics.RecordFactTransition(prev.Chain.String(), prev.WalletKind, "disconnect")
	}
	s.recordConnected()
	s.notify(snap)
}

func (s *Store) notify(snap wallet.State) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, e := range listeners {
		e.fn(snap)
	}
}

func (s *Store) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.persistTimeout)
}

func (s *Store) recordConnected() {
	if s.metrics == nil {
		return
	}
	chains := make([]string, 0, 4)
	for _, c := range wallet.Chains() {
		chains = append(chains, c.String())
	}
	s.mu.RLock()
	active := ""
	if s.state.Wallet.Connected {
		active = s.state.Wallet.Chain.String()
	}
	s.mu.RUnlock()
	s.metrics.SetConnectedChain(chains, active)
}
