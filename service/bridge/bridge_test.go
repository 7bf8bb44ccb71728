package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/walletlink/service/persist"
	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/store"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ethAccount   = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	ethChecksum  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	solAccount   = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
	settleWindow = 100 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeHost plays the part of the runtime hosting a native wallet SDK.
type fakeHost struct {
	relay   *sdk.Relay
	account string

	mu          sync.Mutex
	reject      string
	silent      bool
	connects    []string
	disconnects int
}

func startHost(t *testing.T, relay *sdk.Relay, account string) *fakeHost {
	t.Helper()
	h := &fakeHost{relay: relay, account: account}
	cmds, cancel := relay.Commands(8)
	t.Cleanup(cancel)

	go func() {
		for cmd := range cmds {
			h.handle(cmd)
		}
	}()
	return h
}

func (h *fakeHost) handle(cmd sdk.Command) {
	h.mu.Lock()
	reject, silent := h.reject, h.silent
	switch cmd.Kind {
	case sdk.CommandConnect:
		h.connects = append(h.connects, cmd.WalletName)
	case sdk.CommandDisconnect:
		h.disconnects++
	}
	h.mu.Unlock()

	switch {
	case silent:
	case cmd.Kind == sdk.CommandDisconnect:
		h.relay.Push(sdk.Status{})
	case reject != "":
		h.relay.Push(sdk.Status{Error: reject})
	default:
		h.relay.Push(sdk.Status{Connected: true, Account: h.account, WalletName: cmd.WalletName})
	}
}

func (h *fakeHost) Disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

// factLog records every wallet fact the store publishes.
type factLog struct {
	mu    sync.Mutex
	facts []wallet.Fact
}

func (l *factLog) listen(st wallet.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.facts); n > 0 && l.facts[n-1].Equal(st.Wallet) {
		return
	}
	l.facts = append(l.facts, st.Wallet)
}

func (l *factLog) all() []wallet.Fact {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]wallet.Fact(nil), l.facts...)
}

type harness struct {
	store   *store.Store
	adapter *persist.Adapter
	relays  map[wallet.Chain]*sdk.Relay
	act     *Activator
	log     *factLog
}

func newHarness(t *testing.T, kv persist.KV) *harness {
	t.Helper()
	logger := testLogger()
	adapter := persist.NewAdapter(kv, "", nil, logger)
	st := store.New(context.Background(), adapter, logger, store.WithSettleDelay(20*time.Millisecond))
	t.Cleanup(st.Close)

	log := &factLog{}
	log.listen(st.GetState())
	t.Cleanup(st.Subscribe(log.listen))

	relays := map[wallet.Chain]*sdk.Relay{}
	for _, c := range wallet.Chains() {
		relays[c] = sdk.NewRelay(c.String(), logger)
	}
	act := NewActivator(logger,
		NewEthereum(st, relays[wallet.ChainEthereum], logger, nil),
		NewSolana(st, relays[wallet.ChainSolana], logger, nil),
		NewBitcoin(st, relays[wallet.ChainBitcoin], &chaincfg.MainNetParams, logger, nil),
		NewMove(st, relays[wallet.ChainMove], logger, nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	act.Start(ctx)
	t.Cleanup(func() {
		cancel()
		act.Wait()
	})

	return &harness{store: st, adapter: adapter, relays: relays, act: act, log: log}
}

func (h *harness) bridge(t *testing.T, c wallet.Chain) *Bridge {
	t.Helper()
	b, err := h.act.Bridge(c)
	require.NoError(t, err)
	return b
}

func (h *harness) waitForChain(t *testing.T, c wallet.Chain) {
	t.Helper()
	require.Eventually(t, func() bool {
		f := h.store.GetState().Wallet
		return f.Connected == (c != wallet.ChainNone) && f.Chain == c
	}, waitFor, tick, "store never reached chain %s", c)
}

// assertFactsValid checks every published fact is either complete or the sentinel.
func assertFactsValid(t *testing.T, facts []wallet.Fact) {
	t.Helper()
	for i, f := range facts {
		assert.NoError(t, f.Validate(), "fact %d: %+v", i, f)
	}
}

func TestBridgePublishesRestoredSDKSession(t *testing.T) {
	h := newHarness(t, persist.NewMemoryKV())

	h.relays[wallet.ChainEthereum].Push(sdk.Status{
		Connected:  true,
		Account:    ethAccount,
		WalletName: "MetaMask",
	})
	h.waitForChain(t, wallet.ChainEthereum)

	f := h.store.GetState().Wallet
	assert.Equal(t, "metamask", f.WalletKind)
	assert.Equal(t, ethChecksum, f.Address)
	require.NotNil(t, f.ConnectedAt)

	saved := h.adapter.Load(context.Background())
	require.NotNil(t, saved)
	assert.True(t, f.Equal(*saved), "persisted record matches the published fact")
	assert.False(t, h.store.GetState().Session.IsConnecting)
}

func TestBridgeHandsOverBetweenChains(t *testing.T) {
	h := newHarness(t, persist.NewMemoryKV())
	eth := startHost(t, h.relays[wallet.ChainEthereum], ethAccount)
	startHost(t, h.relays[wallet.ChainSolana], solAccount)

	require.NoError(t, h.bridge(t, wallet.ChainEthereum).Connect(context.Background(), "MetaMask"))
	h.waitForChain(t, wallet.ChainEthereum)

	require.NoError(t, h.bridge(t, wallet.ChainSolana).Connect(context.Background(), "Phantom"))
	h.waitForChain(t, wallet.ChainSolana)

	require.Eventually(t, func() bool { return eth.Disconnects() == 1 }, waitFor, tick,
		"the ethereum sdk is told to disconnect")
	require.Eventually(t, func() bool {
		return !h.relays[wallet.ChainEthereum].Status().Connected
	}, waitFor, tick)

	// A late ethereum disconnect must not wipe the solana fact.
	assert.Never(t, func() bool {
		return h.store.GetState().Wallet.Chain != wallet.ChainSolana
	}, settleWindow, tick)

	f := h.store.GetState().Wallet
	assert.Equal(t, "phantom", f.WalletKind)
	assert.Equal(t, solAccount, f.Address)

	facts := h.log.all()
	assertFactsValid(t, facts)
	var chains []wallet.Chain
	for _, f := range facts {
		chains = append(chains, f.Chain)
	}
	assert.Equal(t, []wallet.Chain{wallet.ChainNone, wallet.ChainEthereum, wallet.ChainNone, wallet.ChainSolana}, chains)
}

func TestBridgeDisconnectBroadcastReachesOnlyTheOwner(t *testing.T) {
	h := newHarness(t, persist.NewMemoryKV())
	eth := startHost(t, h.relays[wallet.ChainEthereum], ethAccount)
	sol := startHost(t, h.relays[wallet.ChainSolana], solAccount)
	h.relays[wallet.ChainSolana].Push(sdk.Status{})

	require.NoError(t, h.bridge(t, wallet.ChainEthereum).Connect(context.Background(), "MetaMask"))
	h.waitForChain(t, wallet.ChainEthereum)

	h.store.RequestDisconnect()
	assert.False(t, h.store.GetState().Wallet.Connected, "the fact clears before the call returns")
	assert.Nil(t, h.adapter.Load(context.Background()))

	require.Eventually(t, func() bool {
		return !h.relays[wallet.ChainEthereum].Status().Connected
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return !h.store.GetState().Session.DisconnectRequested
	}, waitFor, tick)

	assert.Equal(t, 1, eth.Disconnects())
	assert.Equal(t, 0, sol.Disconnects())

	facts := h.log.all()
	assertFactsValid(t, facts)
	sentinels := 0
	for _, f := range facts[1:] {
		if f.IsSentinel() {
			sentinels++
		}
	}
	assert.Equal(t, 1, sentinels, "the sentinel is published once")
}

func TestBridgeClearsStaleRestoredFact(t *testing.T) {
	kv := persist.NewMemoryKV()
	seed := persist.NewAdapter(kv, "", nil, testLogger())
	seed.Save(context.Background(), wallet.NewConnected(wallet.ChainEthereum, "metamask", ethChecksum,
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	h := newHarness(t, kv)
	require.Equal(t, wallet.ChainEthereum, h.store.GetState().Wallet.Chain, "restored optimistically")

	h.relays[wallet.ChainSolana].Push(sdk.Status{})
	assert.Never(t, func() bool {
		return !h.store.GetState().Wallet.Connected
	}, settleWindow, tick, "another chain settling does not clear the fact")

	h.relays[wallet.ChainEthereum].Push(sdk.Status{})
	h.waitForChain(t, wallet.ChainNone)
	assert.Nil(t, h.adapter.Load(context.Background()))
}

func TestBridgeKeepsRestoredTimestampWhenSessionMatches(t *testing.T) {
	kv := persist.NewMemoryKV()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	persist.NewAdapter(kv, "", nil, testLogger()).Save(context.Background(),
		wallet.NewConnected(wallet.ChainEthereum, "metamask", ethChecksum, at))

	h := newHarness(t, kv)
	h.relays[wallet.ChainEthereum].Push(sdk.Status{Connected: true, Account: ethAccount, WalletName: "MetaMask"})

	assert.Never(t, func() bool {
		f := h.store.GetState().Wallet
		return !f.Connected || !f.ConnectedAt.Equal(at)
	}, settleWindow, tick)
}

func TestBridgeConnectWithoutHost(t *testing.T) {
	h := newHarness(t, persist.NewMemoryKV())

	err := h.bridge(t, wallet.ChainMove).Connect(context.Background(), "Petra")
	require.ErrorIs(t, err, sdk.ErrNoHost)

	st := h.store.GetState()
	assert.False(t, st.Session.IsConnecting, "the claim is released")
	assert.Contains(t, st.Session.Error, "Petra")
	assert.False(t, st.Wallet.Connected)
}

func TestBridgeRecordsRejectedConnect(t *testing.T) {
	h := newHarness(t, persist.NewMemoryKV())
	host := startHost(t, h.relays[wallet.ChainSolana], solAccount)
	host.mu.Lock()
	host.reject = "User rejected the request."
	host.mu.Unlock()

	require.NoError(t, h.bridge(t, wallet.ChainSolana).Connect(context.Background(), "Phantom"))

	require.Eventually(t, func() bool {
		st := h.store.GetState()
		return st.Session.Error == "User rejected the request." && !st.Session.IsConnecting
	}, waitFor, tick)
	assert.False(t, h.store.GetState().Wallet.Connected)

	h.store.ClearError()
	assert.Empty(t, h.store.GetState().Session.Error)
}

func TestBridgeRejectsUnusableAccount(t *testing.T) {
	h := newHarness(t, persist.NewMemoryKV())

	h.relays[wallet.ChainEthereum].Push(sdk.Status{Connected: true, Account: "not-an-address", WalletName: "MetaMask"})

	require.Eventually(t, func() bool {
		return h.store.GetState().Session.Error != ""
	}, waitFor, tick)
	assert.False(t, h.store.GetState().Wallet.Connected, "the fact is unchanged")
}

func TestBridgeYieldsToHeldClaim(t *testing.T) {
	h := newHarness(t, persist.NewMemoryKV())
	sol := startHost(t, h.relays[wallet.ChainSolana], solAccount)
	sol.mu.Lock()
	sol.silent = true
	sol.mu.Unlock()
	eth := startHost(t, h.relays[wallet.ChainEthereum], ethAccount)

	require.NoError(t, h.bridge(t, wallet.ChainSolana).Connect(context.Background(), "Phantom"))
	require.True(t, h.store.GetState().Session.IsConnecting)

	h.relays[wallet.ChainEthereum].Push(sdk.Status{Connected: true, Account: ethAccount, WalletName: "MetaMask"})

	require.Eventually(t, func() bool { return eth.Disconnects() == 1 }, waitFor, tick)
	st := h.store.GetState()
	assert.False(t, st.Wallet.Connected)
	assert.Contains(t, st.Session.Error, "another chain is connecting")
	assert.True(t, st.Session.IsConnecting, "the solana claim is still live")
}

func TestBridgeCancelsPendingConnectOnDisconnect(t *testing.T) {
	h := newHarness(t, persist.NewMemoryKV())
	sol := startHost(t, h.relays[wallet.ChainSolana], solAccount)
	sol.mu.Lock()
	sol.silent = true
	sol.mu.Unlock()
	h.relays[wallet.ChainSolana].Push(sdk.Status{})

	require.NoError(t, h.bridge(t, wallet.ChainSolana).Connect(context.Background(), "Phantom"))
	h.store.RequestDisconnect()

	require.Eventually(t, func() bool { return sol.Disconnects() == 1 }, waitFor, tick,
		"an in-flight connect is aborted")

	// The SDK finishing the abandoned connect late must not publish.
	h.relays[wallet.ChainSolana].Push(sdk.Status{Connected: true, Account: solAccount, WalletName: "Phantom"})
	assert.Never(t, func() bool {
		return h.store.GetState().Wallet.Connected
	}, settleWindow, tick)
}

func TestBridgeDropsPublishRacingDisconnect(t *testing.T) {
	logger := testLogger()
	st := store.New(context.Background(), persist.NewAdapter(persist.NewMemoryKV(), "", nil, logger), logger,
		store.WithSettleDelay(20*time.Millisecond))
	t.Cleanup(st.Close)
	log := &factLog{}
	log.listen(st.GetState())
	t.Cleanup(st.Subscribe(log.listen))

	relay := sdk.NewRelay("solana", logger)
	host := startHost(t, relay, solAccount)
	relay.Push(sdk.Status{Connected: true, Account: solAccount, WalletName: "Phantom"})

	// The logout lands after the bridge read the status but before it
	// takes its claim.
	var once sync.Once
	spec := SolanaSpec()
	canonical := spec.Canonical
	spec.Canonical = func(account string) (string, error) {
		once.Do(st.RequestDisconnect)
		return canonical(account)
	}
	b := New(spec, st, relay, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return host.Disconnects() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return st.GetState().Wallet.Connected }, settleWindow, tick)
	for _, f := range log.all() {
		assert.False(t, f.Connected, "no fact outlives the logout")
	}
	assertFactsValid(t, log.all())
}

func TestBridgeSeesDisconnectRaisedBeforeStart(t *testing.T) {
	logger := testLogger()
	st := store.New(context.Background(), persist.NewAdapter(persist.NewMemoryKV(), "", nil, logger), logger,
		store.WithSettleDelay(time.Minute))
	t.Cleanup(st.Close)

	relay := sdk.NewRelay("ethereum", logger)
	host := startHost(t, relay, ethAccount)
	relay.Push(sdk.Status{Connected: true, Account: ethAccount, WalletName: "MetaMask"})
	st.RequestDisconnect()

	act := NewActivator(logger, NewEthereum(st, relay, logger, nil))
	ctx, cancel := context.WithCancel(context.Background())
	act.Start(ctx)
	t.Cleanup(func() {
		cancel()
		act.Wait()
	})

	require.Eventually(t, func() bool { return host.Disconnects() == 1 }, waitFor, tick,
		"a broadcast raised before the bridge started still reaches it")
	assert.Never(t, func() bool { return st.GetState().Wallet.Connected }, settleWindow, tick)
}

func TestActivatorBridgeLookup(t *testing.T) {
	act := NewActivator(testLogger())
	_, err := act.Bridge(wallet.ChainSolana)
	assert.Error(t, err)
}
