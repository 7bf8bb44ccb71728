package bitcoin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/walletlink/service/bridge"
	"github.com/brojonat/walletlink/service/persist"
	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/store"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	segwitAddr = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	legacyAddr = "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type unisatFake struct {
	addrs []string
	err   error
}

func (u unisatFake) RequestAccounts(ctx context.Context) ([]string, error) {
	return u.addrs, u.err
}

type okxFake struct {
	res ConnectResult
}

func (o okxFake) Connect(ctx context.Context) (ConnectResult, error) {
	return o.res, nil
}

type rpcFake struct {
	response string
	method   string
	params   any
}

func (r *rpcFake) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	r.method = method
	r.params = params
	return json.RawMessage(r.response), nil
}

type phantomFake struct {
	accounts     []Account
	disconnected bool
}

func (p *phantomFake) RequestAccounts(ctx context.Context) ([]Account, error) {
	return p.accounts, nil
}

func (p *phantomFake) Disconnect(ctx context.Context) error {
	p.disconnected = true
	return nil
}

func ids(ws []Wallet) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.ID)
	}
	return out
}

func TestDiscover(t *testing.T) {
	t.Run("nothing installed", func(t *testing.T) {
		got := Discover(MapEnvironment{})
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("only present brands in rank order", func(t *testing.T) {
		env := MapEnvironment{
			"magicEden.bitcoin": &rpcFake{},
			"unisat":            unisatFake{},
			"okxwallet.bitcoin": okxFake{},
		}
		assert.Equal(t, []string{"unisat", "okx", "magiceden"}, ids(Discover(env)))
	})

	t.Run("wrong shape is not offered", func(t *testing.T) {
		env := MapEnvironment{"unisat": "not a provider", "phantom.bitcoin": &phantomFake{}}
		assert.Equal(t, []string{"phantom"}, ids(Discover(env)))
	})

	t.Run("presence reported by a remote host", func(t *testing.T) {
		env := NewPresenceEnvironment([]string{"window.LeatherProvider", "XverseProviders.BitcoinProvider", " ", "somethingElse"})
		assert.Equal(t, []string{"xverse", "leather"}, ids(Discover(env)))
	})
}

func TestFirstAddress(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		env    MapEnvironment
		wallet string
		want   string
	}{
		{
			name:   "unisat returns an address array",
			env:    MapEnvironment{"unisat": unisatFake{addrs: []string{segwitAddr, legacyAddr}}},
			wallet: "UniSat",
			want:   segwitAddr,
		},
		{
			name:   "okx uses its nested provider",
			env:    MapEnvironment{"okxwallet.bitcoin": okxFake{res: ConnectResult{Address: legacyAddr}}},
			wallet: "OKX Wallet",
			want:   legacyAddr,
		},
		{
			name:   "xverse json-rpc result",
			env:    MapEnvironment{"XverseProviders.BitcoinProvider": &rpcFake{response: `{"result":{"addresses":[{"address":"` + segwitAddr + `","purpose":"payment"}]}}`}},
			wallet: "xverse",
			want:   segwitAddr,
		},
		{
			name:   "leather skips non bitcoin entries",
			env:    MapEnvironment{"LeatherProvider": &rpcFake{response: `{"addresses":[{"symbol":"STX","address":"SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"},{"symbol":"BTC","address":"` + legacyAddr + `"}]}`}},
			wallet: "Leather",
			want:   legacyAddr,
		},
		{
			name:   "phantom account objects",
			env:    MapEnvironment{"phantom.bitcoin": &phantomFake{accounts: []Account{{Address: segwitAddr, Purpose: "payment"}}}},
			wallet: "Phantom",
			want:   segwitAddr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := Find(tt.wallet)
			require.True(t, ok)
			got, err := FirstAddress(ctx, tt.env, w)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstAddressFailures(t *testing.T) {
	ctx := context.Background()
	unisat, _ := Find("unisat")

	_, err := FirstAddress(ctx, MapEnvironment{}, unisat)
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = FirstAddress(ctx, NewPresenceEnvironment([]string{"unisat"}), unisat)
	assert.ErrorIs(t, err, ErrNoProvider, "presence alone cannot be called")

	_, err = FirstAddress(ctx, MapEnvironment{"unisat": unisatFake{addrs: []string{" "}}}, unisat)
	assert.ErrorIs(t, err, ErrNoAddress)

	rejected := errors.New("user rejected")
	_, err = FirstAddress(ctx, MapEnvironment{"unisat": unisatFake{err: rejected}}, unisat)
	assert.ErrorIs(t, err, rejected)

	leather, _ := Find("leather")
	_, err = FirstAddress(ctx, MapEnvironment{"LeatherProvider": &rpcFake{response: `not json`}}, leather)
	assert.Error(t, err)
}

func TestXverseRequestsPaymentAddresses(t *testing.T) {
	rpc := &rpcFake{response: `{"addresses":[{"address":"` + segwitAddr + `"}]}`}
	xverse, _ := Find("Xverse")

	_, err := FirstAddress(context.Background(), MapEnvironment{"XverseProviders.BitcoinProvider": rpc}, xverse)
	require.NoError(t, err)
	assert.Equal(t, "getAddresses", rpc.method)
	assert.Equal(t, map[string]any{"purposes": []string{"payment", "ordinals"}}, rpc.params)
}

func TestFind(t *testing.T) {
	for name, want := range map[string]string{
		"unisat":     "unisat",
		"Magic Eden": "magiceden",
		"OKX Wallet": "okx",
		"phantom":    "phantom",
	} {
		w, ok := Find(name)
		require.True(t, ok, name)
		assert.Equal(t, want, w.ID)
	}
	_, ok := Find("Electrum")
	assert.False(t, ok)
	_, ok = Find("")
	assert.False(t, ok)
}

func TestConnector(t *testing.T) {
	ctx := context.Background()
	phantom := &phantomFake{accounts: []Account{{Address: segwitAddr}}}
	c := NewConnector(MapEnvironment{"phantom.bitcoin": phantom}, testLogger())

	var seen []sdk.Status
	stop := c.Watch(func(s sdk.Status) { seen = append(seen, s) })
	defer stop()

	assert.True(t, c.Status().Settled())
	assert.Equal(t, []string{"phantom"}, ids(c.Available()))

	require.NoError(t, c.Connect(ctx, "Phantom"))
	assert.Equal(t, sdk.Status{Connected: true, Account: segwitAddr, WalletName: "Phantom"}, c.Status())
	require.Len(t, seen, 2)
	assert.True(t, seen[0].Pending)

	require.NoError(t, c.Disconnect(ctx))
	assert.True(t, phantom.disconnected)
	assert.Equal(t, sdk.Status{}, c.Status())

	err := c.Connect(ctx, "UniSat")
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.NotEmpty(t, c.Status().Error)
}

func TestConnectorDrivesBitcoinBridge(t *testing.T) {
	logger := testLogger()
	st := store.New(context.Background(), persist.NewAdapter(persist.NewMemoryKV(), "", nil, logger), logger)
	t.Cleanup(st.Close)

	c := NewConnector(MapEnvironment{"unisat": unisatFake{addrs: []string{segwitAddr}}}, logger)
	b := bridge.NewBitcoin(st, c, &chaincfg.MainNetParams, logger, nil)

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

	require.NoError(t, b.Connect(ctx, "UniSat"))
	require.Eventually(t, func() bool {
		return st.GetState().Wallet.Connected
	}, 2*time.Second, 5*time.Millisecond)

	f := st.GetState().Wallet
	assert.Equal(t, wallet.ChainBitcoin, f.Chain)
	assert.Equal(t, "unisat", f.WalletKind)
	assert.Equal(t, segwitAddr, f.Address)

	st.RequestDisconnect()
	require.Eventually(t, func() bool {
		return !c.Status().Connected
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, st.GetState().Wallet.Connected)
}
