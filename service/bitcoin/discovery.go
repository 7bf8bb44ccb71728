// Package bitcoin discovers injected Bitcoin wallet providers and normalises
// their brand-specific connect calls into a single first-address result.
package bitcoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoProvider is returned when the requested wallet is not installed
	// or cannot be called from this process.
	ErrNoProvider = errors.New("bitcoin wallet provider not available")

	// ErrNoAddress is returned when a provider connects but yields no address.
	ErrNoAddress = errors.New("bitcoin wallet returned no address")
)

// Environment exposes injected provider objects by global path, such as
// "unisat" or "okxwallet.bitcoin".
type Environment interface {
	Lookup(path string) (any, bool)
}

// MapEnvironment is an Environment backed by a map of path to provider.
type MapEnvironment map[string]any

func (m MapEnvironment) Lookup(path string) (any, bool) {
	v, ok := m[normalizePath(path)]
	return v, ok && v != nil
}

// Presence marks a provider a remote host reported as installed. It can be
// discovered but not called.
type Presence struct{}

// PresenceEnvironment is an Environment built from the list of globals a
// remote host found defined.
type PresenceEnvironment map[string]struct{}

// NewPresenceEnvironment records globals as present. A "window." prefix is
// ignored.
func NewPresenceEnvironment(globals []string) PresenceEnvironment {
	env := make(PresenceEnvironment, len(globals))
	for _, g := range globals {
		if g = normalizePath(g); g != "" {
			env[g] = struct{}{}
		}
	}
	return env
}

func (p PresenceEnvironment) Lookup(path string) (any, bool) {
	if _, ok := p[normalizePath(path)]; ok {
		return Presence{}, true
	}
	return nil, false
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	return strings.TrimPrefix(p, "window.")
}

// UniSatProvider returns addresses directly.
type UniSatProvider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
}

// ConnectResult is what OKX's nested bitcoin provider returns from connect.
type ConnectResult struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// OKXProvider is OKX's nested okxwallet.bitcoin object.
type OKXProvider interface {
	Connect(ctx context.Context) (ConnectResult, error)
}

// RPCProvider is the JSON-RPC style request shape used by Xverse, Leather and
// Magic Eden.
type RPCProvider interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Account is one entry of Phantom's bitcoin account list.
type Account struct {
	Address     string `json:"address"`
	AddressType string `json:"addressType"`
	PublicKey   string `json:"publicKey"`
	Purpose     string `json:"purpose"`
}

// PhantomProvider returns account objects.
type PhantomProvider interface {
	RequestAccounts(ctx context.Context) ([]Account, error)
}

// Wallet describes a supported provider brand.
type Wallet struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Global string `json:"global"`

	accepts func(v any) bool
	connect func(ctx context.Context, v any) ([]string, error)
}

var wallets = []Wallet{
	{
		ID: "unisat", Name: "UniSat", Global: "unisat",
		accepts: is[UniSatProvider],
		connect: func(ctx context.Context, v any) ([]string, error) {
			return v.(UniSatProvider).RequestAccounts(ctx)
		},
	},
	{
		ID: "xverse", Name: "Xverse", Global: "XverseProviders.BitcoinProvider",
		accepts: is[RPCProvider],
		connect: rpcAddresses(map[string]any{"purposes": []string{"payment", "ordinals"}}),
	},
	{
		ID: "leather", Name: "Leather", Global: "LeatherProvider",
		accepts: is[RPCProvider],
		connect: rpcAddresses(nil),
	},
	{
		ID: "okx", Name: "OKX Wallet", Global: "okxwallet.bitcoin",
		accepts: is[OKXProvider],
		connect: func(ctx context.Context, v any) ([]string, error) {
			res, err := v.(OKXProvider).Connect(ctx)
			if err != nil {
				return nil, err
			}
			return []string{res.Address}, nil
		},
	},
	{
		ID: "phantom", Name: "Phantom", Global: "phantom.bitcoin",
		accepts: is[PhantomProvider],
		connect: func(ctx context.Context, v any) ([]string, error) {
			accounts, err := v.(PhantomProvider).RequestAccounts(ctx)
			if err != nil {
				return nil, err
			}
			addrs := make([]string, 0, len(accounts))
			for _, a := range accounts {
				addrs = append(addrs, a.Address)
			}
			return addrs, nil
		},
	},
	{
		ID: "magiceden", Name: "Magic Eden", Global: "magicEden.bitcoin",
		accepts: is[RPCProvider],
		connect: rpcAddresses(map[string]any{"purposes": []string{"payment", "ordinals"}}),
	},
}

// Wallets returns every supported brand in rank order.
func Wallets() []Wallet {
	return append([]Wallet(nil), wallets...)
}

// Discover lists the supported wallets present in env, in rank order. It
// returns an empty list, never an error, when nothing is installed.
func Discover(env Environment) []Wallet {
	found := make([]Wallet, 0, len(wallets))
	for _, w := range wallets {
		v, ok := env.Lookup(w.Global)
		if !ok {
			continue
		}
		if _, presence := v.(Presence); presence || w.accepts(v) {
			found = append(found, w)
		}
	}
	return found
}

// Find returns the supported wallet whose ID or name matches name,
// case-insensitively.
func Find(name string) (Wallet, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return Wallet{}, false
	}
	for _, w := range wallets {
		if lower == w.ID || strings.Contains(lower, strings.ToLower(w.Name)) || strings.Contains(lower, w.ID) {
			return w, true
		}
	}
	return Wallet{}, false
}

// FirstAddress connects w through env and returns the first address the
// provider yields.
func FirstAddress(ctx context.Context, env Environment, w Wallet) (string, error) {
	v, ok := env.Lookup(w.Global)
	if !ok {
		return "", fmt.Errorf("%w: %s is not installed", ErrNoProvider, w.Name)
	}
	if !w.accepts(v) {
		return "", fmt.Errorf("%w: %s cannot be called here", ErrNoProvider, w.Name)
	}

	addrs, err := w.connect(ctx, v)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", w.Name, err)
	}
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoAddress, w.Name)
}

func is[T any](v any) bool {
	_, ok := v.(T)
	return ok
}

// addressesResult covers the sats-connect and Leather getAddresses shapes,
// bare or wrapped in a JSON-RPC "result" envelope.
type addressesResult struct {
	Result    *addressesResult `json:"result"`
	Addresses []addressEntry   `json:"addresses"`
}

type addressEntry struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

func rpcAddresses(params any) func(ctx context.Context, v any) ([]string, error) {
	return func(ctx context.Context, v any) ([]string, error) {
		raw, err := v.(RPCProvider).Request(ctx, "getAddresses", params)
		if err != nil {
			return nil, err
		}
		var res addressesResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode getAddresses response: %w", err)
		}
		if res.Result != nil {
			res = *res.Result
		}
		addrs := make([]string, 0, len(res.Addresses))
		for _, a := range res.Addresses {
			if a.Symbol != "" && !strings.EqualFold(a.Symbol, "BTC") {
				continue
			}
			addrs = append(addrs, a.Address)
		}
		return addrs, nil
	}
}
