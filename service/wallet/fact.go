package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Chain identifies one of the mutually exclusive account ecosystems.
// The zero value means no chain.
type Chain string

const (
	ChainNone     Chain = ""
	ChainEthereum Chain = "ethereum"
	ChainSolana   Chain = "solana"
	ChainBitcoin  Chain = "bitcoin"
	ChainMove     Chain = "move"
)

func (c Chain) String() string {
	if c == ChainNone {
		return "none"
	}
	return string(c)
}

// Valid reports whether c is one of the four supported chains.
func (c Chain) Valid() bool {
	switch c {
	case ChainEthereum, ChainSolana, ChainBitcoin, ChainMove:
		return true
	}
	return false
}

// Chains returns every supported chain in a stable order.
func Chains() []Chain {
	return []Chain{ChainEthereum, ChainSolana, ChainBitcoin, ChainMove}
}

// ParseChain parses a chain name as used on the wire.
func ParseChain(s string) (Chain, error) {
	c := Chain(s)
	if !c.Valid() {
		return ChainNone, fmt.Errorf("unknown chain %q: must be one of ethereum, solana, bitcoin, move", s)
	}
	return c, nil
}

// ErrInvalidFact is returned when a Fact mixes connected and disconnected fields.
var ErrInvalidFact = errors.New("invalid wallet fact")

// Fact is the single record describing the active wallet connection.
// The zero value is the disconnected sentinel.
type Fact struct {
	Connected   bool
	Chain       Chain
	WalletKind  string
	Address     string
	ConnectedAt *time.Time
}

// Disconnected returns the canonical "no wallet connected" fact.
func Disconnected() Fact {
	return Fact{}
}

// NewConnected builds a connected fact for chain.
func NewConnected(chain Chain, walletKind, address string, at time.Time) Fact {
	at = at.UTC()
	return Fact{
		Connected:   true,
		Chain:       chain,
		WalletKind:  walletKind,
		Address:     address,
		ConnectedAt: &at,
	}
}

// IsSentinel reports whether f is exactly the disconnected sentinel.
func (f Fact) IsSentinel() bool {
	return !f.Connected && f.Chain == ChainNone && f.WalletKind == "" && f.Address == "" && f.ConnectedAt == nil
}

// Validate enforces connected <=> chain <=> walletKind <=> address <=> connectedAt.
func (f Fact) Validate() error {
	if !f.Connected {
		if !f.IsSentinel() {
			return fmt.Errorf("%w: disconnected fact carries connection fields", ErrInvalidFact)
		}
		return nil
	}
	var errs []error
	if !f.Chain.Valid() {
		errs = append(errs, fmt.Errorf("chain %q is not supported", string(f.Chain)))
	}
	if f.WalletKind == "" {
		errs = append(errs, errors.New("walletKind is required"))
	}
	if f.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if f.ConnectedAt == nil || f.ConnectedAt.IsZero() {
		errs = append(errs, errors.New("connectedAt is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFact, errors.Join(errs...))
	}
	return nil
}

// Equal compares two facts field by field.
func (f Fact) Equal(o Fact) bool {
	if f.Connected != o.Connected || f.Chain != o.Chain || f.WalletKind != o.WalletKind || f.Address != o.Address {
		return false
	}
	if f.ConnectedAt == nil || o.ConnectedAt == nil {
		return f.ConnectedAt == o.ConnectedAt
	}
	return f.ConnectedAt.Equal(*o.ConnectedAt)
}

// factJSON is the persisted/wire shape; empty fields become null.
type factJSON struct {
	Connected   bool       `json:"connected"`
	Chain       *string    `json:"chain"`
	WalletKind  *string    `json:"walletKind"`
	Address     *string    `json:"address"`
	ConnectedAt *time.Time `json:"connectedAt"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MarshalJSON encodes f with nulls for absent fields.
func (f Fact) MarshalJSON() ([]byte, error) {
	return json.Marshal(factJSON{
		Connected:   f.Connected,
		Chain:       nullable(string(f.Chain)),
		WalletKind:  nullable(f.WalletKind),
		Address:     nullable(f.Address),
		ConnectedAt: f.ConnectedAt,
	})
}

// UnmarshalJSON decodes the wire shape. It does not validate; see DecodeFact.
func (f *Fact) UnmarshalJSON(data []byte) error {
	var w factJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = Fact{
		Connected:   w.Connected,
		Chain:       Chain(deref(w.Chain)),
		WalletKind:  deref(w.WalletKind),
		Address:     deref(w.Address),
		ConnectedAt: w.ConnectedAt,
	}
	return nil
}

var factKeys = []string{"connected", "chain", "walletKind", "address", "connectedAt"}

// DecodeFact strictly decodes a persisted record: every key must be present with
// the right primitive type and the result must satisfy Validate.
func DecodeFact(data []byte) (Fact, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Fact{}, fmt.Errorf("%w: %v", ErrInvalidFact, err)
	}
	if raw == nil {
		return Fact{}, fmt.Errorf("%w: record is null", ErrInvalidFact)
	}
	for _, k := range factKeys {
		v, ok := raw[k]
		if !ok {
			return Fact{}, fmt.Errorf("%w: missing %q", ErrInvalidFact, k)
		}
		if err := checkPrimitive(k, v); err != nil {
			return Fact{}, err
		}
	}

	var f Fact
	if err := json.Unmarshal(data, &f); err != nil {
		return Fact{}, fmt.Errorf("%w: %v", ErrInvalidFact, err)
	}
	if err := f.Validate(); err != nil {
		return Fact{}, err
	}
	return f, nil
}

func checkPrimitive(key string, v json.RawMessage) error {
	var decoded interface{}
	if err := json.Unmarshal(v, &decoded); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidFact, key, err)
	}
	switch key {
	case "connected":
		if _, ok := decoded.(bool); !ok {
			return fmt.Errorf("%w: %q must be a boolean", ErrInvalidFact, key)
		}
	default:
		if decoded == nil {
			return nil
		}
		if _, ok := decoded.(string); !ok {
			return fmt.Errorf("%w: %q must be a string or null", ErrInvalidFact, key)
		}
	}
	return nil
}
