package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/walletlink/service/wallet"
)

// FactEvent is a published wallet fact transition.
// It goes to the subject "wallets.{chain}", with "wallets.none" for disconnects.
type FactEvent struct {
	Connected   bool       `json:"connected"`
	Chain       string     `json:"chain,omitempty"`
	WalletKind  string     `json:"wallet_kind,omitempty"`
	Address     string     `json:"address,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`

	// PreviousChain is the chain that owned the fact before this transition.
	PreviousChain string `json:"previous_chain,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// FromFact builds the event for the transition prev -> f.
func FromFact(prev, f wallet.Fact) *FactEvent {
	event := &FactEvent{
		Connected:   f.Connected,
		Chain:       string(f.Chain),
		WalletKind:  f.WalletKind,
		Address:     f.Address,
		ConnectedAt: f.ConnectedAt,
		PublishedAt: time.Now().UTC(),
	}
	if prev.Connected {
		event.PreviousChain = string(prev.Chain)
	}
	return event
}

// Subject returns the subject the event is published to.
func (e *FactEvent) Subject() string {
	return SubjectFor(wallet.Chain(e.Chain))
}

// SubjectFor returns the subject for facts about chain.
func SubjectFor(chain wallet.Chain) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, chain.String())
}
