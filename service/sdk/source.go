// Package sdk defines the capability contract a chain wallet SDK exposes to
// its bridge, and a push-driven implementation for SDKs hosted elsewhere.
package sdk

import "context"

// Status is a snapshot of a native SDK's connection state.
type Status struct {
	Connected bool `json:"connected"`
	// Pending is true while the SDK is still restoring a session or
	// finishing a connect. Bridges ignore pending snapshots.
	Pending    bool   `json:"pending,omitempty"`
	Account    string `json:"account,omitempty"`
	WalletName string `json:"wallet_name,omitempty"`

	// Error carries a failure the SDK reported, such as a rejected connect.
	Error string `json:"error,omitempty"`
}

// Ready reports whether s is a settled, connected snapshot with an account.
func (s Status) Ready() bool {
	return !s.Pending && s.Connected && s.Account != ""
}

// Settled reports whether s is a settled, disconnected snapshot.
func (s Status) Settled() bool {
	return !s.Pending && !s.Connected
}

// Source is what a bridge needs from a chain SDK.
type Source interface {
	// Status returns the current snapshot.
	Status() Status

	// Watch calls fn after every status change and returns a func that
	// stops the callbacks. fn must not block.
	Watch(fn func(Status)) (stop func())

	// Connect asks the SDK to connect the named wallet. The resulting
	// connection is observed through Watch, not through the return value.
	Connect(ctx context.Context, walletName string) error

	// Disconnect asks the SDK to drop its connection.
	Disconnect(ctx context.Context) error
}
