package wallet

import "encoding/json"

// Session is the transient, never-persisted half of the connection state.
type Session struct {
	IsConnecting bool   `json:"isConnecting"`
	Error        string `json:"error"`

	// DisconnectRequested is a one-shot broadcast: raised by a disconnect request
	// and lowered again once every bridge has had a chance to observe it.
	DisconnectRequested bool `json:"disconnectRequested"`

	// DisconnectTarget narrows the broadcast to one chain. ChainNone addresses
	// whichever bridge owns a live connection.
	DisconnectTarget Chain `json:"disconnectTarget,omitempty"`

	// DisconnectSeq increases with every request so observers act once per request.
	DisconnectSeq uint64 `json:"-"`
}

// Targets reports whether an active disconnect broadcast applies to chain.
func (s Session) Targets(chain Chain) bool {
	if !s.DisconnectRequested {
		return false
	}
	return s.DisconnectTarget == ChainNone || s.DisconnectTarget == chain
}

type sessionJSON struct {
	IsConnecting        bool    `json:"isConnecting"`
	Error               *string `json:"error"`
	DisconnectRequested bool    `json:"disconnectRequested"`
	DisconnectTarget    Chain   `json:"disconnectTarget,omitempty"`
}

// MarshalJSON encodes an empty Error as null.
func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionJSON{
		IsConnecting:        s.IsConnecting,
		Error:               nullable(s.Error),
		DisconnectRequested: s.DisconnectRequested,
		DisconnectTarget:    s.DisconnectTarget,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var w sessionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Session{
		IsConnecting:        w.IsConnecting,
		Error:               deref(w.Error),
		DisconnectRequested: w.DisconnectRequested,
		DisconnectTarget:    w.DisconnectTarget,
	}
	return nil
}

// State is the snapshot handed to readers and listeners.
type State struct {
	Wallet  Fact    `json:"wallet"`
	Session Session `json:"session"`
}
