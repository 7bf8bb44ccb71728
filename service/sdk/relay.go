package sdk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var _ Source = (*Relay)(nil)

// ErrNoHost is returned by Relay.Connect and Relay.Disconnect when no host is
// listening for commands.
var ErrNoHost = errors.New("no wallet host attached")

// CommandKind names a request sent to the hosting runtime.
type CommandKind string

const (
	CommandConnect    CommandKind = "connect"
	CommandDisconnect CommandKind = "disconnect"
)

// Command is a request for the host to drive its native SDK.
type Command struct {
	Kind       CommandKind `json:"kind"`
	WalletName string      `json:"wallet_name,omitempty"`
}

// Relay is a Source whose state is pushed in by whatever runtime actually
// hosts the wallet SDK (a browser page, a wasm host, a test). Connect and
// Disconnect become Commands delivered to the host's subscriptions.
type Relay struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	status   Status
	watchers map[int]func(Status)
	hosts    map[int]chan Command
	nextID   int
}

// NewRelay creates a Relay that reports Pending until its host pushes a
// first snapshot. name is used in logs.
func NewRelay(name string, logger *slog.Logger) *Relay {
	return &Relay{
		name:     name,
		logger:   logger,
		status:   Status{Pending: true},
		watchers: make(map[int]func(Status)),
		hosts:    make(map[int]chan Command),
	}
}

// Status implements Source.
func (r *Relay) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Watch implements Source.
func (r *Relay) Watch(fn func(Status)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.watchers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.watchers, id)
	}
}

// Push records a new native snapshot and notifies watchers. Identical
// snapshots are dropped.
func (r *Relay) Push(s Status) {
	r.mu.Lock()
	if s == r.status {
		r.mu.Unlock()
		return
	}
	r.status = s
	fns := make([]func(Status), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	r.logger.Debug("sdk status pushed",
		"sdk", r.name,
		"connected", s.Connected,
		"pending", s.Pending,
		"wallet_name", s.WalletName,
	)
	for _, fn := range fns {
		fn(s)
	}
}

// Commands subscribes a host to connect/disconnect requests. buffer bounds
// how many undelivered commands are kept; further commands are dropped for
// this host. The returned func unsubscribes and closes the channel.
func (r *Relay) Commands(buffer int) (<-chan Command, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Command, buffer)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.hosts[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.hosts, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// Hosts returns how many hosts are subscribed.
func (r *Relay) Hosts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}

// Connect implements Source by asking the host to connect walletName.
func (r *Relay) Connect(ctx context.Context, walletName string) error {
	return r.send(ctx, Command{Kind: CommandConnect, WalletName: walletName})
}

// Disconnect implements Source by asking the host to disconnect.
func (r *Relay) Disconnect(ctx context.Context) error {
	return r.send(ctx, Command{Kind: CommandDisconnect})
}

func (r *Relay) send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Sends happen under the lock so an unsubscribe cannot close a channel
	// mid-send. They never block.
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.hosts) == 0 {
		return ErrNoHost
	}
	delivered := 0
	for id, ch := range r.hosts {
		select {
		case ch <- cmd:
			delivered++
		default:
			r.logger.Warn("dropping command for slow host",
				"sdk", r.name,
				"host", id,
				"command", string(cmd.Kind),
			)
		}
	}
	if delivered == 0 {
		return ErrNoHost
	}
	return nil
}
