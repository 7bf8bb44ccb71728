package persist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/walletlink/service/metrics"
	"github.com/brojonat/walletlink/service/wallet"
)

// DefaultKey is the single key the wallet fact is stored under.
const DefaultKey = "walletlink.wallet"

// Adapter reads and writes the serialized wallet fact. It holds no state of its
// own. Storage failures are logged and swallowed: persistence degrades to
// "skipped" and never blocks a connection.
type Adapter struct {
	kv      KV
	key     string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAdapter creates an adapter over kv. An empty key selects DefaultKey.
// If metrics is nil, no metrics will be recorded.
func NewAdapter(kv KV, key string, m *metrics.Metrics, logger *slog.Logger) *Adapter {
	if key == "" {
		key = DefaultKey
	}
	return &Adapter{kv: kv, key: key, logger: logger, metrics: m}
}

// Save writes f. Saving the disconnected sentinel removes the record instead,
// since absence already means "never connected or cleared".
func (a *Adapter) Save(ctx context.Context, f wallet.Fact) {
	if !f.Connected {
		a.Clear(ctx)
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to encode wallet fact", "error", err)
		return
	}

	start := time.Now()
	err = a.kv.Put(ctx, a.key, data)
	a.metrics.RecordPersist("save", a.kv.Backend(), time.Since(start).Seconds(), err)
	if err != nil {
		a.logger.WarnContext(ctx, "persistence skipped: failed to save wallet fact",
			"backend", a.kv.Backend(),
			"chain", f.Chain.String(),
			"error", err,
		)
		return
	}
	a.logger.DebugContext(ctx, "wallet fact saved", "backend", a.kv.Backend(), "chain", f.Chain.String())
}

// Load returns the persisted fact, or nil when there is none or the record is
// malformed, partially written, or unreadable.
func (a *Adapter) Load(ctx context.Context) *wallet.Fact {
	start := time.Now()
	data, err := a.kv.Get(ctx, a.key)
	if errors.Is(err, ErrNotFound) {
		a.metrics.RecordPersist("load", a.kv.Backend(), time.Since(start).Seconds(), nil)
		return nil
	}
	a.metrics.RecordPersist("load", a.kv.Backend(), time.Since(start).Seconds(), err)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to load wallet fact", "backend", a.kv.Backend(), "error", err)
		return nil
	}

	f, err := wallet.DecodeFact(data)
	if err != nil {
		a.logger.WarnContext(ctx, "ignoring malformed persisted wallet fact",
			"backend", a.kv.Backend(),
			"error", err,
		)
		return nil
	}
	return &f
}

// Clear removes the persisted record.
func (a *Adapter) Clear(ctx context.Context) {
	start := time.Now()
	err := a.kv.Delete(ctx, a.key)
	a.metrics.RecordPersist("clear", a.kv.Backend(), time.Since(start).Seconds(), err)
	if err != nil {
		a.logger.WarnContext(ctx, "persistence skipped: failed to clear wallet fact",
			"backend", a.kv.Backend(),
			"error", err,
		)
	}
}
