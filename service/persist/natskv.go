package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the JetStream key/value bucket used when none is configured.
const DefaultBucket = "WALLETLINK"

// NATSKV stores records in a JetStream key/value bucket.
type NATSKV struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// NewNATSKV connects to natsURL and opens (or creates) bucket.
func NewNATSKV(ctx context.Context, natsURL, bucket string) (*NATSKV, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("walletlink-kv"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := OpenNATSKV(ctx, js, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	store.nc = nc
	return store, nil
}

// OpenNATSKV opens bucket on an existing JetStream context.
func OpenNATSKV(ctx context.Context, js jetstream.JetStream, bucket string) (*NATSKV, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Persisted wallet facts",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open key/value bucket %q: %w", bucket, err)
	}
	return &NATSKV{kv: kv}, nil
}

func (n *NATSKV) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := n.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return entry.Value(), nil
}

func (n *NATSKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := n.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

func (n *NATSKV) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (n *NATSKV) Backend() string { return "nats" }

// Close closes the NATS connection if this store opened it.
func (n *NATSKV) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
