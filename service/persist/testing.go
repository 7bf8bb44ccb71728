package persist

import (
	"context"
	"errors"
	"sync"
)

// ErrQuotaExceeded simulates a storage quota failure in tests.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// FaultyKV wraps a KV and injects configured errors. It is meant for tests.
type FaultyKV struct {
	KV

	mu        sync.Mutex
	getErr    error
	putErr    error
	deleteErr error
	puts      int
	deletes   int
}

// NewFaultyKV wraps inner. A nil inner uses a fresh MemoryKV.
func NewFaultyKV(inner KV) *FaultyKV {
	if inner == nil {
		inner = NewMemoryKV()
	}
	return &FaultyKV{KV: inner}
}

func (f *FaultyKV) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.KV.Get(ctx, key)
}

func (f *FaultyKV) Put(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.puts++
	err := f.putErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.KV.Put(ctx, key, value)
}

func (f *FaultyKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deletes++
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.KV.Delete(ctx, key)
}

// SetGetError makes every Get fail with err (nil restores normal behavior).
func (f *FaultyKV) SetGetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

// SetPutError makes every Put fail with err.
func (f *FaultyKV) SetPutError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

// SetDeleteError makes every Delete fail with err.
func (f *FaultyKV) SetDeleteError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteErr = err
}

// Puts returns how many Put calls were attempted.
func (f *FaultyKV) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// Deletes returns how many Delete calls were attempted.
func (f *FaultyKV) Deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}
