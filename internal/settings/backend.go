package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kalambet/quicksettings/internal/storage"
)

// Backend persists setting values. Values are JSON values.
type Backend interface {
	Get(ctx context.Context, key string) (value any, ok bool, err error)
	Set(ctx context.Context, values map[string]any) error
	All(ctx context.Context) (map[string]any, error)
}

// MemoryBackend keeps values in a map. Safe for concurrent use.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemoryBackend returns a backend preloaded with initial.
func NewMemoryBackend(initial map[string]any) *MemoryBackend {
	b := &MemoryBackend{data: make(map[string]any, len(initial))}
	for k, v := range initial {
		b.data[k] = v
	}
	return b
}

func (b *MemoryBackend) Get(_ context.Context, key string) (any, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *MemoryBackend) Set(_ context.Context, values map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range values {
		b.data[k] = v
	}
	return nil
}

func (b *MemoryBackend) All(_ context.Context) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.data))
	for k, v := range b.data {
		out[k] = v
	}
	return out, nil
}

// SQLiteBackend stores values as JSON text through storage.Store.
type SQLiteBackend struct {
	store *storage.Store
}

// NewSQLiteBackend wraps an open storage.Store.
func NewSQLiteBackend(store *storage.Store) *SQLiteBackend {
	return &SQLiteBackend{store: store}
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	st, err := b.store.GetSetting(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	v, err := decodeValue(st.Value)
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return v, true, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make(map[string]string, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", k, err)
		}
		encoded[k] = string(data)
	}
	return b.store.SetSettings(encoded)
}

func (b *SQLiteBackend) All(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := b.store.ListSettings()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(rows))
	for _, r := range rows {
		v, err := decodeValue(r.Value)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", r.Key, err)
		}
		out[r.Key] = v
	}
	return out, nil
}

func decodeValue(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Normalize converts v into its plain JSON form (numbers become float64,
// structs become maps) so that every backend hands back the same shapes.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeValue(string(data))
}
