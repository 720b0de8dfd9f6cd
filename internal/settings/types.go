// Package settings implements the device settings store: a transactional,
// asynchronous key-value store that notifies observers of every change.
package settings

import "errors"

var (
	// ErrStaleHandle is returned when a request is issued on a transaction
	// that has already closed or was invalidated by the store.
	ErrStaleHandle = errors.New("settings: stale transaction handle")

	// ErrPermissionDenied is reported through a request's error when the
	// caller may not write one of the keys.
	ErrPermissionDenied = errors.New("settings: permission denied")
)

// Change is delivered to listeners after a key is written.
type Change struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ChangeFunc receives change notifications.
type ChangeFunc func(Change)

// ListenerID identifies a registered change listener.
type ListenerID string

// Transaction is a short-lived handle through which reads and writes are
// issued. Requests on one transaction complete in the order they were
// issued.
type Transaction interface {
	ID() string
	Closed() bool
	// Get reads key. The result mapping holds key only if it is stored.
	Get(key string) (*Request, error)
	// Set writes every entry of values.
	Set(values map[string]any) (*Request, error)
}

// Store is the settings API consumed by observers and controllers.
type Store interface {
	CreateTransaction() Transaction
	AddChangeListener(key string, fn ChangeFunc) ListenerID
	RemoveChangeListener(key string, id ListenerID)
}
