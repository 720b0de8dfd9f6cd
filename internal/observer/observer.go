// Package observer keeps callers subscribed to settings without making them
// manage transactions. One Observer is built at startup and shared by every
// controller.
package observer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/quicksettings/internal/settings"
)

// ErrStoreUnavailable is returned by Set when no settings store is attached.
var ErrStoreUnavailable = errors.New("observer: settings store unavailable")

// maxStaleRetries bounds how many fresh transactions are tried after the
// held one turns out to be stale.
const maxStaleRetries = 1

// Scheduler runs callbacks later on the caller's event loop.
type Scheduler interface {
	Post(fn func())
}

// Callback receives the initial value of a key and every later change.
type Callback func(value any)

// Subscription is the record of one Observe call.
type Subscription struct {
	key      string
	callback Callback
	listener settings.ListenerID
	owner    *Observer
}

// Key returns the observed setting name.
func (s *Subscription) Key() string {
	if s == nil {
		return ""
	}
	return s.key
}

// Cancel is equivalent to Unobserve(s.Key(), s). Safe on a nil subscription.
func (s *Subscription) Cancel() {
	if s == nil || s.owner == nil {
		return
	}
	s.owner.Unobserve(s.key, s)
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

// Observer wraps a settings.Store with a reused transaction and a list of
// active subscriptions.
type Observer struct {
	store  settings.Store
	sched  Scheduler
	logger *slog.Logger

	mu   sync.Mutex
	tx   settings.Transaction
	subs []*Subscription

	// acquisitions counts CreateTransaction calls, for tests.
	acquisitions int
}

// New returns an Observer over store. A nil store puts the observer in
// degraded mode where Observe only delivers defaults.
func New(store settings.Store, sched Scheduler, opts ...Option) *Observer {
	o := &Observer{
		store:  store,
		sched:  sched,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Available reports whether a store is attached.
func (o *Observer) Available() bool {
	return o.store != nil
}

// acquireTransaction returns the held transaction while it is open and
// creates a new one otherwise. Callers hold o.mu.
func (o *Observer) acquireTransaction() settings.Transaction {
	if o.tx != nil && !o.tx.Closed() {
		return o.tx
	}
	o.tx = o.store.CreateTransaction()
	o.acquisitions++
	return o.tx
}

// issue runs fn against the held transaction, discarding it and retrying
// with a fresh one when it reports a stale handle.
func (o *Observer) issue(what string, fn func(settings.Transaction) (*settings.Request, error)) (*settings.Request, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for attempt := 0; ; attempt++ {
		req, err := fn(o.acquireTransaction())
		if err == nil {
			return req, nil
		}
		stale := errors.Is(err, settings.ErrStaleHandle)
		if !stale || attempt >= maxStaleRetries {
			if stale {
				o.logger.Warn("settings transaction stale after retry", "request", what, "attempts", attempt+1)
			}
			return nil, err
		}
		// Held transactions close once drained.
		o.logger.Debug("stale settings transaction, retrying with a fresh one", "request", what)
		o.tx = nil
	}
}

// Observe delivers the current value of key (or def when unset) to cb and
// then every change to key, regardless of who wrote it. Every delivery runs
// on the scheduler, never on the caller's stack.
//
// Without a store, cb(def) is scheduled once and a nil subscription is
// returned. An error is returned only when the read could not be issued
// even on a fresh transaction.
func (o *Observer) Observe(key string, def any, cb Callback) (*Subscription, error) {
	if o.store == nil {
		o.sched.Post(func() { cb(def) })
		return nil, nil
	}

	req, err := o.issue("get "+key, func(tx settings.Transaction) (*settings.Request, error) {
		return tx.Get(key)
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	go o.deliverInitial(key, def, req, cb)

	sub := &Subscription{key: key, callback: cb, owner: o}
	sub.listener = o.store.AddChangeListener(key, func(c settings.Change) {
		o.sched.Post(func() { cb(c.Value) })
	})

	o.mu.Lock()
	o.subs = append(o.subs, sub)
	o.mu.Unlock()
	return sub, nil
}

func (o *Observer) deliverInitial(key string, def any, req *settings.Request, cb Callback) {
	<-req.Done()
	if err := req.Err(); err != nil {
		o.logger.Warn("initial settings read failed", "key", key, "error", err)
		return
	}
	value := def
	if v, ok := req.Result()[key]; ok {
		value = v
	}
	o.sched.Post(func() { cb(value) })
}

// Unobserve removes the subscription for key that sub identifies. An
// initial read already in flight still delivers. Unknown pairs are ignored.
func (o *Observer) Unobserve(key string, sub *Subscription) {
	if sub == nil || o.store == nil {
		return
	}
	o.mu.Lock()
	idx := -1
	for i, s := range o.subs {
		if s.key == key && s == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		o.mu.Unlock()
		return
	}
	o.subs = append(o.subs[:idx], o.subs[idx+1:]...)
	o.mu.Unlock()

	o.store.RemoveChangeListener(key, sub.listener)
}

// Get issues a one-off read of key through the held transaction.
func (o *Observer) Get(key string) (*settings.Request, error) {
	if o.store == nil {
		return nil, ErrStoreUnavailable
	}
	return o.issue("get "+key, func(tx settings.Transaction) (*settings.Request, error) {
		return tx.Get(key)
	})
}

// Set writes values through the held transaction. Completion is reported
// on the returned request; callers may ignore it.
func (o *Observer) Set(values map[string]any) (*settings.Request, error) {
	if o.store == nil {
		return nil, ErrStoreUnavailable
	}
	return o.issue("set", func(tx settings.Transaction) (*settings.Request, error) {
		return tx.Set(values)
	})
}

// Len returns the number of active subscriptions.
func (o *Observer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}
