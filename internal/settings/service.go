package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Option configures a Service.
type Option func(*Service)

// WithReadOnly rejects writes to any key starting with one of prefixes.
func WithReadOnly(prefixes ...string) Option {
	return func(s *Service) {
		for _, p := range prefixes {
			if p = strings.TrimSpace(p); p != "" {
				s.readOnly = append(s.readOnly, p)
			}
		}
	}
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

type listener struct {
	id ListenerID
	fn ChangeFunc
}

// Service is the Store implementation over a Backend.
//
// Each transaction runs its requests in order on its own goroutine and
// closes once its queue drains. Change notifications are delivered from a
// single dispatcher goroutine in the order writes were persisted.
type Service struct {
	backend  Backend
	logger   *slog.Logger
	readOnly []string

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu orders persistence with notification enqueueing.
	writeMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	listeners map[string][]listener
	open      map[*transaction]struct{}

	events     chan []Change
	dispatched chan struct{}
}

// NewService starts a Service over backend. Call Close to stop it.
func NewService(backend Backend, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		backend:    backend,
		logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
		listeners:  make(map[string][]listener),
		open:       make(map[*transaction]struct{}),
		events:     make(chan []Change, 64),
		dispatched: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.dispatch()
	return s
}

// CreateTransaction returns a fresh open transaction. After Close the
// returned transaction is already closed.
func (s *Service) CreateTransaction() Transaction {
	tx := &transaction{id: uuid.New().String(), svc: s}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		tx.closed = true
		return tx
	}
	s.open[tx] = struct{}{}
	return tx
}

// AddChangeListener registers fn for every later write to key.
func (s *Service) AddChangeListener(key string, fn ChangeFunc) ListenerID {
	id := ListenerID(uuid.New().String())
	s.mu.Lock()
	s.listeners[key] = append(s.listeners[key], listener{id: id, fn: fn})
	s.mu.Unlock()
	return id
}

// RemoveChangeListener unregisters id. Unknown ids are ignored.
func (s *Service) RemoveChangeListener(key string, id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.listeners[key]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		ls = append(ls[:i:i], ls[i+1:]...)
		if len(ls) == 0 {
			delete(s.listeners, key)
		} else {
			s.listeners[key] = ls
		}
		return
	}
}

// ListenerCount reports how many change listeners are registered for key.
func (s *Service) ListenerCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[key])
}

// Snapshot returns every stored key and value.
func (s *Service) Snapshot(ctx context.Context) (map[string]any, error) {
	return s.backend.All(ctx)
}

// Seed writes defaults and notifies listeners of the keys it wrote. Unless
// overwrite is set, keys that are already stored are left alone. It returns
// the keys written, sorted. Read-only prefixes do not apply; Seed is for the
// daemon's own defaults file.
func (s *Service) Seed(ctx context.Context, defaults map[string]any, overwrite bool) ([]string, error) {
	return s.seed(ctx, defaults, overwrite, false)
}

// Import is Seed for values coming from clients. Any key under a read-only
// prefix fails the whole import with ErrPermissionDenied.
func (s *Service) Import(ctx context.Context, values map[string]any, overwrite bool) ([]string, error) {
	if err := s.checkWritable(values); err != nil {
		return nil, err
	}
	return s.seed(ctx, values, overwrite, true)
}

func (s *Service) seed(ctx context.Context, defaults map[string]any, overwrite, checked bool) ([]string, error) {
	if len(defaults) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(defaults))
	for k, v := range defaults {
		if !overwrite {
			_, ok, err := s.backend.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			if ok {
				continue
			}
		}
		values[k] = v
	}
	if err := s.write(ctx, values, checked); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close invalidates open transactions and stops notification delivery.
// Requests queued on open transactions fail with ErrStaleHandle.
func (s *Service) Close() error {
	s.cancel()

	s.writeMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	open := s.open
	s.open = make(map[*transaction]struct{})
	close(s.events)
	s.mu.Unlock()
	s.writeMu.Unlock()

	for tx := range open {
		tx.invalidate()
	}
	<-s.dispatched
	return nil
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) forget(tx *transaction) {
	s.mu.Lock()
	delete(s.open, tx)
	s.mu.Unlock()
}

func (s *Service) checkWritable(values map[string]any) error {
	for k := range values {
		for _, p := range s.readOnly {
			if strings.HasPrefix(k, p) {
				return fmt.Errorf("%w: %s", ErrPermissionDenied, k)
			}
		}
	}
	return nil
}

func (s *Service) read(ctx context.Context, key string) (map[string]any, error) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	result := make(map[string]any, 1)
	if ok {
		result[key] = v
	}
	return result, nil
}

// write persists values and queues one Change per key. When checked is
// set, read-only keys are rejected.
func (s *Service) write(ctx context.Context, values map[string]any, checked bool) error {
	if len(values) == 0 {
		return nil
	}
	if checked {
		if err := s.checkWritable(values); err != nil {
			return err
		}
	}

	normalized := make(map[string]any, len(values))
	for k, v := range values {
		nv, err := Normalize(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", k, err)
		}
		normalized[k] = nv
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return ErrStaleHandle
	}
	if err := s.backend.Set(ctx, normalized); err != nil {
		return err
	}

	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	changes := make([]Change, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, Change{Key: k, Value: normalized[k]})
	}
	s.events <- changes
	return nil
}

func (s *Service) dispatch() {
	defer close(s.dispatched)
	for batch := range s.events {
		for _, c := range batch {
			s.mu.Lock()
			ls := append([]listener(nil), s.listeners[c.Key]...)
			s.mu.Unlock()
			for _, l := range ls {
				s.deliver(l, c)
			}
		}
	}
}

func (s *Service) deliver(l listener, c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("settings listener panicked", "key", c.Key, "listener", l.id, "panic", r)
		}
	}()
	l.fn(c)
}

type op struct {
	req *Request
	run func(ctx context.Context) (map[string]any, error)
}

type transaction struct {
	id  string
	svc *Service

	mu      sync.Mutex
	closed  bool
	running bool
	queue   []op
}

func (t *transaction) ID() string { return t.id }

func (t *transaction) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *transaction) Get(key string) (*Request, error) {
	return t.enqueue(func(ctx context.Context) (map[string]any, error) {
		return t.svc.read(ctx, key)
	})
}

func (t *transaction) Set(values map[string]any) (*Request, error) {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return t.enqueue(func(ctx context.Context) (map[string]any, error) {
		return nil, t.svc.write(ctx, copied, true)
	})
}

func (t *transaction) enqueue(run func(ctx context.Context) (map[string]any, error)) (*Request, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrStaleHandle
	}
	req := NewRequest()
	t.queue = append(t.queue, op{req: req, run: run})
	if !t.running {
		t.running = true
		go t.work()
	}
	return req, nil
}

func (t *transaction) work() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.running = false
			t.closed = true
			t.mu.Unlock()
			t.svc.forget(t)
			return
		}
		next := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		if t.svc.isClosed() {
			next.req.Complete(nil, ErrStaleHandle)
			continue
		}
		result, err := next.run(t.svc.ctx)
		next.req.Complete(result, err)
	}
}

// invalidate closes t and fails requests that have not started.
func (t *transaction) invalidate() {
	t.mu.Lock()
	t.closed = true
	pending := t.queue
	t.queue = nil
	t.mu.Unlock()
	for _, o := range pending {
		o.req.Complete(nil, ErrStaleHandle)
	}
}
