package settings

import (
	"context"
	"sync"
)

// Request is the pending result of a Get or Set. It completes exactly once.
type Request struct {
	done   chan struct{}
	once   sync.Once
	result map[string]any
	err    error
}

// NewRequest returns an incomplete request. Store implementations complete
// it with Complete.
func NewRequest() *Request {
	return &Request{done: make(chan struct{})}
}

// Complete records the outcome and wakes waiters. Later calls are ignored.
func (r *Request) Complete(result map[string]any, err error) {
	r.once.Do(func() {
		r.result = result
		r.err = err
		close(r.done)
	})
}

// Done is closed once the request has completed.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Result returns the read mapping. Only meaningful after Done.
func (r *Request) Result() map[string]any {
	select {
	case <-r.done:
		return r.result
	default:
		return nil
	}
}

// Err returns the failure, if any. Only meaningful after Done.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the request completes or ctx is done.
func (r *Request) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
