// Package cancel provides a cooperative cancellation token with
// parent/child linkage. Workers observe tokens on check boundaries;
// async code selects on Done().
package cancel

import (
	"sync"
)

// Token is a single-set cancellation flag. Once cancelled it stays
// cancelled; cancelling a parent cascades to all children created
// before or after the parent was cancelled.
type Token struct {
	mu       sync.Mutex
	done     chan struct{}
	children []*Token
}

// New creates a root token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Child creates a token linked to t. Cancelling t cancels the child;
// cancelling the child does not affect t. Children are scoped to the
// lifetime of one request — callers must not accumulate children on a
// long-lived parent beyond the requests they serve.
func (t *Token) Child() *Token {
	c := New()
	t.mu.Lock()
	if t.cancelled() {
		t.mu.Unlock()
		c.Cancel()
		return c
	}
	t.children = append(t.children, c)
	t.mu.Unlock()
	return c
}

// Cancel fires the token. Safe to call multiple times and from
// multiple goroutines.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled() {
		t.mu.Unlock()
		return
	}
	close(t.done)
	children := t.children
	t.children = nil
	t.mu.Unlock()

	for _, c := range children {
		c.Cancel()
	}
}

// Cancelled reports whether the token has fired.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token fires.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// cancelled must be called with t.mu held.
func (t *Token) cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
