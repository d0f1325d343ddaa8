// Package review walks a user through their outstanding duplicate pairs
// one at a time.
package review

import (
	"context"
	"sync"

	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/reconcile"
)

// Resolver is the part of reconcile.Service a session needs.
type Resolver interface {
	Pending(ctx context.Context, ownerID string) ([]reconcile.Pair, error)
	Resolve(ctx context.Context, ownerID string, action reconcile.Action, original, duplicate *entity.Receipt) error
	ResolveAll(ctx context.Context, ownerID string, action reconcile.Action) (reconcile.BulkResult, error)
}

var _ Resolver = (*reconcile.Service)(nil)

// Session holds the pending list and a cursor into it. Navigation never
// writes; every write is followed by a reload so the list always reflects
// the store.
type Session struct {
	resolver Resolver
	ownerID  string

	mu    sync.Mutex
	pairs []reconcile.Pair
	pos   int
}

func NewSession(resolver Resolver, ownerID string) *Session {
	return &Session{resolver: resolver, ownerID: ownerID}
}

// Load fetches the live pending list and clamps the cursor into it.
func (s *Session) Load(ctx context.Context) error {
	pairs, err := s.resolver.Pending(ctx, s.ownerID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = pairs
	s.clamp()
	return nil
}

// Current returns the pair under the cursor; ok is false when nothing is pending.
func (s *Session) Current() (reconcile.Pair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pairs) == 0 {
		return reconcile.Pair{}, false
	}
	return s.pairs[s.pos], true
}

// Next moves forward and reports whether the cursor moved.
func (s *Session) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos+1 >= len(s.pairs) {
		return false
	}
	s.pos++
	return true
}

// Prev moves back and reports whether the cursor moved.
func (s *Session) Prev() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos == 0 {
		return false
	}
	s.pos--
	return true
}

// Position is the zero-based cursor.
func (s *Session) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}

// Done reports whether the queue is empty.
func (s *Session) Done() bool {
	return s.Len() == 0
}

// Resolve commits action for the current pair and reloads. The cursor stays
// at the same index, which now holds the next pair, clamped when the list
// got shorter. A pair whose original is gone is resolved without copying.
func (s *Session) Resolve(ctx context.Context, action reconcile.Action) error {
	pair, ok := s.Current()
	if !ok {
		return common.Invalidf("no pending review")
	}
	original := pair.Original
	if original == nil {
		// the resolver settles or discards the duplicate on its own
		original = &entity.Receipt{OwnerID: s.ownerID}
		if pair.Duplicate.OriginalReceiptID != nil {
			original.ID = *pair.Duplicate.OriginalReceiptID
		}
	}
	err := s.resolver.Resolve(ctx, s.ownerID, action, original, pair.Duplicate)
	if lerr := s.Load(ctx); err == nil {
		err = lerr
	}
	return err
}

// ResolveAll applies action to the live pending set, not the one this
// session loaded, then reloads.
func (s *Session) ResolveAll(ctx context.Context, action reconcile.Action) (reconcile.BulkResult, error) {
	res, err := s.resolver.ResolveAll(ctx, s.ownerID, action)
	if lerr := s.Load(ctx); err == nil {
		err = lerr
	}
	return res, err
}

func (s *Session) clamp() {
	switch {
	case len(s.pairs) == 0:
		s.pos = 0
	case s.pos >= len(s.pairs):
		s.pos = len(s.pairs) - 1
	case s.pos < 0:
		s.pos = 0
	}
}
