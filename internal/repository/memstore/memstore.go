// Package memstore is an in-process implementation of the repository
// interfaces, used by tests and by QUOTA_BACKEND=memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
)

var (
	_ repository.ReceiptRepository = (*Receipts)(nil)
	_ repository.UsageRepository   = (*Usage)(nil)
)

// Receipts stores receipts in a map keyed by id. Every value handed in or
// out is a deep copy.
type Receipts struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*entity.Receipt
	now  func() time.Time
	// seq breaks CreatedAt ties for rows created within one clock tick.
	seq int64

	// FailPatchesAfter, when positive, makes ApplyPatches fail once that
	// many batches have committed. Used to exercise partial scans.
	FailPatchesAfter int
	batches          int
}

func NewReceipts() *Receipts {
	return &Receipts{
		rows: make(map[uuid.UUID]*entity.Receipt),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for CreatedAt and UpdatedAt.
func (s *Receipts) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Receipts) Create(_ context.Context, rec *entity.Receipt) (*entity.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := rec.Clone()
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if _, exists := s.rows[out.ID]; exists {
		return nil, fmt.Errorf("%w: receipt %s already exists", common.ErrDatabase, out.ID)
	}
	now := s.now()
	if out.CreatedAt.IsZero() {
		s.seq++
		out.CreatedAt = now.Add(time.Duration(s.seq) * time.Microsecond)
	}
	out.UpdatedAt = now
	if out.Status == "" {
		out.Status = constants.StatusSettled
	}
	if out.TxType == "" {
		out.TxType = constants.TxPurchase
	}
	s.rows[out.ID] = out
	return out.Clone(), nil
}

func (s *Receipts) Get(_ context.Context, ownerID string, id uuid.UUID) (*entity.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("receipt %s: %w", id, common.ErrNotFound)
	}
	if rec.OwnerID != ownerID {
		return nil, fmt.Errorf("receipt %s: %w", id, common.ErrPermissionDenied)
	}
	if rec.Status == constants.StatusDiscarded {
		return nil, fmt.Errorf("receipt %s: %w", id, common.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Receipts) Update(_ context.Context, rec *entity.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[rec.ID]
	if !ok {
		return fmt.Errorf("receipt %s: %w", rec.ID, common.ErrNotFound)
	}
	if cur.OwnerID != rec.OwnerID {
		return fmt.Errorf("receipt %s: %w", rec.ID, common.ErrPermissionDenied)
	}
	if cur.Status == constants.StatusDiscarded {
		return fmt.Errorf("receipt %s: %w", rec.ID, common.ErrNotFound)
	}
	next := rec.Clone()
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()
	s.rows[rec.ID] = next
	return nil
}

func (s *Receipts) ListByStatus(_ context.Context, ownerID string, statuses ...constants.ReceiptStatus) ([]*entity.Receipt, error) {
	if len(statuses) == 0 {
		statuses = []constants.ReceiptStatus{constants.StatusSettled, constants.StatusUnderReview}
	}
	want := make(map[constants.ReceiptStatus]bool, len(statuses))
	for _, st := range statuses {
		if st != constants.StatusDiscarded {
			want[st] = true
		}
	}
	return s.filter(ownerID, func(r *entity.Receipt) bool { return want[r.Status] }, byCreated), nil
}

func (s *Receipts) ListReceipts(_ context.Context, ownerID string, fromDate, toDate *time.Time) ([]*entity.Receipt, error) {
	keep := func(r *entity.Receipt) bool {
		if r.Status == constants.StatusDiscarded {
			return false
		}
		if fromDate != nil && (r.TxDate == nil || r.TxDate.Before(*fromDate)) {
			return false
		}
		if toDate != nil && (r.TxDate == nil || r.TxDate.After(*toDate)) {
			return false
		}
		return true
	}
	return s.filter(ownerID, keep, byTxDate), nil
}

func (s *Receipts) FindSettledByKey(_ context.Context, ownerID, key string, excludeID uuid.UUID) (*entity.Receipt, error) {
	hits := s.filter(ownerID, func(r *entity.Receipt) bool {
		return r.Status == constants.StatusSettled && r.ID != excludeID &&
			r.CanonicalKey != nil && *r.CanonicalKey == key
	}, byCreated)
	if len(hits) == 0 {
		return nil, nil
	}
	return hits[0], nil
}

func (s *Receipts) ApplyPatches(_ context.Context, ownerID string, patches []entity.ReceiptPatch) error {
	if len(patches) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPatchesAfter > 0 && s.batches >= s.FailPatchesAfter {
		return fmt.Errorf("%w: injected batch failure", common.ErrDatabase)
	}
	now := s.now()
	for _, p := range patches {
		rec, ok := s.rows[p.ID]
		if !ok || rec.OwnerID != ownerID {
			continue
		}
		p.Apply(rec, now)
	}
	s.batches++
	return nil
}

// All returns every row including discarded ones, ordered by creation.
func (s *Receipts) All() []*entity.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.Receipt, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.Clone())
	}
	sort.Slice(out, byCreated(out))
	return out
}

// Raw returns a copy of the stored row regardless of owner or status.
func (s *Receipts) Raw(id uuid.UUID) (*entity.Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	return r.Clone(), ok
}

func (s *Receipts) filter(ownerID string, keep func(*entity.Receipt) bool, order func([]*entity.Receipt) func(i, j int) bool) []*entity.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.Receipt
	for _, r := range s.rows {
		if r.OwnerID == ownerID && keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, order(out))
	return out
}

func byCreated(rs []*entity.Receipt) func(i, j int) bool {
	return func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID.String() < rs[j].ID.String()
	}
}

func byTxDate(rs []*entity.Receipt) func(i, j int) bool {
	created := byCreated(rs)
	return func(i, j int) bool {
		di, dj := rs[i].TxDate, rs[j].TxDate
		switch {
		case di == nil && dj == nil:
			return created(i, j)
		case di == nil:
			return true
		case dj == nil:
			return false
		case !di.Equal(*dj):
			return di.Before(*dj)
		}
		return created(i, j)
	}
}

// Usage holds counters in memory. Update keeps the lock for the whole
// read-decide-write cycle.
type Usage struct {
	mu       sync.Mutex
	counters map[string]*entity.UsageCounter
}

func NewUsage() *Usage {
	return &Usage{counters: make(map[string]*entity.UsageCounter)}
}

func (u *Usage) Get(_ context.Context, ownerID string) (*entity.UsageCounter, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	c, ok := u.counters[ownerID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (u *Usage) Update(_ context.Context, ownerID string, fn repository.UsageTxFunc) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var cur *entity.UsageCounter
	if c, ok := u.counters[ownerID]; ok {
		cp := *c
		cur = &cp
	}
	next, err := fn(cur)
	if err != nil || next == nil {
		return err
	}
	stored := *next
	stored.OwnerID = ownerID
	stored.Version = 1
	if cur != nil {
		stored.Version = cur.Version + 1
	}
	u.counters[ownerID] = &stored
	return nil
}
