// Package reconcile applies the user's resolution to receipts held in
// under_review and lists the pairs still waiting for one.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/dedup"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/metrics"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
)

// Pair is one outstanding review item. Original is nil when the record the
// duplicate pointed at no longer exists.
type Pair struct {
	Original  *entity.Receipt
	Duplicate *entity.Receipt
}

type BulkResult struct {
	Attempted int
	Resolved  int
	Failed    int
}

type Service struct {
	repo    repository.ReceiptRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewService(repo repository.ReceiptRepository, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, metrics: m, logger: logger}
}

// Resolve applies action to the pair. Both receipts must belong to ownerID
// and duplicate must point at original. The records are re-read from the
// store before anything is written; the arguments only identify them.
func (s *Service) Resolve(ctx context.Context, ownerID string, action Action, original, duplicate *entity.Receipt) error {
	if original == nil || duplicate == nil {
		return common.Invalidf("both original and duplicate are required")
	}
	if original.OwnerID != ownerID || duplicate.OwnerID != ownerID {
		return fmt.Errorf("resolve %s: %w", duplicate.ID, common.ErrPermissionDenied)
	}
	return s.ResolveByID(ctx, ownerID, action, original.ID, duplicate.ID)
}

// ResolveByID is Resolve for callers that only hold the two ids.
func (s *Service) ResolveByID(ctx context.Context, ownerID string, action Action, originalID, duplicateID uuid.UUID) error {
	err := s.resolve(ctx, ownerID, action, originalID, duplicateID, true)
	s.metrics.ObserveResolution(action.String(), err)
	return err
}

// resolve loads the live pair and applies one transition. strict requires
// the duplicate's back pointer to name originalID.
func (s *Service) resolve(ctx context.Context, ownerID string, action Action, originalID, duplicateID uuid.UUID, strict bool) error {
	if !action.Valid() {
		return common.Invalidf("unknown resolution action %v", action)
	}

	dup, err := s.repo.Get(ctx, ownerID, duplicateID)
	if errors.Is(err, common.ErrNotFound) {
		s.logger.Info("resolve.skip", "owner_id", ownerID, "duplicate_id", duplicateID, "reason", "duplicate gone")
		return nil
	}
	if err != nil {
		return err
	}
	if dup.Status != constants.StatusUnderReview {
		return common.Invalidf("receipt %s is %s, not under review", dup.ID, dup.Status)
	}
	if strict && (dup.OriginalReceiptID == nil || *dup.OriginalReceiptID != originalID) {
		return common.Invalidf("receipt %s is not a duplicate of %s", dup.ID, originalID)
	}

	orig, err := s.repo.Get(ctx, ownerID, originalID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return s.drainOrphan(ctx, ownerID, action, dup)
	case err != nil:
		return err
	}

	switch action {
	case Merge:
		merged := orig.Clone()
		// CreatedAt stays the original's so the merged receipt keeps its
		// place as the oldest of its key group.
		merged.CopyFieldsFrom(dup)
		merged.CanonicalKey = dedup.ReceiptKey(merged)
		merged.Status = constants.StatusSettled
		merged.OriginalReceiptID = nil
		if err := s.repo.Update(ctx, merged); err != nil {
			return fmt.Errorf("merge into %s: %w", orig.ID, err)
		}
		if err := s.repo.ApplyPatches(ctx, ownerID, []entity.ReceiptPatch{entity.DiscardPatch(dup.ID)}); err != nil {
			return fmt.Errorf("discard merged %s: %w", dup.ID, err)
		}
	case Keep:
		if err := s.repo.ApplyPatches(ctx, ownerID, []entity.ReceiptPatch{entity.SettlePatch(dup.ID)}); err != nil {
			return fmt.Errorf("keep %s: %w", dup.ID, err)
		}
	case Delete:
		if err := s.repo.ApplyPatches(ctx, ownerID, []entity.ReceiptPatch{entity.DiscardPatch(dup.ID)}); err != nil {
			return fmt.Errorf("delete %s: %w", dup.ID, err)
		}
	case KeepNew:
		patches := []entity.ReceiptPatch{entity.DiscardPatch(orig.ID), entity.SettlePatch(dup.ID)}
		if err := s.repo.ApplyPatches(ctx, ownerID, patches); err != nil {
			return fmt.Errorf("keep new %s: %w", dup.ID, err)
		}
	default:
		return common.Invalidf("unknown resolution action %v", action)
	}

	s.logger.Info("resolve.applied", "owner_id", ownerID, "action", action.String(), "original_id", orig.ID, "duplicate_id", dup.ID)
	return nil
}

// drainOrphan handles a duplicate whose original is gone: the pair counts
// as already resolved, so no fields are copied and the duplicate just
// leaves the queue.
func (s *Service) drainOrphan(ctx context.Context, ownerID string, action Action, dup *entity.Receipt) error {
	var p entity.ReceiptPatch
	switch action {
	case Delete:
		p = entity.DiscardPatch(dup.ID)
	case Merge, Keep, KeepNew:
		p = entity.SettlePatch(dup.ID)
	default:
		return common.Invalidf("unknown resolution action %v", action)
	}
	if err := s.repo.ApplyPatches(ctx, ownerID, []entity.ReceiptPatch{p}); err != nil {
		return fmt.Errorf("drain %s: %w", dup.ID, err)
	}
	s.logger.Info("resolve.orphan", "owner_id", ownerID, "action", action.String(), "duplicate_id", dup.ID, "status", p.Status)
	return nil
}

// ResolveAll applies keep or delete to every pair under review right now.
// Pairs are independent: one failure is recorded in the returned error and
// the rest are still processed.
func (s *Service) ResolveAll(ctx context.Context, ownerID string, action Action) (BulkResult, error) {
	if !bulkAllowed(action) {
		return BulkResult{}, common.Invalidf("bulk resolution supports keep or delete, got %v", action)
	}
	pending, err := s.repo.ListByStatus(ctx, ownerID, constants.StatusUnderReview)
	if err != nil {
		return BulkResult{}, err
	}

	var (
		res  BulkResult
		errs []error
	)
	for _, dup := range pending {
		res.Attempted++
		var originalID uuid.UUID
		if dup.OriginalReceiptID != nil {
			originalID = *dup.OriginalReceiptID
		}
		err := s.resolve(ctx, ownerID, action, originalID, dup.ID, false)
		s.metrics.ObserveResolution(action.String(), err)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("receipt %s: %w", dup.ID, err))
			continue
		}
		res.Resolved++
	}

	s.logger.Info("resolve.bulk", "owner_id", ownerID, "action", action.String(), "attempted", res.Attempted, "resolved", res.Resolved, "failed", res.Failed)
	return res, errors.Join(errs...)
}

// Pending lists outstanding pairs, oldest duplicate first.
func (s *Service) Pending(ctx context.Context, ownerID string) ([]Pair, error) {
	dups, err := s.repo.ListByStatus(ctx, ownerID, constants.StatusUnderReview)
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(dups))
	for _, d := range dups {
		p := Pair{Duplicate: d}
		if d.OriginalReceiptID != nil {
			orig, err := s.repo.Get(ctx, ownerID, *d.OriginalReceiptID)
			switch {
			case errors.Is(err, common.ErrNotFound):
			case err != nil:
				return nil, err
			default:
				p.Original = orig
			}
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}
