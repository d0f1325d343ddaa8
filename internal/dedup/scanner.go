package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/metrics"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
)

// DefaultBatchSize keeps each atomic write under common store batch limits.
const DefaultBatchSize = 400

type ScanMode int

const (
	// ScanModeFlag moves duplicates to under_review pointing at the original.
	ScanModeFlag ScanMode = iota + 1
	// ScanModeDelete discards duplicates outright.
	ScanModeDelete
)

func (m ScanMode) String() string {
	switch m {
	case ScanModeFlag:
		return "flag"
	case ScanModeDelete:
		return "delete"
	}
	return fmt.Sprintf("ScanMode(%d)", int(m))
}

func ParseScanMode(s string) (ScanMode, error) {
	switch s {
	case "flag":
		return ScanModeFlag, nil
	case "delete":
		return ScanModeDelete, nil
	}
	return 0, common.Invalidf("unknown scan mode %q, want flag or delete", s)
}

type ScanResult struct {
	// Found is the number of duplicates transitioned, counting only
	// batches that committed.
	Found int
}

type BackfillResult struct {
	Scanned int
	Updated int
}

// Scanner sweeps a user's whole collection. Each call runs to completion
// or fails; it does not stop between batches when ctx is cancelled, though
// store calls still see ctx.
type Scanner struct {
	repo      repository.ReceiptRepository
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewScanner(repo repository.ReceiptRepository, batchSize int, m *metrics.Metrics, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scanner{repo: repo, batchSize: batchSize, metrics: m, logger: logger}
}

// Scan groups settled receipts by canonical key and transitions every
// member but the oldest of each group. Re-running it is a no-op once the
// duplicates have left settled.
func (s *Scanner) Scan(ctx context.Context, ownerID string, mode ScanMode) (ScanResult, error) {
	if mode != ScanModeFlag && mode != ScanModeDelete {
		return ScanResult{}, common.Invalidf("unknown scan mode %v", mode)
	}
	start := time.Now()
	defer func() { s.metrics.ObserveScan("scan", time.Since(start)) }()

	settled, err := s.repo.ListByStatus(ctx, ownerID, constants.StatusSettled)
	if err != nil {
		return ScanResult{}, err
	}

	var patches []entity.ReceiptPatch
	for _, group := range GroupByKey(settled) {
		original := group[0]
		for _, dup := range group[1:] {
			if mode == ScanModeFlag {
				patches = append(patches, entity.FlagPatch(dup.ID, original.ID))
			} else {
				patches = append(patches, entity.DiscardPatch(dup.ID))
			}
		}
	}

	n, err := s.applyBatched(ctx, ownerID, patches)
	s.metrics.AddDuplicates(mode.String(), n)
	if err != nil {
		s.logger.Error("scan.partial", "owner_id", ownerID, "mode", mode.String(), "found", n, "pending", len(patches)-n, "error", err)
		return ScanResult{Found: n}, err
	}
	s.logger.Info("scan.complete", "owner_id", ownerID, "mode", mode.String(), "settled", len(settled), "found", n)
	return ScanResult{Found: n}, nil
}

// Backfill recomputes the canonical key of every non-discarded receipt and
// rewrites only the ones that changed.
func (s *Scanner) Backfill(ctx context.Context, ownerID string) (BackfillResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveScan("backfill", time.Since(start)) }()

	recs, err := s.repo.ListByStatus(ctx, ownerID)
	if err != nil {
		return BackfillResult{}, err
	}
	var patches []entity.ReceiptPatch
	for _, r := range recs {
		key := ReceiptKey(r)
		if sameKey(key, r.CanonicalKey) {
			continue
		}
		patches = append(patches, entity.KeyPatch(r.ID, key))
	}

	n, err := s.applyBatched(ctx, ownerID, patches)
	s.metrics.AddKeysBackfilled(n)
	res := BackfillResult{Scanned: len(recs), Updated: n}
	if err != nil {
		s.logger.Error("backfill.partial", "owner_id", ownerID, "scanned", res.Scanned, "updated", n, "error", err)
		return res, err
	}
	s.logger.Info("backfill.complete", "owner_id", ownerID, "scanned", res.Scanned, "updated", n)
	return res, nil
}

// applyBatched commits patches in sequential batches and returns how many
// were committed before the first failure.
func (s *Scanner) applyBatched(ctx context.Context, ownerID string, patches []entity.ReceiptPatch) (int, error) {
	done := 0
	for start := 0; start < len(patches); start += s.batchSize {
		end := min(start+s.batchSize, len(patches))
		if err := s.repo.ApplyPatches(ctx, ownerID, patches[start:end]); err != nil {
			return done, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		done = end
	}
	return done, nil
}

// GroupByKey buckets keyed receipts and returns groups with more than one
// member, each ordered oldest first (CreatedAt, then ID). Groups come back
// ordered by their original's position so output is deterministic.
func GroupByKey(recs []*entity.Receipt) [][]*entity.Receipt {
	byKey := make(map[string][]*entity.Receipt)
	var order []string
	for _, r := range recs {
		key := ReceiptKey(r)
		if key == nil {
			continue
		}
		if _, seen := byKey[*key]; !seen {
			order = append(order, *key)
		}
		byKey[*key] = append(byKey[*key], r)
	}

	var groups [][]*entity.Receipt
	for _, k := range order {
		g := byKey[k]
		if len(g) < 2 {
			continue
		}
		sort.SliceStable(g, func(i, j int) bool { return olderThan(g[i], g[j]) })
		groups = append(groups, g)
	}
	sort.SliceStable(groups, func(i, j int) bool { return olderThan(groups[i][0], groups[j][0]) })
	return groups
}

func olderThan(a, b *entity.Receipt) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func sameKey(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
