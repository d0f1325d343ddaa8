package dedup

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository"
)

// Probe checks one incoming receipt against the owner's settled receipts.
//
// It takes no lock: two identical receipts saved at the same moment can
// both pass. Scanner.Scan catches those.
type Probe struct {
	repo   repository.ReceiptRepository
	logger *slog.Logger
}

func NewProbe(repo repository.ReceiptRepository, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{repo: repo, logger: logger}
}

// Check returns the settled receipt the candidate duplicates, or nil when
// the candidate cannot be keyed or nothing matches.
func (p *Probe) Check(ctx context.Context, ownerID string, candidate *entity.Receipt) (*entity.Receipt, error) {
	key := ReceiptKey(candidate)
	if key == nil {
		return nil, nil
	}
	// the candidate never matches itself; uuid.Nil for a receipt not yet stored
	match, err := p.repo.FindSettledByKey(ctx, ownerID, *key, candidate.ID)
	if err != nil {
		return nil, err
	}
	if match != nil {
		p.logger.Debug("probe.hit", "owner_id", ownerID, "original_id", match.ID)
	}
	return match, nil
}
