package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
)

// ItemFailure is one image that could not be turned into a receipt.
type ItemFailure struct {
	Name string
	Err  error
}

// BatchResult reports a rescan run. Completed counts images that were saved.
type BatchResult struct {
	Completed int
	Saved     []*entity.Receipt
	Failures  []ItemFailure
}

// Processor runs the scan stage over a batch of images.
type Processor struct {
	Logger *slog.Logger
	Scan   *ScanStage
}

func NewProcessor(logger *slog.Logger, scan *ScanStage) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, Scan: scan}
}

// RescanBatch processes images in order. It stops at the first quota or
// provider exhaustion error and returns it with the partial result; any
// other failure is recorded and the batch moves on.
func (p *Processor) RescanBatch(ctx context.Context, ownerID string, plan constants.Plan, images []Image) (BatchResult, error) {
	var res BatchResult
	for i, img := range images {
		rec, err := p.Scan.Run(ctx, ownerID, plan, img)
		if err != nil {
			if errors.Is(err, common.ErrQuotaExceeded) {
				p.Logger.Warn("processor.batch.halted",
					"owner_id", ownerID, "image", img.Name,
					"completed", res.Completed, "remaining", len(images)-i, "err", err)
				return res, err
			}
			p.Logger.Error("processor.item.failed", "owner_id", ownerID, "image", img.Name, "err", err)
			res.Failures = append(res.Failures, ItemFailure{Name: img.Name, Err: err})
			continue
		}
		res.Completed++
		res.Saved = append(res.Saved, rec)
	}
	p.Logger.Info("processor.batch.ok",
		"owner_id", ownerID, "images", len(images),
		"completed", res.Completed, "failed", len(res.Failures))
	return res, nil
}
