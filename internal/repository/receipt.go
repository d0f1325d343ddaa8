package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/utils"
)

// ReceiptRepository is the owner-scoped receipt store the reconciliation
// engine depends on. Discarded receipts are invisible to every read.
type ReceiptRepository interface {
	Create(ctx context.Context, rec *entity.Receipt) (*entity.Receipt, error)
	// Get returns common.ErrNotFound for missing or discarded rows and
	// common.ErrPermissionDenied when the row belongs to someone else.
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Receipt, error)
	// Update overwrites every mutable column of an existing, non-discarded row.
	Update(ctx context.Context, rec *entity.Receipt) error
	ListByStatus(ctx context.Context, ownerID string, statuses ...constants.ReceiptStatus) ([]*entity.Receipt, error)
	ListReceipts(ctx context.Context, ownerID string, fromDate, toDate *time.Time) ([]*entity.Receipt, error)
	// FindSettledByKey returns the oldest settled receipt with key other
	// than excludeID (uuid.Nil excludes nothing), or nil, nil.
	FindSettledByKey(ctx context.Context, ownerID, key string, excludeID uuid.UUID) (*entity.Receipt, error)
	// ApplyPatches commits all patches atomically. Patches that match no
	// row of ownerID are skipped.
	ApplyPatches(ctx context.Context, ownerID string, patches []entity.ReceiptPatch) error
}

const receiptsTable = "receipts"

var receiptColumns = []string{
	"id", "owner_id", "merchant_name", "tx_date", "tx_type", "total",
	"currency_code", "category", "payment_method", "description", "source",
	"canonical_key", "status", "original_receipt_id", "created_at", "updated_at",
}

type receiptRepository struct {
	db     *DB
	now    func() time.Time
	logger *slog.Logger
}

func NewReceiptRepository(db *DB, logger *slog.Logger) ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &receiptRepository{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (r *receiptRepository) Create(ctx context.Context, rec *entity.Receipt) (*entity.Receipt, error) {
	out := rec.Clone()
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	now := r.now()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC().Truncate(time.Microsecond)
	out.UpdatedAt = now.Truncate(time.Microsecond)
	if out.Status == "" {
		out.Status = constants.StatusSettled
	}

	query, args := r.db.Builder().Insert(receiptsTable).
		Columns(receiptColumns...).
		Values(receiptValues(out)...).
		Query()
	if _, err := r.db.SQL().ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to create receipt", "owner_id", out.OwnerID, "error", err)
		return nil, fmt.Errorf("%w: create receipt: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *receiptRepository) Get(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Receipt, error) {
	query, args := r.db.Builder().Select(receiptColumns...).
		From(entsql.Table(receiptsTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	rec, err := scanReceipt(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get receipt", "receipt_id", id, "error", err)
		return nil, fmt.Errorf("%w: get receipt: %v", common.ErrDatabase, err)
	}
	if rec.OwnerID != ownerID {
		return nil, fmt.Errorf("receipt %s: %w", id, common.ErrPermissionDenied)
	}
	if rec.Status == constants.StatusDiscarded {
		return nil, fmt.Errorf("receipt %s: %w", id, common.ErrNotFound)
	}
	return rec, nil
}

func (r *receiptRepository) Update(ctx context.Context, rec *entity.Receipt) error {
	if _, err := r.Get(ctx, rec.OwnerID, rec.ID); err != nil {
		return err
	}
	vals := receiptValues(rec)
	upd := r.db.Builder().Update(receiptsTable)
	// skip id and owner_id, which are immutable, and created_at
	for i, col := range receiptColumns {
		switch col {
		case "id", "owner_id", "created_at", "updated_at":
			continue
		}
		upd = upd.Set(col, vals[i])
	}
	upd = upd.Set("updated_at", r.now().UnixMicro()).
		Where(entsql.And(
			entsql.EQ("id", rec.ID.String()),
			entsql.EQ("owner_id", rec.OwnerID),
			entsql.NEQ("status", string(constants.StatusDiscarded)),
		))
	query, args := upd.Query()
	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to update receipt", "receipt_id", rec.ID, "error", err)
		return fmt.Errorf("%w: update receipt: %v", common.ErrDatabase, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("receipt %s: %w", rec.ID, common.ErrNotFound)
	}
	return nil
}

func (r *receiptRepository) ListByStatus(ctx context.Context, ownerID string, statuses ...constants.ReceiptStatus) ([]*entity.Receipt, error) {
	if len(statuses) == 0 {
		statuses = []constants.ReceiptStatus{constants.StatusSettled, constants.StatusUnderReview}
	}
	vals := make([]any, 0, len(statuses))
	for _, s := range statuses {
		if s == constants.StatusDiscarded {
			continue
		}
		vals = append(vals, string(s))
	}
	if len(vals) == 0 {
		return nil, nil
	}
	query, args := r.db.Builder().Select(receiptColumns...).
		From(entsql.Table(receiptsTable)).
		Where(entsql.And(
			entsql.EQ("owner_id", ownerID),
			entsql.In("status", vals...),
		)).
		OrderBy("created_at", "id").
		Query()
	return r.queryReceipts(ctx, query, args)
}

func (r *receiptRepository) ListReceipts(ctx context.Context, ownerID string, fromDate, toDate *time.Time) ([]*entity.Receipt, error) {
	preds := []*entsql.Predicate{
		entsql.EQ("owner_id", ownerID),
		entsql.NEQ("status", string(constants.StatusDiscarded)),
	}
	if fromDate != nil {
		preds = append(preds, entsql.GTE("tx_date", fromDate.Format(utils.DateLayout)))
	}
	if toDate != nil {
		preds = append(preds, entsql.LTE("tx_date", toDate.Format(utils.DateLayout)))
	}
	query, args := r.db.Builder().Select(receiptColumns...).
		From(entsql.Table(receiptsTable)).
		Where(entsql.And(preds...)).
		OrderBy("tx_date", "created_at", "id").
		Query()
	recs, err := r.queryReceipts(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to list receipts", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return recs, nil
}

func (r *receiptRepository) FindSettledByKey(ctx context.Context, ownerID, key string, excludeID uuid.UUID) (*entity.Receipt, error) {
	preds := []*entsql.Predicate{
		entsql.EQ("owner_id", ownerID),
		entsql.EQ("status", string(constants.StatusSettled)),
		entsql.EQ("canonical_key", key),
	}
	if excludeID != uuid.Nil {
		preds = append(preds, entsql.NEQ("id", excludeID.String()))
	}
	query, args := r.db.Builder().Select(receiptColumns...).
		From(entsql.Table(receiptsTable)).
		Where(entsql.And(preds...)).
		OrderBy("created_at", "id").
		Limit(1).
		Query()
	rec, err := scanReceipt(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to look up receipt by key", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: find by key: %v", common.ErrDatabase, err)
	}
	return rec, nil
}

func (r *receiptRepository) ApplyPatches(ctx context.Context, ownerID string, patches []entity.ReceiptPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := r.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin batch: %v", common.ErrDatabase, err)
	}
	now := r.now().UnixMicro()
	for _, p := range patches {
		upd := r.db.Builder().Update(receiptsTable).Set("updated_at", now)
		if p.Status != "" {
			upd = upd.Set("status", string(p.Status))
		}
		if p.SetOriginal {
			if p.OriginalReceiptID == nil {
				upd = upd.SetNull("original_receipt_id")
			} else {
				upd = upd.Set("original_receipt_id", p.OriginalReceiptID.String())
			}
		}
		if p.SetCanonicalKey {
			if p.CanonicalKey == nil {
				upd = upd.SetNull("canonical_key")
			} else {
				upd = upd.Set("canonical_key", *p.CanonicalKey)
			}
		}
		query, args := upd.Where(entsql.And(
			entsql.EQ("id", p.ID.String()),
			entsql.EQ("owner_id", ownerID),
		)).Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			r.logger.Error("receipt batch write failed", "owner_id", ownerID, "receipt_id", p.ID, "batch_size", len(patches), "error", err)
			return fmt.Errorf("%w: batch write: %v", common.ErrDatabase, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit batch: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *receiptRepository) queryReceipts(ctx context.Context, query string, args []any) ([]*entity.Receipt, error) {
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query receipts: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan receipt: %v", common.ErrDatabase, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate receipts: %v", common.ErrDatabase, err)
	}
	return out, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*entity.Receipt, error) {
	var (
		id, ownerID, merchant, txType, currency, category string
		payment, description, source, status              string
		txDate, key, original                             sql.NullString
		total                                             sql.NullFloat64
		createdAt, updatedAt                              int64
	)
	if err := row.Scan(&id, &ownerID, &merchant, &txDate, &txType, &total,
		&currency, &category, &payment, &description, &source,
		&key, &status, &original, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad receipt id %q: %w", id, err)
	}
	rec := &entity.Receipt{
		ID:            rid,
		OwnerID:       ownerID,
		MerchantName:  merchant,
		TxType:        constants.TxType(txType),
		CurrencyCode:  currency,
		Category:      category,
		PaymentMethod: payment,
		Description:   description,
		Source:        constants.Source(source),
		Status:        constants.ReceiptStatus(status),
		CreatedAt:     time.UnixMicro(createdAt).UTC(),
		UpdatedAt:     time.UnixMicro(updatedAt).UTC(),
	}
	if txDate.Valid {
		d, err := utils.ParseYMD(txDate.String)
		if err != nil {
			return nil, fmt.Errorf("bad tx_date %q: %w", txDate.String, err)
		}
		rec.TxDate = &d
	}
	if total.Valid {
		t := total.Float64
		rec.Total = &t
	}
	if key.Valid {
		k := key.String
		rec.CanonicalKey = &k
	}
	if original.Valid {
		o, err := uuid.Parse(original.String)
		if err != nil {
			return nil, fmt.Errorf("bad original_receipt_id %q: %w", original.String, err)
		}
		rec.OriginalReceiptID = &o
	}
	return rec, nil
}

// receiptValues lines up with receiptColumns.
func receiptValues(r *entity.Receipt) []any {
	var txDate, total, key, original any
	if r.TxDate != nil {
		txDate = r.TxDate.Format(utils.DateLayout)
	}
	if r.Total != nil {
		total = *r.Total
	}
	if r.CanonicalKey != nil {
		key = *r.CanonicalKey
	}
	if r.OriginalReceiptID != nil {
		original = r.OriginalReceiptID.String()
	}
	txType := r.TxType
	if txType == "" {
		txType = constants.TxPurchase
	}
	return []any{
		r.ID.String(), r.OwnerID, r.MerchantName, txDate, string(txType), total,
		r.CurrencyCode, r.Category, r.PaymentMethod, r.Description, string(r.Source),
		key, string(r.Status), original, r.CreatedAt.UnixMicro(), r.UpdatedAt.UnixMicro(),
	}
}

// isPostgres reports whether row locks are available for the dialect.
func isPostgres(db *DB) bool {
	return db.Dialect() == dialect.Postgres
}
