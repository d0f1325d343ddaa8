package ingest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/entity"
	"github.com/joseph-ayodele/receipt-reconciler/internal/receipts"
	"github.com/joseph-ayodele/receipt-reconciler/internal/repository/memstore"
)

const owner = "user-1"

func newImporter() (*Importer, *memstore.Receipts) {
	store := memstore.NewReceipts()
	return NewImporter(receipts.NewService(store, nil, nil), nil), store
}

func TestImportCSV(t *testing.T) {
	im, store := newImporter()
	data := strings.Join([]string{
		"Date,Merchant,Amount,Category,Currency,Notes",
		"2024-03-01,Costco #481,54.20,grocery,usd,weekly shop",
		"03/01/2024,COSTCO,\"$54.20\",Groceries,USD,",
		"2024-03-02,Target,-15.50,Shopping,USD,return",
		",,,,,",
		"2024-03-03,,,,,no merchant or amount",
		"not a date,Cafe,4.00,Dining,USD,",
	}, "\n")

	res, err := im.ImportCSV(context.Background(), owner, strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, 4, res.Saved)
	assert.Equal(t, 1, res.Flagged)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 6, res.Errors[0].Row)
	assert.ErrorIs(t, res.Errors[0].Err, common.ErrInvalidInput)

	var refund, cafe bool
	for _, r := range store.All() {
		assert.Equal(t, constants.SourceCSV, r.Source)
		switch r.MerchantName {
		case "Target":
			refund = true
			assert.Equal(t, constants.TxRefund, r.TxType)
			assert.Equal(t, 15.5, *r.Total)
		case "Cafe":
			cafe = true
			assert.Nil(t, r.TxDate)
			assert.Nil(t, r.CanonicalKey)
		}
	}
	assert.True(t, refund)
	assert.True(t, cafe)
}

func TestImportCSV_HeaderErrors(t *testing.T) {
	im, _ := newImporter()
	ctx := context.Background()

	_, err := im.ImportCSV(ctx, owner, strings.NewReader("date,category\n2024-03-01,Dining\n"))
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = im.ImportCSV(ctx, owner, strings.NewReader(""))
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = im.ImportCSV(ctx, owner, strings.NewReader("merchant,total\n\"unterminated,1\n"))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestImportXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Merchant Name", "Tx Date", "Total", "Type"},
		{"Whole Foods", "2024-05-01", 30.25, "purchase"},
		{"Whole Foods Market", "2024-05-01", 30.25, ""},
		{"Airline", "2024-05-02", 120, "refund"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	im, store := newImporter()
	res, err := im.ImportXLSX(context.Background(), owner, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 3, res.Saved)
	assert.Equal(t, 1, res.Flagged, "the market suffix is stripped from the key")

	byName := map[string]*entity.Receipt{}
	for _, r := range store.All() {
		byName[r.MerchantName] = r
	}
	first, second := byName["Whole Foods"], byName["Whole Foods Market"]
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, constants.StatusSettled, first.Status)
	assert.Equal(t, constants.StatusUnderReview, second.Status)
	require.NotNil(t, second.OriginalReceiptID)
	assert.Equal(t, first.ID, *second.OriginalReceiptID)

	airline := byName["Airline"]
	require.NotNil(t, airline)
	assert.Equal(t, constants.StatusSettled, airline.Status)
	assert.Equal(t, constants.TxRefund, airline.TxType)
	assert.Equal(t, -120.0, airline.NetAmount())
}

func TestImportFile(t *testing.T) {
	im, _ := newImporter()
	dir := t.TempDir()

	path := filepath.Join(dir, "receipts.csv")
	require.NoError(t, os.WriteFile(path, []byte("merchant,total\nCostco,1.00\n"), 0o600))
	res, err := im.ImportFile(context.Background(), owner, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)

	_, err = im.ImportFile(context.Background(), owner, filepath.Join(dir, "receipts.pdf"))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
