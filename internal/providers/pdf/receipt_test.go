package pdf

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReceiptProducesPDF(t *testing.T) {
	provider := New()
	reader, err := provider.GenerateReceipt(context.Background(), ReceiptData{
		OrgName:     "Memberhub",
		OrderNumber: "ORD-202603-0001",
		OrderID:     "ord_01",
		DatePaid:    "2026-03-14",
		BillToName:  "Ada",
		Lines: []ReceiptLine{
			{Description: "Gold membership", Amount: "HKD 500.00"},
		},
		Total: "HKD 500.00",
	})
	require.NoError(t, err)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, len(data) > 4)
	assert.Equal(t, "%PDF", string(data[:4]))
}

func TestGenerateReceiptRequiresPaidDate(t *testing.T) {
	_, err := New().GenerateReceipt(context.Background(), ReceiptData{OrderNumber: "ORD-1"})
	assert.ErrorIs(t, err, ErrReceiptNotPaid)
}
