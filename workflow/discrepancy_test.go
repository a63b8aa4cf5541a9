package workflow

import (
	"testing"

	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultClassifier = Classifier{HighRatio: decimal.RequireFromString("0.10")}

func TestClassify_NoDiscrepancy(t *testing.T) {
	for _, expected := range []int{0, 1, 10, 250} {
		line := models.TransactionLine{ID: 1, ExpectedQuantity: expected}
		assert.Nil(t, defaultClassifier.Classify(line, ReceiptEntry{LineId: 1, ReceivedQuantity: expected}), "expected=%d", expected)
	}
}

func TestClassify_KindAndDifference(t *testing.T) {
	for expected := 1; expected <= 30; expected++ {
		for received := 0; received <= 40; received++ {
			if received == expected {
				continue
			}
			line := models.TransactionLine{ID: 1, ExpectedQuantity: expected}
			d := defaultClassifier.Classify(line, ReceiptEntry{LineId: 1, ReceivedQuantity: received})
			require.NotNil(t, d)
			assert.Equal(t, received-expected, d.Difference)
			if received > expected {
				assert.Equal(t, models.DiscrepancyKindOver, d.Kind)
			} else {
				assert.Equal(t, models.DiscrepancyKindUnder, d.Kind)
			}
		}
	}
}

func TestClassify_SeverityThreshold(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		received int
		want     models.DiscrepancySeverity
	}{
		{"exactly ten percent under", 10, 9, models.DiscrepancySeverityLow},
		{"exactly ten percent over", 100, 110, models.DiscrepancySeverityLow},
		{"just above ten percent", 100, 111, models.DiscrepancySeverityHigh},
		{"twenty percent", 10, 8, models.DiscrepancySeverityHigh},
		{"five percent", 20, 21, models.DiscrepancySeverityLow},
		{"nothing expected", 0, 3, models.DiscrepancySeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := models.TransactionLine{ID: 1, ExpectedQuantity: tt.expected}
			d := defaultClassifier.Classify(line, ReceiptEntry{LineId: 1, ReceivedQuantity: tt.received})
			require.NotNil(t, d)
			assert.Equal(t, tt.want, d.Severity)
		})
	}

	strict := Classifier{HighRatio: decimal.RequireFromString("0.5")}
	d := strict.Classify(models.TransactionLine{ID: 1, ExpectedQuantity: 10}, ReceiptEntry{LineId: 1, ReceivedQuantity: 7})
	require.NotNil(t, d)
	assert.Equal(t, models.DiscrepancySeverityLow, d.Severity)
}

func TestClassify_NotReceivedWins(t *testing.T) {
	line := models.TransactionLine{ID: 1, ItemName: "Oil", Unit: "l", ExpectedQuantity: 10}
	for _, stale := range []int{0, 4, 10, 15} {
		d := defaultClassifier.Classify(line, ReceiptEntry{LineId: 1, ReceivedQuantity: stale, NotReceived: true})
		require.NotNil(t, d, "stale=%d", stale)
		assert.Equal(t, 0, d.ReceivedQuantity)
		assert.Equal(t, -10, d.Difference)
		assert.Equal(t, models.DiscrepancyKindUnder, d.Kind)
		assert.Equal(t, models.DiscrepancySeverityHigh, d.Severity)
		assert.Equal(t, "Oil", d.ItemName)
	}

	// nothing expected and nothing received is still reported once flagged
	empty := models.TransactionLine{ID: 2, ExpectedQuantity: 0}
	d := defaultClassifier.Classify(empty, ReceiptEntry{LineId: 2, NotReceived: true})
	require.NotNil(t, d)
	assert.Equal(t, 0, d.Difference)
	assert.Equal(t, models.DiscrepancyKindUnder, d.Kind)
	assert.Equal(t, models.DiscrepancySeverityLow, d.Severity)
}

func TestClassifyAllAndSummarize(t *testing.T) {
	lines := []models.TransactionLine{
		{ID: 1, ExpectedQuantity: 20},
		{ID: 2, ExpectedQuantity: 5},
		{ID: 3, ExpectedQuantity: 8},
	}
	entries := map[int]ReceiptEntry{
		1: {LineId: 1, ReceivedQuantity: 21},
		2: {LineId: 2, ReceivedQuantity: 5},
		3: {LineId: 3, ReceivedQuantity: 2},
	}
	got := defaultClassifier.ClassifyAll(lines, entries)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].LineId)
	assert.Equal(t, 3, got[1].LineId)

	assert.Equal(t, models.DiscrepancySummary{Total: 2, OverCount: 1, UnderCount: 1}, Summarize(got))
	assert.Equal(t, models.DiscrepancySummary{}, Summarize(nil))
}
