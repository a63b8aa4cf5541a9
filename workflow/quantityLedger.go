package workflow

import (
	"math"
	"strings"

	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/shopspring/decimal"
)

// ReceiptEntry is what the receiver reports for one line.
// NotReceived implies ReceivedQuantity == 0.
type ReceiptEntry struct {
	LineId           int  `json:"line_id"`
	ReceivedQuantity int  `json:"received_quantity"`
	NotReceived      bool `json:"not_received"`
}

type Delta struct {
	Difference     int  `json:"difference"`
	HasDiscrepancy bool `json:"has_discrepancy"`
}

type Aggregate struct {
	AnyDiscrepancy bool `json:"any_discrepancy"`
}

var maxQuantity = decimal.NewFromInt(math.MaxInt32)

// NewReceiptEntries starts every line at its expected quantity.
func NewReceiptEntries(lines []models.TransactionLine) map[int]ReceiptEntry {
	entries := make(map[int]ReceiptEntry, len(lines))
	for _, line := range lines {
		entries[line.ID] = ReceiptEntry{LineId: line.ID, ReceivedQuantity: line.ExpectedQuantity}
	}
	return entries
}

// entryFor falls back to the optimistic default when a line has no entry.
func entryFor(line models.TransactionLine, entries map[int]ReceiptEntry) ReceiptEntry {
	if entry, ok := entries[line.ID]; ok {
		return entry
	}
	return ReceiptEntry{LineId: line.ID, ReceivedQuantity: line.ExpectedQuantity}
}

func effectiveReceived(entry ReceiptEntry) int {
	if entry.NotReceived {
		return 0
	}
	return entry.ReceivedQuantity
}

func ComputeDelta(line models.TransactionLine, entry ReceiptEntry) Delta {
	return Delta{
		Difference:     effectiveReceived(entry) - line.ExpectedQuantity,
		HasDiscrepancy: entry.NotReceived || entry.ReceivedQuantity != line.ExpectedQuantity,
	}
}

func ComputeAggregate(lines []models.TransactionLine, entries map[int]ReceiptEntry) Aggregate {
	for _, line := range lines {
		if ComputeDelta(line, entryFor(line, entries)).HasDiscrepancy {
			return Aggregate{AnyDiscrepancy: true}
		}
	}
	return Aggregate{}
}

// CoerceQuantity turns raw user input into a quantity. Anything that is not a
// non-negative number becomes 0; fractions are truncated.
func CoerceQuantity(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() || d.GreaterThan(maxQuantity) {
		return 0
	}
	return int(d.IntPart())
}

func ClampQuantity(qty int) int {
	if qty < 0 || qty > math.MaxInt32 {
		return 0
	}
	return qty
}
