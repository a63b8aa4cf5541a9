package workflow

import (
	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/shopspring/decimal"
)

// Discrepancy is derived from a line and its entry and never stored on its own.
type Discrepancy struct {
	LineId           int                        `json:"line_id"`
	ItemName         string                     `json:"item_name"`
	Unit             string                     `json:"unit"`
	ExpectedQuantity int                        `json:"expected_quantity"`
	ReceivedQuantity int                        `json:"received_quantity"`
	Difference       int                        `json:"difference"`
	Kind             models.DiscrepancyKind     `json:"kind"`
	Severity         models.DiscrepancySeverity `json:"severity"`
}

// Classifier grades discrepancies. A ratio |difference|/expected strictly above
// HighRatio is HIGH.
type Classifier struct {
	HighRatio decimal.Decimal
}

func NewClassifier() Classifier {
	return Classifier{HighRatio: config.HighSeverityRatio()}
}

func Classify(line models.TransactionLine, entry ReceiptEntry) *Discrepancy {
	return NewClassifier().Classify(line, entry)
}

func (c Classifier) Classify(line models.TransactionLine, entry ReceiptEntry) *Discrepancy {
	received := effectiveReceived(entry)
	difference := received - line.ExpectedQuantity
	if difference == 0 && !entry.NotReceived {
		return nil
	}

	kind := models.DiscrepancyKindUnder
	if difference > 0 {
		kind = models.DiscrepancyKindOver
	}
	return &Discrepancy{
		LineId:           line.ID,
		ItemName:         line.ItemName,
		Unit:             line.Unit,
		ExpectedQuantity: line.ExpectedQuantity,
		ReceivedQuantity: received,
		Difference:       difference,
		Kind:             kind,
		Severity:         c.severity(line.ExpectedQuantity, difference),
	}
}

func (c Classifier) severity(expected, difference int) models.DiscrepancySeverity {
	return models.SeverityFor(expected, difference, c.HighRatio)
}

// ClassifyAll returns the discrepancies in line order.
func (c Classifier) ClassifyAll(lines []models.TransactionLine, entries map[int]ReceiptEntry) []Discrepancy {
	var result []Discrepancy
	for _, line := range lines {
		if d := c.Classify(line, entryFor(line, entries)); d != nil {
			result = append(result, *d)
		}
	}
	return result
}

func Summarize(discrepancies []Discrepancy) models.DiscrepancySummary {
	summary := models.DiscrepancySummary{Total: len(discrepancies)}
	for _, d := range discrepancies {
		if d.Kind == models.DiscrepancyKindOver {
			summary.OverCount++
		} else {
			summary.UnderCount++
		}
	}
	return summary
}
