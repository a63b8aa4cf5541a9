package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotPending    = errors.New("transaction is not pending")
	ErrBatchNumberMismatch      = errors.New("batch number does not match the transaction")
	ErrResolutionReportRequired = errors.New("resolution report is required when quantities differ")
)

// Identity is the user acting on a transaction.
type Identity struct {
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name"`
}

type ReceivedItem struct {
	LineId           int  `json:"line_id" validate:"required,gt=0"`
	ReceivedQuantity int  `json:"received_quantity" validate:"gte=0"`
	NotReceived      bool `json:"not_received"`
}

type PurposeAssignment struct {
	Purpose             TransactionPurpose  `json:"purpose"`
	MaintenanceLinkMode MaintenanceLinkMode `json:"maintenance_link_mode"`
	MaintenanceId       string              `json:"maintenance_id,omitempty"`
	NewMaintenanceDraft *MaintenanceDraft   `json:"new_maintenance_draft,omitempty"`
}

type DiscrepancySummary struct {
	Total      int `json:"total"`
	OverCount  int `json:"over_count"`
	UnderCount int `json:"under_count"`
}

type ResolutionReportItem struct {
	LineId     int                 `json:"line_id" validate:"required,gt=0"`
	ItemName   string              `json:"item_name"`
	Unit       string              `json:"unit"`
	Expected   int                 `json:"expected_quantity"`
	Received   int                 `json:"received_quantity"`
	Difference int                 `json:"difference"`
	Kind       DiscrepancyKind     `json:"kind" validate:"required"`
	Severity   DiscrepancySeverity `json:"severity" validate:"required"`
	Action     ResolutionAction    `json:"action" validate:"required"`
	Comment    string              `json:"comment" validate:"max=1000"`
}

type ResolutionReport struct {
	Items   []ResolutionReportItem `json:"items" validate:"dive"`
	Summary DiscrepancySummary     `json:"summary"`
}

// AcceptanceRequest is what a finished acceptance workflow submits.
type AcceptanceRequest struct {
	TransactionId     int                `json:"transaction_id" validate:"required,gt=0"`
	BatchNumber       string             `json:"batch_number" validate:"required"`
	ReceivedItems     []ReceivedItem     `json:"received_items" validate:"dive"`
	Comment           string             `json:"comment" validate:"max=1000"`
	ResolutionReport  *ResolutionReport  `json:"resolution_report,omitempty"`
	PurposeAssignment *PurposeAssignment `json:"purpose_assignment,omitempty"`
	AcceptedById      int                `json:"accepted_by_id"`
	AcceptedByName    string             `json:"accepted_by_name"`
}

// TransactionAcceptedEvent is the outbox payload for an accepted transaction.
type TransactionAcceptedEvent struct {
	TransactionId    int                 `json:"transaction_id"`
	BatchNumber      string              `json:"batch_number"`
	SenderId         int                 `json:"sender_id"`
	ReceiverId       int                 `json:"receiver_id"`
	Purpose          TransactionPurpose  `json:"purpose"`
	MaintenanceId    string              `json:"maintenance_id,omitempty"`
	ReceivedItems    []ReceivedItem      `json:"received_items"`
	ReconciliationId int                 `json:"reconciliation_id,omitempty"`
	Summary          *DiscrepancySummary `json:"summary,omitempty"`
	AcceptedById     int                 `json:"accepted_by_id"`
	AcceptedByName   string              `json:"accepted_by_name"`
	AcceptedAt       time.Time           `json:"accepted_at"`
}

func AcceptanceKey(transactionId int, batchNumber string) string {
	return fmt.Sprintf("%d:%s", transactionId, batchNumber)
}

func lineIsDiscrepant(line TransactionLine, item ReceivedItem) bool {
	return item.NotReceived || item.ReceivedQuantity != line.ExpectedQuantity
}

// SeverityFor grades a difference against its expected quantity. A ratio strictly
// above highRatio is HIGH; any difference on an expected quantity of 0 is HIGH.
func SeverityFor(expected, difference int, highRatio decimal.Decimal) DiscrepancySeverity {
	if expected == 0 {
		if difference != 0 {
			return DiscrepancySeverityHigh
		}
		return DiscrepancySeverityLow
	}
	ratio := decimal.NewFromInt(int64(difference)).Abs().Div(decimal.NewFromInt(int64(expected)))
	if ratio.GreaterThan(highRatio) {
		return DiscrepancySeverityHigh
	}
	return DiscrepancySeverityLow
}

// validateReceivedItems checks that every line is listed exactly once and returns the
// items by line with not-received lines zeroed.
func validateReceivedItems(txn *Transaction, items []ReceivedItem) (map[int]ReceivedItem, error) {
	byLine := make(map[int]ReceivedItem, len(items))
	for _, item := range items {
		if _, dup := byLine[item.LineId]; dup {
			return nil, fmt.Errorf("line %d is listed more than once", item.LineId)
		}
		if item.NotReceived {
			item.ReceivedQuantity = 0
		}
		byLine[item.LineId] = item
	}
	lineIds := make(map[int]struct{}, len(txn.Lines))
	for _, line := range txn.Lines {
		lineIds[line.ID] = struct{}{}
		if _, ok := byLine[line.ID]; !ok {
			return nil, fmt.Errorf("missing received quantity for line %d", line.ID)
		}
	}
	for lineId := range byLine {
		if _, ok := lineIds[lineId]; !ok {
			return nil, fmt.Errorf("line %d does not belong to transaction %d", lineId, txn.ID)
		}
	}
	return byLine, nil
}

// receivedInLineOrder lists the normalised items in the order of the transaction lines.
func receivedInLineOrder(txn *Transaction, received map[int]ReceivedItem) []ReceivedItem {
	items := make([]ReceivedItem, 0, len(txn.Lines))
	for _, line := range txn.Lines {
		items = append(items, received[line.ID])
	}
	return items
}

// validateResolutionReport re-derives every discrepancy from the stored lines and the
// received items. Quantities, kinds and counts in the report must agree with it. The
// returned report carries the server-derived line data and severity.
func validateResolutionReport(txn *Transaction, received map[int]ReceivedItem, report *ResolutionReport) (*ResolutionReport, error) {
	discrepant := make(map[int]TransactionLine)
	for _, line := range txn.Lines {
		if lineIsDiscrepant(line, received[line.ID]) {
			discrepant[line.ID] = line
		}
	}
	if len(discrepant) == 0 {
		if report != nil && len(report.Items) > 0 {
			return nil, errors.New("resolution report given but no quantities differ")
		}
		return nil, nil
	}
	if report == nil {
		return nil, ErrResolutionReportRequired
	}

	highRatio := config.HighSeverityRatio()
	result := &ResolutionReport{Items: make([]ResolutionReportItem, 0, len(report.Items))}
	seen := make(map[int]struct{}, len(report.Items))
	for _, item := range report.Items {
		line, ok := discrepant[item.LineId]
		if !ok {
			return nil, fmt.Errorf("line %d has no discrepancy to resolve", item.LineId)
		}
		if _, dup := seen[item.LineId]; dup {
			return nil, fmt.Errorf("line %d is resolved more than once", item.LineId)
		}
		seen[item.LineId] = struct{}{}

		qty := received[line.ID].ReceivedQuantity
		difference := qty - line.ExpectedQuantity
		kind := DiscrepancyKindUnder
		if difference > 0 {
			kind = DiscrepancyKindOver
		}
		if item.Expected != line.ExpectedQuantity {
			return nil, fmt.Errorf("line %d: expected quantity does not match", item.LineId)
		}
		if item.Received != qty || item.Difference != difference {
			return nil, fmt.Errorf("line %d: received quantity does not match", item.LineId)
		}
		if item.Kind != kind {
			return nil, fmt.Errorf("line %d: discrepancy is %s, not %s", item.LineId, kind, item.Kind)
		}
		actionKind, ok := item.Action.Kind()
		if !ok {
			return nil, fmt.Errorf("line %d: unknown resolution action %s", item.LineId, item.Action)
		}
		if actionKind != kind {
			return nil, fmt.Errorf("line %d: action %s does not apply to %s discrepancies", item.LineId, item.Action, kind)
		}

		result.Items = append(result.Items, ResolutionReportItem{
			LineId:     line.ID,
			ItemName:   line.ItemName,
			Unit:       line.Unit,
			Expected:   line.ExpectedQuantity,
			Received:   qty,
			Difference: difference,
			Kind:       kind,
			Severity:   SeverityFor(line.ExpectedQuantity, difference, highRatio),
			Action:     item.Action,
			Comment:    item.Comment,
		})
		if kind == DiscrepancyKindOver {
			result.Summary.OverCount++
		} else {
			result.Summary.UnderCount++
		}
	}
	if len(seen) != len(discrepant) {
		return nil, errors.New("every discrepancy needs a resolution")
	}
	result.Summary.Total = len(result.Items)
	if report.Summary != result.Summary {
		return nil, errors.New("resolution summary does not match its items")
	}
	return result, nil
}

func validatePurposeAssignment(txn *Transaction, assignment *PurposeAssignment) error {
	if !txn.Purpose.NeedsAssignment() {
		if assignment != nil {
			return errors.New("transaction purpose is already set")
		}
		return nil
	}
	if assignment == nil {
		return errors.New("purpose assignment is required")
	}
	switch assignment.Purpose {
	case TransactionPurposeConsumable:
		return nil
	case TransactionPurposeMaintenance:
	default:
		return errors.New("purpose must be CONSUMABLE or MAINTENANCE")
	}
	if !assignment.MaintenanceLinkMode.IsValid() {
		return errors.New("invalid maintenance link mode")
	}
	switch assignment.MaintenanceLinkMode {
	case MaintenanceLinkExisting:
		if assignment.MaintenanceId == "" {
			return errors.New("maintenance id is required")
		}
	case MaintenanceLinkCreate:
		if assignment.NewMaintenanceDraft == nil {
			return errors.New("maintenance draft is required")
		}
		if !txn.ReceiverIsEquipment() {
			return errors.New("maintenance records can only be created for equipment")
		}
	}
	return nil
}

// linkMaintenance resolves the maintenance record the assignment points at,
// creating it for CREATE mode. Returns "" when nothing is linked.
func linkMaintenance(tx *gorm.DB, txn *Transaction, assignment *PurposeAssignment) (string, error) {
	if assignment == nil || assignment.Purpose != TransactionPurposeMaintenance {
		return "", nil
	}
	switch assignment.MaintenanceLinkMode {
	case MaintenanceLinkExisting:
		record, err := findMaintenanceRecord(tx, assignment.MaintenanceId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return "", errors.New("maintenance record not found")
			}
			return "", err
		}
		if record.Status != MaintenanceStatusOpen {
			return "", errors.New("maintenance record is closed")
		}
		if txn.ReceiverIsEquipment() && record.EquipmentId != txn.ReceiverId {
			return "", errors.New("maintenance record belongs to other equipment")
		}
		return record.ID, nil
	case MaintenanceLinkCreate:
		record, err := CreateMaintenanceRecord(tx, txn.ReceiverId, assignment.NewMaintenanceDraft)
		if err != nil {
			return "", err
		}
		return record.ID, nil
	}
	return "", nil
}

// AcceptTransaction is the acceptance collaborator. It records received quantities,
// the purpose and the reconciliation in one db transaction and queues an outbox event.
// Submitting the same transaction id and batch number again returns the stored result.
func AcceptTransaction(ctx context.Context, input AcceptanceRequest) (*Transaction, error) {
	logger := config.GetLogger()

	if err := utils.ValidateStruct(&input); err != nil {
		return nil, err
	}

	txn, err := GetTransaction(ctx, input.TransactionId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, errors.New("transaction not found")
		}
		return nil, err
	}
	if txn.BatchNumber != input.BatchNumber {
		return nil, ErrBatchNumberMismatch
	}

	key := AcceptanceKey(txn.ID, txn.BatchNumber)
	if txn.Status == TransactionStatusAccepted && txn.AcceptanceKey != nil && *txn.AcceptanceKey == key {
		logger.WithFields(logrus.Fields{
			"field":          "AcceptTransaction",
			"transaction_id": txn.ID,
		}).Info("acceptance replayed")
		return txn, nil
	}
	if txn.Status != TransactionStatusPending {
		return nil, ErrTransactionNotPending
	}

	received, err := validateReceivedItems(txn, input.ReceivedItems)
	if err != nil {
		return nil, err
	}
	report, err := validateResolutionReport(txn, received, input.ResolutionReport)
	if err != nil {
		return nil, err
	}
	input.ResolutionReport = report
	input.ReceivedItems = receivedInLineOrder(txn, received)
	if err := validatePurposeAssignment(txn, input.PurposeAssignment); err != nil {
		return nil, err
	}

	purpose := txn.Purpose
	if input.PurposeAssignment != nil {
		purpose = input.PurposeAssignment.Purpose
	}
	acceptedAt := time.Now().UTC()

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range txn.Lines {
			item := received[line.ID]
			if err := tx.Model(&TransactionLine{}).
				Where("id = ? AND transaction_id = ?", line.ID, txn.ID).
				Updates(map[string]interface{}{
					"received_quantity": item.ReceivedQuantity,
					"not_received":      item.NotReceived,
				}).Error; err != nil {
				return err
			}
		}

		maintenanceId, err := linkMaintenance(tx, txn, input.PurposeAssignment)
		if err != nil {
			return err
		}

		res := tx.Model(&Transaction{}).
			Where("id = ? AND status = ?", txn.ID, TransactionStatusPending).
			Updates(map[string]interface{}{
				"status":             TransactionStatusAccepted,
				"purpose":            purpose,
				"maintenance_id":     maintenanceId,
				"acceptance_key":     key,
				"accepted_by_id":     input.AcceptedById,
				"accepted_by_name":   input.AcceptedByName,
				"accepted_at":        acceptedAt,
				"acceptance_comment": input.Comment,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTransactionNotPending
		}

		event := TransactionAcceptedEvent{
			TransactionId:  txn.ID,
			BatchNumber:    txn.BatchNumber,
			SenderId:       txn.SenderId,
			ReceiverId:     txn.ReceiverId,
			Purpose:        purpose,
			MaintenanceId:  maintenanceId,
			ReceivedItems:  input.ReceivedItems,
			AcceptedById:   input.AcceptedById,
			AcceptedByName: input.AcceptedByName,
			AcceptedAt:     acceptedAt,
		}

		if input.ResolutionReport != nil {
			record, err := createReconciliationRecord(ctx, tx, txn, input, acceptedAt)
			if err != nil {
				return err
			}
			event.ReconciliationId = record.ID
			summary := input.ResolutionReport.Summary
			event.Summary = &summary
		}

		_, err = WriteOutboxRecord(ctx, tx, OutboxReferenceTypeTransactionAccepted, txn.ID, OutboxActionCreate, event)
		return err
	})
	if err != nil {
		config.LogError(logger, "acceptance.go", "AcceptTransaction", "Transaction", input.TransactionId, err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"field":          "AcceptTransaction",
		"transaction_id": txn.ID,
		"batch_number":   txn.BatchNumber,
		"accepted_by":    input.AcceptedById,
	}).Info("transaction accepted")

	return GetTransaction(ctx, txn.ID)
}
