package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/mmdatafocus/transfer_backend/utils"
)

type MaintenanceFinder interface {
	SearchMaintenanceRecords(ctx context.Context, search models.MaintenanceSearch) ([]models.MaintenanceRecord, error)
}

type MaintenanceFinderFunc func(ctx context.Context, search models.MaintenanceSearch) ([]models.MaintenanceRecord, error)

func (f MaintenanceFinderFunc) SearchMaintenanceRecords(ctx context.Context, search models.MaintenanceSearch) ([]models.MaintenanceRecord, error) {
	return f(ctx, search)
}

// IsMaintenanceLinkSatisfied checks only that the chosen link mode has what it needs.
// The draft's own fields are validated when the record is created.
func IsMaintenanceLinkSatisfied(assignment models.PurposeAssignment) bool {
	switch assignment.MaintenanceLinkMode {
	case models.MaintenanceLinkNone:
		return true
	case models.MaintenanceLinkExisting:
		return strings.TrimSpace(assignment.MaintenanceId) != ""
	case models.MaintenanceLinkCreate:
		return assignment.NewMaintenanceDraft != nil
	}
	return false
}

func isPurposeAssignmentComplete(assignment *models.PurposeAssignment) bool {
	if assignment == nil {
		return false
	}
	switch assignment.Purpose {
	case models.TransactionPurposeConsumable:
		return true
	case models.TransactionPurposeMaintenance:
		return IsMaintenanceLinkSatisfied(*assignment)
	}
	return false
}

// MaintenanceCandidates lists the open maintenance records the transaction could be
// linked to. Only equipment receivers have maintenance records.
func (w *AcceptanceWorkflow) MaintenanceCandidates(ctx context.Context) ([]models.MaintenanceRecord, error) {
	w.mu.Lock()
	finder := w.finder
	txn := w.transaction
	w.mu.Unlock()

	if !txn.ReceiverIsEquipment() {
		return []models.MaintenanceRecord{}, nil
	}
	if finder == nil {
		return nil, &ValidationError{Field: "maintenance", Message: "maintenance search is not available"}
	}

	itemTypeIds := make([]int, 0, len(txn.Lines))
	for _, line := range txn.Lines {
		itemTypeIds = append(itemTypeIds, line.ItemTypeId)
	}
	return finder.SearchMaintenanceRecords(ctx, models.MaintenanceSearch{
		EquipmentId:          txn.ReceiverId,
		CandidateLineItemIds: utils.UniqueSlice(itemTypeIds),
	})
}
