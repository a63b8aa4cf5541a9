package workflow

import (
	"context"
	"testing"

	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMaintenanceLinkSatisfied(t *testing.T) {
	tests := []struct {
		name       string
		assignment models.PurposeAssignment
		want       bool
	}{
		{"none", models.PurposeAssignment{MaintenanceLinkMode: models.MaintenanceLinkNone}, true},
		{"existing with id", models.PurposeAssignment{MaintenanceLinkMode: models.MaintenanceLinkExisting, MaintenanceId: "m-1"}, true},
		{"existing blank id", models.PurposeAssignment{MaintenanceLinkMode: models.MaintenanceLinkExisting, MaintenanceId: "  "}, false},
		{"create with draft", models.PurposeAssignment{MaintenanceLinkMode: models.MaintenanceLinkCreate, NewMaintenanceDraft: &models.MaintenanceDraft{}}, true},
		{"create without draft", models.PurposeAssignment{MaintenanceLinkMode: models.MaintenanceLinkCreate}, false},
		{"unknown mode", models.PurposeAssignment{MaintenanceLinkMode: "LATER"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMaintenanceLinkSatisfied(tt.assignment))
		})
	}
}

func TestMaintenanceCandidates(t *testing.T) {
	txn := testTransaction("", 3, 4)
	txn.Lines[1].ItemTypeId = txn.Lines[0].ItemTypeId

	var got models.MaintenanceSearch
	finder := MaintenanceFinderFunc(func(ctx context.Context, search models.MaintenanceSearch) ([]models.MaintenanceRecord, error) {
		got = search
		return []models.MaintenanceRecord{{ID: "m-1", EquipmentId: search.EquipmentId}}, nil
	})
	wf := newTestWorkflow(t, txn, &recordingSubmitter{}, WithMaintenanceFinder(finder))

	records, err := wf.MaintenanceCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, txn.ReceiverId, got.EquipmentId)
	assert.Equal(t, []int{txn.Lines[0].ItemTypeId}, got.CandidateLineItemIds)

	siteTxn := testTransaction("", 1)
	siteTxn.Receiver.PartyType = models.PartyTypeSite
	siteWf := newTestWorkflow(t, siteTxn, &recordingSubmitter{}, WithMaintenanceFinder(finder))
	records, err = siteWf.MaintenanceCandidates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAssignPurpose_MaintenanceGate(t *testing.T) {
	wf := newTestWorkflow(t, testTransaction(models.TransactionPurposeGeneral, 5), &recordingSubmitter{})
	ctx := context.Background()

	_, err := wf.Next(ctx, testActor)
	require.NoError(t, err)
	require.Equal(t, StepAssignPurpose, wf.CurrentStep())

	_, err = wf.Next(ctx, testActor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "purpose", verr.Field)

	require.NoError(t, wf.AssignPurpose(models.PurposeAssignment{
		Purpose:             models.TransactionPurposeMaintenance,
		MaintenanceLinkMode: models.MaintenanceLinkExisting,
	}))
	_, err = wf.Next(ctx, testActor)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "maintenance", verr.Field)

	require.NoError(t, wf.AssignPurpose(models.PurposeAssignment{
		Purpose:             models.TransactionPurposeMaintenance,
		MaintenanceLinkMode: models.MaintenanceLinkExisting,
		MaintenanceId:       "m-1",
	}))
	res, err := wf.Next(ctx, testActor)
	require.NoError(t, err)
	assert.Equal(t, StepVerifyQuantities, res.Step)

	err = wf.AssignPurpose(models.PurposeAssignment{Purpose: models.TransactionPurposeGeneral})
	assert.ErrorAs(t, err, &verr, "GENERAL is not a final purpose")
}
