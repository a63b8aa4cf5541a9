package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMaintenanceRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	fx := seedTransaction(t, "", 1)

	unrelated, err := CreateMaintenanceRecord(db, fx.equipment.ID, &MaintenanceDraft{Title: "Paint"})
	require.NoError(t, err)
	matching, err := CreateMaintenanceRecord(db, fx.equipment.ID, &MaintenanceDraft{Title: "Filters", ItemTypeIds: []int{100, 100}})
	require.NoError(t, err)
	closed, err := CreateMaintenanceRecord(db, fx.equipment.ID, &MaintenanceDraft{Title: "Old job", ItemTypeIds: []int{100}})
	require.NoError(t, err)
	require.NoError(t, db.Model(&MaintenanceRecord{}).Where("id = ?", closed.ID).Update("status", MaintenanceStatusClosed).Error)

	got, err := SearchMaintenanceRecords(ctx, MaintenanceSearch{EquipmentId: fx.equipment.ID, CandidateLineItemIds: []int{100}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, matching.ID, got[0].ID)
	assert.Len(t, got[0].ItemTypes, 1, "duplicate item types are collapsed")
	assert.Equal(t, unrelated.ID, got[1].ID)

	_, err = SearchMaintenanceRecords(ctx, MaintenanceSearch{})
	assert.Error(t, err)
}

func TestCreateMaintenanceRecord_RequiresTitle(t *testing.T) {
	db := setupTestDB(t)

	_, err := CreateMaintenanceRecord(db, 1, &MaintenanceDraft{})
	assert.Error(t, err)
	_, err = CreateMaintenanceRecord(db, 1, nil)
	assert.Error(t, err)
}
