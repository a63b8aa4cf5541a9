package models

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/utils"
	"gorm.io/gorm"
)

// MaintenanceRecord is an open or closed maintenance job on one piece of equipment.
type MaintenanceRecord struct {
	ID          string                `gorm:"primary_key;size:36" json:"id"`
	EquipmentId int                   `gorm:"index;not null" json:"equipment_id"`
	Title       string                `gorm:"size:150;not null" json:"title"`
	Description string                `gorm:"type:text" json:"description"`
	Status      MaintenanceStatus     `gorm:"size:20;index;not null" json:"status"`
	ItemTypes   []MaintenanceItemType `gorm:"foreignKey:MaintenanceId" json:"item_types"`
	CreatedAt   time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type MaintenanceItemType struct {
	ID            int    `gorm:"primary_key" json:"id"`
	MaintenanceId string `gorm:"size:36;index;not null" json:"maintenance_id"`
	ItemTypeId    int    `gorm:"index;not null" json:"item_type_id"`
}

// MaintenanceDraft is what the receiver fills in to open a new record during acceptance.
type MaintenanceDraft struct {
	Title       string `json:"title" validate:"required,max=150"`
	Description string `json:"description"`
	ItemTypeIds []int  `json:"item_type_ids"`
}

type MaintenanceSearch struct {
	EquipmentId          int   `json:"equipment_id"`
	CandidateLineItemIds []int `json:"candidate_line_item_ids"`
}

func (m *MaintenanceRecord) coversAny(itemTypeIds map[int]struct{}) bool {
	for _, it := range m.ItemTypes {
		if _, ok := itemTypeIds[it.ItemTypeId]; ok {
			return true
		}
	}
	return false
}

// SearchMaintenanceRecords returns the open records of the equipment.
// Records linked to one of the candidate item types come first; ties keep newest first.
func SearchMaintenanceRecords(ctx context.Context, search MaintenanceSearch) ([]MaintenanceRecord, error) {
	if search.EquipmentId <= 0 {
		return nil, errors.New("equipment id is required")
	}
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}

	var records []MaintenanceRecord
	err := db.WithContext(ctx).
		Preload("ItemTypes").
		Where("equipment_id = ? AND status = ?", search.EquipmentId, MaintenanceStatusOpen).
		Order("created_at DESC").
		Limit(config.SearchLimit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	candidates := make(map[int]struct{}, len(search.CandidateLineItemIds))
	for _, id := range search.CandidateLineItemIds {
		candidates[id] = struct{}{}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].coversAny(candidates) && !records[j].coversAny(candidates)
	})
	return records, nil
}

func GetMaintenanceRecord(ctx context.Context, id string) (*MaintenanceRecord, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return findMaintenanceRecord(db.WithContext(ctx), id)
}

func findMaintenanceRecord(tx *gorm.DB, id string) (*MaintenanceRecord, error) {
	var result MaintenanceRecord
	if err := tx.Preload("ItemTypes").Where("id = ?", id).First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// CreateMaintenanceRecord runs on the caller's db handle so acceptance can create
// the record inside its own transaction.
func CreateMaintenanceRecord(tx *gorm.DB, equipmentId int, draft *MaintenanceDraft) (*MaintenanceRecord, error) {
	if draft == nil {
		return nil, errors.New("maintenance draft is required")
	}
	if err := utils.ValidateStruct(draft); err != nil {
		return nil, err
	}
	if equipmentId <= 0 {
		return nil, errors.New("equipment id is required")
	}

	record := MaintenanceRecord{
		ID:          uuid.NewString(),
		EquipmentId: equipmentId,
		Title:       strings.TrimSpace(draft.Title),
		Description: draft.Description,
		Status:      MaintenanceStatusOpen,
	}
	for _, itemTypeId := range utils.UniqueSlice(draft.ItemTypeIds) {
		record.ItemTypes = append(record.ItemTypes, MaintenanceItemType{ItemTypeId: itemTypeId})
	}

	if err := tx.Create(&record).Error; err != nil {
		config.LogError(config.GetLogger(), "maintenance.go", "CreateMaintenanceRecord", "Create", equipmentId, err)
		return nil, err
	}
	return &record, nil
}
