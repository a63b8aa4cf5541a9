package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/transfer_backend/models"
	"gorm.io/gorm"
)

type maintenanceReader struct {
	db *gorm.DB
}

func (r *maintenanceReader) getMaintenanceRecords(ctx context.Context, ids []string) []*dataloader.Result[*models.MaintenanceRecord] {
	var results []models.MaintenanceRecord
	err := r.db.WithContext(ctx).
		Preload("ItemTypes").
		Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[string, *models.MaintenanceRecord](ids, err)
	}
	return generateLoaderResults(results, ids, func(m models.MaintenanceRecord) string { return m.ID })
}

func GetMaintenanceRecord(ctx context.Context, id string) (*models.MaintenanceRecord, error) {
	loaders := For(ctx)
	return loaders.maintenanceLoader.Load(ctx, id)()
}
