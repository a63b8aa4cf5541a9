package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/mmdatafocus/transfer_backend/utils"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders are created per request so cached values never outlive it.
type Loaders struct {
	partyLoader       *dataloader.Loader[int, *models.Party]
	maintenanceLoader *dataloader.Loader[string, *models.MaintenanceRecord]
}

func NewLoaders(conn *gorm.DB) *Loaders {
	partyReader := &partyReader{db: conn}
	maintenanceReader := &maintenanceReader{db: conn}

	return &Loaders{
		partyLoader:       dataloader.NewBatchedLoader(partyReader.getParties, dataloader.WithWait[int, *models.Party](time.Millisecond)),
		maintenanceLoader: dataloader.NewBatchedLoader(maintenanceReader.getMaintenanceRecords, dataloader.WithWait[string, *models.MaintenanceRecord](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// WithLoaders attaches loaders outside of gin (ops tools, tests).
func WithLoaders(ctx context.Context, conn *gorm.DB) context.Context {
	return context.WithValue(ctx, loadersKey, NewLoaders(conn))
}

func For(ctx context.Context) *Loaders {
	return ctx.Value(loadersKey).(*Loaders)
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[K comparable, T any](keys []K, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], len(keys))
	for i := range keys {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// generateLoaderResults orders results by keys. Missing keys resolve to ErrorRecordNotFound.
func generateLoaderResults[K comparable, T any](results []T, keys []K, keyOf func(T) K) []*dataloader.Result[*T] {
	resultMap := make(map[K]*T, len(results))
	for i := range results {
		resultMap[keyOf(results[i])] = &results[i]
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(keys))
	for _, key := range keys {
		data, ok := resultMap[key]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*T]{Error: utils.ErrorRecordNotFound})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: data})
	}
	return loaderResults
}
