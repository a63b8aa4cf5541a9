package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/transfer_backend/models"
	"gorm.io/gorm"
)

type partyReader struct {
	db *gorm.DB
}

func (r *partyReader) getParties(ctx context.Context, ids []int) []*dataloader.Result[*models.Party] {
	var results []models.Party
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[int, *models.Party](ids, err)
	}
	return generateLoaderResults(results, ids, func(p models.Party) int { return p.ID })
}

func GetParty(ctx context.Context, id int) (*models.Party, error) {
	loaders := For(ctx)
	return loaders.partyLoader.Load(ctx, id)()
}

func GetParties(ctx context.Context, ids []int) ([]*models.Party, []error) {
	loaders := For(ctx)
	return loaders.partyLoader.LoadMany(ctx, ids)()
}

// AttachParties fills Sender and Receiver of each transaction with one batched query.
func AttachParties(ctx context.Context, txns []models.Transaction) error {
	thunks := make([]dataloader.Thunk[*models.Party], 0, len(txns)*2)
	for _, txn := range txns {
		thunks = append(thunks, For(ctx).partyLoader.Load(ctx, txn.SenderId), For(ctx).partyLoader.Load(ctx, txn.ReceiverId))
	}
	for i := range txns {
		sender, err := thunks[2*i]()
		if err != nil {
			return err
		}
		receiver, err := thunks[2*i+1]()
		if err != nil {
			return err
		}
		txns[i].Sender = sender
		txns[i].Receiver = receiver
	}
	return nil
}
