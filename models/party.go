package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/utils"
)

// Party is one side of a transfer: a warehouse, a piece of equipment or a site.
type Party struct {
	ID        int       `gorm:"primary_key" json:"id"`
	PartyType PartyType `gorm:"size:20;index;not null" json:"party_type"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewParty struct {
	PartyType PartyType `json:"party_type" validate:"required"`
	Name      string    `json:"name" validate:"required,max=100"`
}

func CreateParty(ctx context.Context, input *NewParty) (*Party, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.PartyType.IsValid() {
		return nil, errors.New("invalid party type")
	}

	party := Party{
		PartyType: input.PartyType,
		Name:      strings.TrimSpace(input.Name),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&party).Error; err != nil {
		return nil, err
	}
	return &party, nil
}

func GetParty(ctx context.Context, id int) (*Party, error) {
	return utils.FetchSingleModel[Party](ctx, id)
}

// GetPartiesByIds returns the parties found, in no particular order.
func GetPartiesByIds(ctx context.Context, ids []int) ([]Party, error) {
	var results []Party
	if len(ids) == 0 {
		return results, nil
	}
	db := config.GetDB()
	err := db.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(ids)).Find(&results).Error
	return results, err
}
