package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Transaction is one batch of items moving between two parties.
type Transaction struct {
	ID                int                `gorm:"primary_key" json:"id"`
	BatchNumber       string             `gorm:"size:100;index;not null" json:"batch_number"`
	Purpose           TransactionPurpose `gorm:"size:20" json:"purpose"`
	Status            TransactionStatus  `gorm:"size:20;index;not null" json:"status"`
	SenderId          int                `gorm:"index;not null" json:"sender_id"`
	Sender            *Party             `gorm:"foreignKey:SenderId" json:"sender,omitempty"`
	ReceiverId        int                `gorm:"index;not null" json:"receiver_id"`
	Receiver          *Party             `gorm:"foreignKey:ReceiverId" json:"receiver,omitempty"`
	SentFirst         int                `gorm:"not null" json:"sent_first"`
	TransactionDate   time.Time          `gorm:"not null" json:"transaction_date"`
	Description       string             `gorm:"type:text" json:"description"`
	MaintenanceId     string             `gorm:"size:36" json:"maintenance_id,omitempty"`
	AcceptanceKey     *string            `gorm:"size:150;uniqueIndex" json:"-"`
	AcceptedById      int                `json:"accepted_by_id,omitempty"`
	AcceptedByName    string             `gorm:"size:100" json:"accepted_by_name,omitempty"`
	AcceptedAt        *time.Time         `json:"accepted_at,omitempty"`
	AcceptanceComment string             `gorm:"type:text" json:"acceptance_comment,omitempty"`
	Lines             []TransactionLine  `gorm:"foreignKey:TransactionId" json:"items"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// TransactionLine is immutable once the transaction is loaded, except for the
// received values written on acceptance.
type TransactionLine struct {
	ID               int       `gorm:"primary_key" json:"id"`
	TransactionId    int       `gorm:"index;not null" json:"transaction_id"`
	ItemTypeId       int       `gorm:"index;not null" json:"item_type_id"`
	ItemName         string    `gorm:"size:100;not null" json:"item_name"`
	Unit             string    `gorm:"size:30" json:"unit"`
	ExpectedQuantity int       `gorm:"not null;default:0" json:"expected_quantity"`
	ReceivedQuantity *int      `json:"received_quantity,omitempty"`
	NotReceived      bool      `gorm:"not null;default:false" json:"not_received"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTransaction struct {
	BatchNumber     string               `json:"batch_number" validate:"required,max=100"`
	Purpose         TransactionPurpose   `json:"purpose"`
	SenderId        int                  `json:"sender_id" validate:"required,gt=0"`
	ReceiverId      int                  `json:"receiver_id" validate:"required,gt=0,nefield=SenderId"`
	SentFirst       int                  `json:"sent_first"`
	TransactionDate time.Time            `json:"transaction_date" validate:"required"`
	Description     string               `json:"description"`
	Lines           []NewTransactionLine `json:"items" validate:"required,min=1,dive"`
}

type NewTransactionLine struct {
	ItemTypeId       int    `json:"item_type_id" validate:"required,gt=0"`
	ItemName         string `json:"item_name" validate:"required,max=100"`
	Unit             string `json:"unit" validate:"max=30"`
	ExpectedQuantity int    `json:"expected_quantity" validate:"gte=0"`
}

type TransactionDirection string

const (
	// TransactionDirectionIncoming: pending transactions the party did not initiate (needs its action).
	TransactionDirectionIncoming TransactionDirection = "INCOMING"
	// TransactionDirectionOutgoing: pending transactions the party initiated (waiting on the other side).
	TransactionDirectionOutgoing TransactionDirection = "OUTGOING"
)

type TransactionFilter struct {
	PartyId   int
	Direction TransactionDirection
	Status    *TransactionStatus
	Limit     int
}

func (t *Transaction) SenderName() string {
	if t.Sender == nil {
		return ""
	}
	return t.Sender.Name
}

func (t *Transaction) ReceiverName() string {
	if t.Receiver == nil {
		return ""
	}
	return t.Receiver.Name
}

// ReceiverIsEquipment is false when the receiver was not loaded.
func (t *Transaction) ReceiverIsEquipment() bool {
	return t.Receiver != nil && t.Receiver.PartyType == PartyTypeEquipment
}

// IsIncomingFor reports whether the transaction waits on partyId's action.
func (t *Transaction) IsIncomingFor(partyId int) bool {
	if t.Status != TransactionStatusPending {
		return false
	}
	if t.SenderId != partyId && t.ReceiverId != partyId {
		return false
	}
	return t.SentFirst != partyId
}

func (input *NewTransaction) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Purpose != "" && !input.Purpose.IsValid() {
		return errors.New("invalid purpose")
	}
	if input.SentFirst != 0 && input.SentFirst != input.SenderId && input.SentFirst != input.ReceiverId {
		return errors.New("sent_first must be the sender or the receiver")
	}
	if err := utils.ValidateResourceId[Party](ctx, input.SenderId); err != nil {
		return errors.New("sender not found")
	}
	if err := utils.ValidateResourceId[Party](ctx, input.ReceiverId); err != nil {
		return errors.New("receiver not found")
	}
	return nil
}

func CreateTransaction(ctx context.Context, input *NewTransaction) (*Transaction, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	lines := make([]TransactionLine, 0, len(input.Lines))
	for _, l := range input.Lines {
		lines = append(lines, TransactionLine{
			ItemTypeId:       l.ItemTypeId,
			ItemName:         strings.TrimSpace(l.ItemName),
			Unit:             l.Unit,
			ExpectedQuantity: l.ExpectedQuantity,
		})
	}

	sentFirst := input.SentFirst
	if sentFirst == 0 {
		sentFirst = input.SenderId
	}

	transaction := Transaction{
		BatchNumber:     strings.TrimSpace(input.BatchNumber),
		Purpose:         input.Purpose,
		Status:          TransactionStatusPending,
		SenderId:        input.SenderId,
		ReceiverId:      input.ReceiverId,
		SentFirst:       sentFirst,
		TransactionDate: input.TransactionDate,
		Description:     input.Description,
		Lines:           lines,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&transaction).Error; err != nil {
		config.LogError(config.GetLogger(), "transaction.go", "CreateTransaction", "Create", transaction.BatchNumber, err)
		return nil, err
	}

	config.GetLogger().WithFields(logrus.Fields{
		"field":          "CreateTransaction",
		"transaction_id": transaction.ID,
		"batch_number":   transaction.BatchNumber,
		"lines":          len(transaction.Lines),
	}).Info("transaction created")

	return &transaction, nil
}

// GetTransaction loads the transaction with its lines (ordered by id) and both parties.
func GetTransaction(ctx context.Context, id int) (*Transaction, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return loadTransaction(db.WithContext(ctx), id)
}

func loadTransaction(tx *gorm.DB, id int) (*Transaction, error) {
	var result Transaction
	err := tx.
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Sender").
		Preload("Receiver").
		First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ListTransactions is the listing collaborator. Parties are not preloaded; callers
// resolve names through the party loader.
func ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	dbCtx := db.WithContext(ctx).Model(&Transaction{})
	if filter.PartyId > 0 {
		dbCtx = dbCtx.Where("(sender_id = ? OR receiver_id = ?)", filter.PartyId, filter.PartyId)
	}

	switch filter.Direction {
	case TransactionDirectionIncoming:
		if filter.PartyId <= 0 {
			return nil, errors.New("party id is required for direction filter")
		}
		dbCtx = dbCtx.Where("status = ? AND sent_first <> ?", TransactionStatusPending, filter.PartyId)
	case TransactionDirectionOutgoing:
		if filter.PartyId <= 0 {
			return nil, errors.New("party id is required for direction filter")
		}
		dbCtx = dbCtx.Where("status = ? AND sent_first = ?", TransactionStatusPending, filter.PartyId)
	case "":
	default:
		return nil, errors.New("invalid direction")
	}

	if filter.Status != nil {
		if !filter.Status.IsValid() {
			return nil, errors.New("invalid status")
		}
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}

	var results []Transaction
	err := dbCtx.
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("transaction_date DESC, id DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
