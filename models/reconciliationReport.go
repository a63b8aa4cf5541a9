package models

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/utils"
	"gorm.io/gorm"
)

// ReconciliationRecord keeps the resolution report of an accepted transaction.
type ReconciliationRecord struct {
	ID             int                  `gorm:"primary_key" json:"id"`
	TransactionId  int                  `gorm:"uniqueIndex;not null" json:"transaction_id"`
	BatchNumber    string               `gorm:"size:100;index;not null" json:"batch_number"`
	SenderId       int                  `gorm:"index;not null" json:"sender_id"`
	ReceiverId     int                  `gorm:"index;not null" json:"receiver_id"`
	Total          int                  `gorm:"not null" json:"total"`
	OverCount      int                  `gorm:"not null" json:"over_count"`
	UnderCount     int                  `gorm:"not null" json:"under_count"`
	Comment        string               `gorm:"type:text" json:"comment"`
	AcceptedById   int                  `json:"accepted_by_id"`
	AcceptedByName string               `gorm:"size:100" json:"accepted_by_name"`
	AcceptedAt     time.Time            `gorm:"index;not null" json:"accepted_at"`
	CorrelationId  string               `gorm:"size:64;index" json:"correlation_id"`
	Items          []ReconciliationItem `gorm:"foreignKey:ReconciliationId" json:"items"`
	CreatedAt      time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

type ReconciliationItem struct {
	ID               int                 `gorm:"primary_key" json:"id"`
	ReconciliationId int                 `gorm:"index;not null" json:"reconciliation_id"`
	LineId           int                 `gorm:"index;not null" json:"line_id"`
	ItemName         string              `gorm:"size:100" json:"item_name"`
	Unit             string              `gorm:"size:30" json:"unit"`
	Expected         int                 `json:"expected_quantity"`
	Received         int                 `json:"received_quantity"`
	Difference       int                 `json:"difference"`
	Kind             DiscrepancyKind     `gorm:"size:10;not null" json:"kind"`
	Severity         DiscrepancySeverity `gorm:"size:10;not null" json:"severity"`
	Action           ResolutionAction    `gorm:"size:30;not null" json:"action"`
	Comment          string              `gorm:"type:text" json:"comment"`
}

type ReconciliationFilter struct {
	ReceiverId int
	From       *time.Time
	To         *time.Time
	Limit      int
}

func createReconciliationRecord(ctx context.Context, tx *gorm.DB, txn *Transaction, input AcceptanceRequest, acceptedAt time.Time) (*ReconciliationRecord, error) {
	report := input.ResolutionReport
	record := ReconciliationRecord{
		TransactionId:  txn.ID,
		BatchNumber:    txn.BatchNumber,
		SenderId:       txn.SenderId,
		ReceiverId:     txn.ReceiverId,
		Total:          report.Summary.Total,
		OverCount:      report.Summary.OverCount,
		UnderCount:     report.Summary.UnderCount,
		Comment:        input.Comment,
		AcceptedById:   input.AcceptedById,
		AcceptedByName: input.AcceptedByName,
		AcceptedAt:     acceptedAt,
	}
	record.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	for _, item := range report.Items {
		record.Items = append(record.Items, ReconciliationItem{
			LineId:     item.LineId,
			ItemName:   item.ItemName,
			Unit:       item.Unit,
			Expected:   item.Expected,
			Received:   item.Received,
			Difference: item.Difference,
			Kind:       item.Kind,
			Severity:   item.Severity,
			Action:     item.Action,
			Comment:    item.Comment,
		})
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func GetReconciliationRecordByTransaction(ctx context.Context, transactionId int) (*ReconciliationRecord, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	var record ReconciliationRecord
	err := db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_id ASC") }).
		Where("transaction_id = ?", transactionId).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListReconciliationRecords returns records newest first, with their items.
func ListReconciliationRecords(ctx context.Context, filter ReconciliationFilter) ([]ReconciliationRecord, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	dbCtx := db.WithContext(ctx)
	if filter.ReceiverId > 0 {
		dbCtx = dbCtx.Where("receiver_id = ?", filter.ReceiverId)
	}
	if filter.From != nil {
		dbCtx = dbCtx.Where("accepted_at >= ?", *filter.From)
	}
	if filter.To != nil {
		dbCtx = dbCtx.Where("accepted_at < ?", *filter.To)
	}
	if filter.Limit > 0 {
		dbCtx = dbCtx.Limit(filter.Limit)
	}

	var records []ReconciliationRecord
	err := dbCtx.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_id ASC") }).
		Order("accepted_at DESC, id DESC").
		Find(&records).Error
	return records, err
}

var reconciliationExportHeadings = []string{
	"Accepted At", "Batch Number", "Transaction", "Sender", "Receiver", "Accepted By",
	"Line", "Item", "Unit", "Expected", "Received", "Difference", "Kind", "Severity", "Action", "Comment",
}

// ReconciliationExportRows flattens records into one row per reconciled line.
// partyName may be nil, in which case party ids are written.
func ReconciliationExportRows(records []ReconciliationRecord, partyName func(id int) string) ([]string, [][]interface{}) {
	if partyName == nil {
		partyName = func(id int) string { return strconv.Itoa(id) }
	}
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		for _, item := range rec.Items {
			rows = append(rows, []interface{}{
				rec.AcceptedAt.Format(time.RFC3339),
				rec.BatchNumber,
				rec.TransactionId,
				partyName(rec.SenderId),
				partyName(rec.ReceiverId),
				rec.AcceptedByName,
				item.LineId,
				item.ItemName,
				item.Unit,
				item.Expected,
				item.Received,
				item.Difference,
				string(item.Kind),
				string(item.Severity),
				string(item.Action),
				item.Comment,
			})
		}
	}
	return reconciliationExportHeadings, rows
}
