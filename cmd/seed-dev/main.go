// seed-dev creates a warehouse, a piece of equipment with an open maintenance record
// and one pending transfer between them, then stores a session token in redis so the
// acceptance API can be exercised locally with the "token" header.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... REDIS_ADDRESS=... go run ./cmd/seed-dev
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/middlewares"
	"github.com/mmdatafocus/transfer_backend/models"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	warehouse, err := models.CreateParty(ctx, &models.NewParty{PartyType: models.PartyTypeWarehouse, Name: "Main Warehouse"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create warehouse: %v\n", err)
		os.Exit(1)
	}
	equipment, err := models.CreateParty(ctx, &models.NewParty{PartyType: models.PartyTypeEquipment, Name: "Excavator 7"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create equipment: %v\n", err)
		os.Exit(1)
	}

	maintenance, err := models.CreateMaintenanceRecord(db.WithContext(ctx), equipment.ID, &models.MaintenanceDraft{
		Title:       "Hydraulic service",
		ItemTypeIds: []int{101, 102},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create maintenance record: %v\n", err)
		os.Exit(1)
	}

	txn, err := models.CreateTransaction(ctx, &models.NewTransaction{
		BatchNumber:     "DEV-" + time.Now().Format("20060102150405"),
		SenderId:        warehouse.ID,
		ReceiverId:      equipment.ID,
		TransactionDate: time.Now(),
		Description:     "seeded by seed-dev",
		Lines: []models.NewTransactionLine{
			{ItemTypeId: 101, ItemName: "Hydraulic oil", Unit: "L", ExpectedQuantity: 20},
			{ItemTypeId: 102, ItemName: "Oil filter", Unit: "pcs", ExpectedQuantity: 2},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create transaction: %v\n", err)
		os.Exit(1)
	}

	config.ConnectRedisWithRetry()
	token := uuid.NewString()
	session, _ := json.Marshal(middlewares.SessionUser{
		UserId:    1,
		Username:  "dev",
		Name:      "Dev Receiver",
		PartyType: string(models.PartyTypeEquipment),
		PartyId:   equipment.ID,
	})
	if err := config.SetRedisValue("Token:"+token, string(session), 24*time.Hour); err != nil {
		fmt.Fprintf(os.Stderr, "failed to store session: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("warehouse=%d equipment=%d maintenance=%s transaction=%d batch=%s\n",
		warehouse.ID, equipment.ID, maintenance.ID, txn.ID, txn.BatchNumber)
	fmt.Printf("token=%s\n", token)
}
