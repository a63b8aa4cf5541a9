package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransaction_Validation(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	a, err := CreateParty(ctx, &NewParty{PartyType: PartyTypeWarehouse, Name: "A"})
	require.NoError(t, err)
	b, err := CreateParty(ctx, &NewParty{PartyType: PartyTypeSite, Name: "B"})
	require.NoError(t, err)

	line := NewTransactionLine{ItemTypeId: 1, ItemName: "Bolt", ExpectedQuantity: 1}
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input NewTransaction
	}{
		{"same party on both sides", NewTransaction{BatchNumber: "X", SenderId: a.ID, ReceiverId: a.ID, TransactionDate: date, Lines: []NewTransactionLine{line}}},
		{"no lines", NewTransaction{BatchNumber: "X", SenderId: a.ID, ReceiverId: b.ID, TransactionDate: date}},
		{"negative expected", NewTransaction{BatchNumber: "X", SenderId: a.ID, ReceiverId: b.ID, TransactionDate: date,
			Lines: []NewTransactionLine{{ItemTypeId: 1, ItemName: "Bolt", ExpectedQuantity: -1}}}},
		{"unknown receiver", NewTransaction{BatchNumber: "X", SenderId: a.ID, ReceiverId: 999, TransactionDate: date, Lines: []NewTransactionLine{line}}},
		{"sent first by a stranger", NewTransaction{BatchNumber: "X", SenderId: a.ID, ReceiverId: b.ID, SentFirst: 999, TransactionDate: date, Lines: []NewTransactionLine{line}}},
		{"bad purpose", NewTransaction{BatchNumber: "X", Purpose: "SCRAP", SenderId: a.ID, ReceiverId: b.ID, TransactionDate: date, Lines: []NewTransactionLine{line}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input
			_, err := CreateTransaction(ctx, &input)
			assert.Error(t, err)
		})
	}
}

func TestGetTransaction_LoadsPartiesAndLines(t *testing.T) {
	setupTestDB(t)
	fx := seedTransaction(t, "", 5, 6, 7)

	assert.Equal(t, "Main Warehouse", fx.txn.SenderName())
	assert.Equal(t, "Excavator 7", fx.txn.ReceiverName())
	assert.True(t, fx.txn.ReceiverIsEquipment())
	assert.Equal(t, fx.warehouse.ID, fx.txn.SentFirst, "sent first defaults to the sender")
	require.Len(t, fx.txn.Lines, 3)
	assert.Equal(t, 5, fx.txn.Lines[0].ExpectedQuantity)
	assert.Equal(t, 7, fx.txn.Lines[2].ExpectedQuantity)
}

func TestListTransactions_Direction(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	fx := seedTransaction(t, "", 1)

	// a request raised by the equipment side, waiting on the warehouse
	requested, err := CreateTransaction(ctx, &NewTransaction{
		BatchNumber:     "B-0002",
		SenderId:        fx.warehouse.ID,
		ReceiverId:      fx.equipment.ID,
		SentFirst:       fx.equipment.ID,
		TransactionDate: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		Lines:           []NewTransactionLine{{ItemTypeId: 9, ItemName: "Grease", ExpectedQuantity: 2}},
	})
	require.NoError(t, err)

	incoming, err := ListTransactions(ctx, TransactionFilter{PartyId: fx.warehouse.ID, Direction: TransactionDirectionIncoming})
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, requested.ID, incoming[0].ID)
	assert.True(t, incoming[0].IsIncomingFor(fx.warehouse.ID))

	outgoing, err := ListTransactions(ctx, TransactionFilter{PartyId: fx.warehouse.ID, Direction: TransactionDirectionOutgoing})
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, fx.txn.ID, outgoing[0].ID)

	all, err := ListTransactions(ctx, TransactionFilter{PartyId: fx.equipment.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, requested.ID, all[0].ID, "newest transaction date first")

	_, err = ListTransactions(ctx, TransactionFilter{Direction: TransactionDirectionIncoming})
	assert.Error(t, err, "direction needs a party")
}

func TestListTransactions_ExcludesAccepted(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	fx := seedTransaction(t, TransactionPurposeConsumable, 1)

	_, err := AcceptTransaction(ctx, AcceptanceRequest{
		TransactionId: fx.txn.ID,
		BatchNumber:   fx.txn.BatchNumber,
		ReceivedItems: exactItems(fx.txn),
	})
	require.NoError(t, err)

	incoming, err := ListTransactions(ctx, TransactionFilter{PartyId: fx.equipment.ID, Direction: TransactionDirectionIncoming})
	require.NoError(t, err)
	assert.Empty(t, incoming)

	accepted := TransactionStatusAccepted
	done, err := ListTransactions(ctx, TransactionFilter{PartyId: fx.equipment.ID, Status: &accepted})
	require.NoError(t, err)
	assert.Len(t, done, 1)
}
