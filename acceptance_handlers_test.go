package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/mmdatafocus/transfer_backend/utils"
	"github.com/mmdatafocus/transfer_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	router    *gin.Engine
	registry  *workflow.SessionRegistry
	warehouse *models.Party
	equipment *models.Party
	token     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	prevDB, prevRedis := config.GetDB(), config.GetRedisDB()
	config.UseDB(db)
	config.UseRedis(client)
	t.Cleanup(func() {
		config.UseDB(prevDB)
		config.UseRedis(prevRedis)
		_ = client.Close()
		_ = sqlDB.Close()
	})

	ctx := context.Background()
	warehouse, err := models.CreateParty(ctx, &models.NewParty{PartyType: models.PartyTypeWarehouse, Name: "Central Store"})
	require.NoError(t, err)
	equipment, err := models.CreateParty(ctx, &models.NewParty{PartyType: models.PartyTypeEquipment, Name: "Loader 2"})
	require.NoError(t, err)

	token, err := utils.JwtGenerate(utils.JwtCustomClaim{ID: 11, Name: "Zaw", PartyType: string(models.PartyTypeEquipment), PartyId: equipment.ID})
	require.NoError(t, err)

	registry := workflow.NewSessionRegistry(config.GetRedisLock(), time.Minute, nil)
	return &testServer{
		router:    newRouter(newAcceptanceHandler(registry, config.GetLogger()), config.GetLogger()),
		registry:  registry,
		warehouse: warehouse,
		equipment: equipment,
		token:     token,
	}
}

func (s *testServer) seed(t *testing.T, purpose models.TransactionPurpose, expected ...int) *models.Transaction {
	t.Helper()
	lines := make([]models.NewTransactionLine, 0, len(expected))
	for i, qty := range expected {
		lines = append(lines, models.NewTransactionLine{ItemTypeId: 200 + i, ItemName: fmt.Sprintf("Part %d", i+1), Unit: "pcs", ExpectedQuantity: qty})
	}
	txn, err := models.CreateTransaction(context.Background(), &models.NewTransaction{
		BatchNumber:     "TR-2024-001",
		Purpose:         purpose,
		SenderId:        s.warehouse.ID,
		ReceiverId:      s.equipment.ID,
		TransactionDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Lines:           lines,
	})
	require.NoError(t, err)
	loaded, err := models.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	return loaded
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type openResponse struct {
	SessionId string                `json:"session_id"`
	Workflow  workflow.WorkflowView `json:"workflow"`
}

type nextResponse struct {
	Submitted   bool                  `json:"submitted"`
	Workflow    workflow.WorkflowView `json:"workflow"`
	Transaction *models.Transaction   `json:"transaction"`
}

func (s *testServer) open(t *testing.T, txnId int) string {
	t.Helper()
	w := s.do(t, http.MethodPost, fmt.Sprintf("/transactions/%d/acceptance", txnId), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[openResponse](t, w).SessionId
}

func TestAcceptanceFlow_ShortageIsReconciled(t *testing.T) {
	s := newTestServer(t)
	txn := s.seed(t, models.TransactionPurposeConsumable, 10, 4)

	w := s.do(t, http.MethodPost, fmt.Sprintf("/transactions/%d/acceptance", txn.ID), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	opened := decode[openResponse](t, w)
	assert.Equal(t, "Central Store", opened.Workflow.SenderName)
	assert.Equal(t, workflow.StepReview, opened.Workflow.CurrentStep.ID)
	sid := opened.SessionId

	w = s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, workflow.StepVerifyQuantities, decode[nextResponse](t, w).Workflow.CurrentStep.ID)

	lineId := txn.Lines[0].ID
	w = s.do(t, http.MethodPut, fmt.Sprintf("/acceptance/%s/lines/%d", sid, lineId), gin.H{"received_quantity": "7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[workflow.WorkflowView](t, w)
	require.Len(t, view.Discrepancies, 1)
	assert.Equal(t, -3, view.Discrepancies[0].Difference)
	assert.Equal(t, models.DiscrepancySeverityHigh, view.Discrepancies[0].Severity)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/acceptance/%s/resolutions/%d", sid, lineId), gin.H{"action": models.ResolutionActionRequestRemaining, "comment": "3 on next truck"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPut, "/acceptance/"+sid+"/comment", gin.H{"comment": "box damaged"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, want := range []workflow.StepID{workflow.StepResolveDiscrepancies, workflow.StepFinalReview} {
		w = s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, want, decode[nextResponse](t, w).Workflow.CurrentStep.ID)
	}

	w = s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[nextResponse](t, w)
	assert.True(t, done.Submitted)
	require.NotNil(t, done.Transaction)
	assert.Equal(t, models.TransactionStatusAccepted, done.Transaction.Status)
	assert.Equal(t, 11, done.Transaction.AcceptedById)

	w = s.do(t, http.MethodGet, "/acceptance/"+sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "session is discarded after submission")

	w = s.do(t, http.MethodGet, fmt.Sprintf("/transactions/%d/reconciliation", txn.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	record := decode[models.ReconciliationRecord](t, w)
	assert.Equal(t, 1, record.UnderCount)
	assert.Equal(t, "box damaged", record.Comment)
	require.Len(t, record.Items, 1)
	assert.Equal(t, models.ResolutionActionRequestRemaining, record.Items[0].Action)
	assert.Equal(t, "3 on next truck", record.Items[0].Comment)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/transactions/%d/outbox", txn.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OutboxPublishStatusPending, decode[models.OutboxStatus](t, w).PublishStatus)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/transactions/%d/acceptance", txn.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code, "accepted transactions cannot be reopened")
}

func TestAcceptanceErrorMapping(t *testing.T) {
	s := newTestServer(t)
	txn := s.seed(t, "", 5)
	sid := s.open(t, txn.ID)

	w := s.do(t, http.MethodPost, fmt.Sprintf("/transactions/%d/acceptance", txn.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code, "second session on the same transaction")

	w = s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.StepAssignPurpose, decode[nextResponse](t, w).Workflow.CurrentStep.ID)

	w = s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "purpose not chosen")

	w = s.do(t, http.MethodPut, "/acceptance/"+sid+"/purpose", gin.H{"purpose": "MAINTENANCE", "maintenance_link_mode": "EXISTING"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "maintenance link incomplete")

	w = s.do(t, http.MethodPut, fmt.Sprintf("/acceptance/%s/resolutions/%d", sid, txn.Lines[0].ID), gin.H{"action": models.ResolutionActionRecordShortage})
	assert.Equal(t, http.StatusConflict, w.Code, "line has no discrepancy")

	w = s.do(t, http.MethodPut, fmt.Sprintf("/acceptance/%s/lines/%d", sid, txn.Lines[0].ID), gin.H{"received_quantity": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "quantities are edited on the verify step")

	w = s.do(t, http.MethodPost, "/acceptance/"+sid+"/previous", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.StepReview, decode[workflow.WorkflowView](t, w).CurrentStep.ID)

	w = s.do(t, http.MethodGet, "/acceptance/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/acceptance/"+sid, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, s.registry.Len())

	w = s.do(t, http.MethodGet, "/transactions/9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpenAcceptance_OnlyReceiver(t *testing.T) {
	s := newTestServer(t)
	txn := s.seed(t, models.TransactionPurposeConsumable, 1)

	token, err := utils.JwtGenerate(utils.JwtCustomClaim{ID: 12, Name: "Hla", PartyType: string(models.PartyTypeWarehouse), PartyId: s.warehouse.ID})
	require.NoError(t, err)
	s.token = token

	w := s.do(t, http.MethodPost, fmt.Sprintf("/transactions/%d/acceptance", txn.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAcceptanceSession_OnlyOpenerMayUseIt(t *testing.T) {
	s := newTestServer(t)
	txn := s.seed(t, models.TransactionPurposeConsumable, 1)
	sid := s.open(t, txn.ID)
	opener := s.token

	sameParty, err := utils.JwtGenerate(utils.JwtCustomClaim{ID: 13, Name: "Aung", PartyType: string(models.PartyTypeEquipment), PartyId: s.equipment.ID})
	require.NoError(t, err)
	otherParty, err := utils.JwtGenerate(utils.JwtCustomClaim{ID: 11, Name: "Zaw", PartyType: string(models.PartyTypeWarehouse), PartyId: s.warehouse.ID})
	require.NoError(t, err)

	for _, token := range []string{sameParty, otherParty} {
		s.token = token
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/acceptance/"+sid, nil).Code)
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil).Code)
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/acceptance/"+sid, nil).Code)
	}
	assert.Equal(t, 1, s.registry.Len(), "session survives foreign cancel")

	s.token = opener
	w := s.do(t, http.MethodGet, "/acceptance/"+sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/acceptance/"+sid, nil).Code)
	assert.Equal(t, 0, s.registry.Len())
}

func TestSubmitRequiresIdentifiedUser(t *testing.T) {
	s := newTestServer(t)
	txn := s.seed(t, models.TransactionPurposeConsumable, 1)
	s.token = ""
	sid := s.open(t, txn.ID)

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := s.do(t, http.MethodPost, "/acceptance/"+sid+"/next", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestListTransactions_Incoming(t *testing.T) {
	s := newTestServer(t)
	incoming := s.seed(t, models.TransactionPurposeConsumable, 1)

	w := s.do(t, http.MethodGet, "/transactions?direction=incoming", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	txns := decode[[]models.Transaction](t, w)
	require.Len(t, txns, 1)
	assert.Equal(t, incoming.ID, txns[0].ID)
	require.NotNil(t, txns[0].Sender)
	assert.Equal(t, "Central Store", txns[0].Sender.Name)
	assert.Equal(t, "Loader 2", txns[0].Receiver.Name)

	w = s.do(t, http.MethodGet, "/transactions?direction=outgoing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Transaction](t, w))

	w = s.do(t, http.MethodGet, "/transactions?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportReconciliations(t *testing.T) {
	s := newTestServer(t)
	txn := s.seed(t, models.TransactionPurposeConsumable, 10, 2)

	_, err := models.AcceptTransaction(context.Background(), models.AcceptanceRequest{
		TransactionId: txn.ID,
		BatchNumber:   txn.BatchNumber,
		ReceivedItems: []models.ReceivedItem{
			{LineId: txn.Lines[0].ID, ReceivedQuantity: 12},
			{LineId: txn.Lines[1].ID, ReceivedQuantity: 2},
		},
		ResolutionReport: &models.ResolutionReport{
			Items: []models.ResolutionReportItem{{
				LineId: txn.Lines[0].ID, ItemName: "Part 1", Unit: "pcs", Expected: 10, Received: 12, Difference: 2,
				Kind: models.DiscrepancyKindOver, Severity: models.DiscrepancySeverityHigh, Action: models.ResolutionActionReturnExcess,
			}},
			Summary: models.DiscrepancySummary{Total: 1, OverCount: 1},
		},
		AcceptedById:   11,
		AcceptedByName: "Zaw",
	})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/reconciliations/export", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Batch Number", rows[0][1])
	assert.Equal(t, "TR-2024-001", rows[1][1])
	assert.Equal(t, "Central Store", rows[1][3])
	assert.Equal(t, "Loader 2", rows[1][4])
	assert.Equal(t, "RETURN_EXCESS", rows[1][14])

	w = s.do(t, http.MethodGet, "/reconciliations/export?from=June", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportReconciliations_RespectsLimit(t *testing.T) {
	s := newTestServer(t)
	prev := reconciliationExportLimit
	reconciliationExportLimit = 1
	t.Cleanup(func() { reconciliationExportLimit = prev })

	for i := 0; i < 2; i++ {
		txn := s.seed(t, models.TransactionPurposeConsumable, 3)
		_, err := models.AcceptTransaction(context.Background(), models.AcceptanceRequest{
			TransactionId: txn.ID,
			BatchNumber:   txn.BatchNumber,
			ReceivedItems: []models.ReceivedItem{{LineId: txn.Lines[0].ID, ReceivedQuantity: 1}},
			ResolutionReport: &models.ResolutionReport{
				Items: []models.ResolutionReportItem{{
					LineId: txn.Lines[0].ID, Expected: 3, Received: 1, Difference: -2,
					Kind: models.DiscrepancyKindUnder, Severity: models.DiscrepancySeverityHigh,
					Action: models.ResolutionActionRecordShortage,
				}},
				Summary: models.DiscrepancySummary{Total: 1, UnderCount: 1},
			},
			AcceptedById: 11,
		})
		require.NoError(t, err)
	}

	w := s.do(t, http.MethodGet, "/reconciliations/export", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Len(t, rows, 2, "heading plus one record")
}

func TestReadinessGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	prevDB := config.GetDB()
	config.UseDB(nil)
	t.Cleanup(func() { config.UseDB(prevDB) })

	r := newRouter(newAcceptanceHandler(workflow.NewSessionRegistry(nil, time.Minute, nil), nil), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/transactions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("x-correlation-id"))
}
