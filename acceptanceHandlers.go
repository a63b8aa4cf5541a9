package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/middlewares"
	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/mmdatafocus/transfer_backend/utils"
	"github.com/mmdatafocus/transfer_backend/workflow"
	"github.com/sirupsen/logrus"
)

// reconciliationExportLimit caps the records written to one export file.
var reconciliationExportLimit = 5000

type acceptanceHandler struct {
	registry  *workflow.SessionRegistry
	submitter workflow.AcceptanceSubmitter
	finder    workflow.MaintenanceFinder
	logger    *logrus.Logger
}

func newAcceptanceHandler(registry *workflow.SessionRegistry, logger *logrus.Logger) *acceptanceHandler {
	return &acceptanceHandler{
		registry:  registry,
		submitter: workflow.StoreSubmitter,
		finder:    workflow.MaintenanceFinderFunc(models.SearchMaintenanceRecords),
		logger:    logger,
	}
}

func (h *acceptanceHandler) register(r gin.IRouter) {
	r.GET("/transactions", h.listTransactions)
	r.GET("/transactions/:id", h.getTransaction)
	r.GET("/transactions/:id/reconciliation", h.getReconciliation)
	r.GET("/transactions/:id/outbox", h.getOutboxStatus)
	r.POST("/transactions/:id/acceptance", h.openAcceptance)

	r.GET("/acceptance/:sid", h.getAcceptance)
	r.DELETE("/acceptance/:sid", h.cancelAcceptance)
	r.PUT("/acceptance/:sid/lines/:lineId", h.updateLine)
	r.PUT("/acceptance/:sid/purpose", h.assignPurpose)
	r.GET("/acceptance/:sid/maintenance-candidates", h.maintenanceCandidates)
	r.PUT("/acceptance/:sid/resolutions/:lineId", h.selectResolution)
	r.DELETE("/acceptance/:sid/resolutions/:lineId", h.clearResolution)
	r.PUT("/acceptance/:sid/comment", h.setComment)
	r.POST("/acceptance/:sid/next", h.next)
	r.POST("/acceptance/:sid/previous", h.previous)

	r.GET("/reconciliations", h.listReconciliations)
	r.GET("/reconciliations/export", h.exportReconciliations)
	r.POST("/internal/ops/outbox/requeue", h.requeueOutbox)
}

// writeError maps domain errors to status codes. Anything unrecognised is a bad request.
func writeError(c *gin.Context, err error) {
	var (
		validationErr  *workflow.ValidationError
		discrepancyErr *workflow.DiscrepancyStateError
		submissionErr  *workflow.SubmissionError
	)
	status := http.StatusBadRequest
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &discrepancyErr):
		status = http.StatusConflict
	case errors.As(err, &submissionErr):
		status = http.StatusBadGateway
	case errors.Is(err, workflow.ErrSubmissionInFlight),
		errors.Is(err, workflow.ErrTransactionLocked),
		errors.Is(err, workflow.ErrWorkflowComplete),
		errors.Is(err, workflow.ErrWorkflowCancelled),
		errors.Is(err, models.ErrTransactionNotPending),
		errors.Is(err, models.ErrBatchNumberMismatch):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrSessionNotFound), errors.Is(err, utils.ErrorRecordNotFound):
		status = http.StatusNotFound
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func actorFromContext(c *gin.Context) models.Identity {
	ctx := c.Request.Context()
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	return models.Identity{UserId: userId, UserName: userName}
}

func paramId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return id, true
}

func (h *acceptanceHandler) session(c *gin.Context) (*workflow.AcceptanceSession, bool) {
	ctx := c.Request.Context()
	session, err := h.registry.Get(ctx, c.Param("sid"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	_, partyId, _ := utils.GetPartyFromContext(ctx)
	if !session.OwnedBy(actorFromContext(c).UserId, partyId) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "acceptance session belongs to another user"})
		return nil, false
	}
	return session, true
}

func (h *acceptanceHandler) listTransactions(c *gin.Context) {
	ctx := c.Request.Context()
	filter := models.TransactionFilter{
		Direction: models.TransactionDirection(strings.ToUpper(c.Query("direction"))),
	}
	if _, partyId, ok := utils.GetPartyFromContext(ctx); ok {
		filter.PartyId = partyId
	}
	if v := c.Query("party_id"); v != "" {
		partyId, err := strconv.Atoi(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid party_id"})
			return
		}
		filter.PartyId = partyId
	}
	if v := c.Query("status"); v != "" {
		status := models.TransactionStatus(strings.ToUpper(v))
		filter.Status = &status
	}
	if v := c.Query("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	txns, err := models.ListTransactions(ctx, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := middlewares.AttachParties(ctx, txns); err != nil {
		config.LogError(h.logger, "acceptanceHandlers.go", "listTransactions", "AttachParties", nil, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (h *acceptanceHandler) getTransaction(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	txn, err := models.GetTransaction(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *acceptanceHandler) getReconciliation(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	record, err := models.GetReconciliationRecordByTransaction(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *acceptanceHandler) getOutboxStatus(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	status, err := models.GetOutboxStatus(c.Request.Context(), models.OutboxReferenceTypeTransactionAccepted, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *acceptanceHandler) openAcceptance(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	txn, err := models.GetTransaction(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	_, partyId, ok := utils.GetPartyFromContext(ctx)
	if ok && partyId > 0 && txn.ReceiverId != partyId {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "only the receiver can accept this transaction"})
		return
	}

	owner := workflow.SessionOwner{UserId: actorFromContext(c).UserId, PartyId: partyId}
	session, err := h.registry.Open(ctx, owner, txn, h.submitter,
		workflow.WithMaintenanceFinder(h.finder),
		workflow.WithLogger(h.logger),
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"workflow":   session.Workflow.Snapshot(),
	})
}

func (h *acceptanceHandler) getAcceptance(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Workflow.Snapshot())
}

func (h *acceptanceHandler) cancelAcceptance(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.registry.Cancel(c.Request.Context(), session.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type updateLineRequest struct {
	// a number or a numeric string
	ReceivedQuantity json.RawMessage `json:"received_quantity"`
	NotReceived      *bool           `json:"not_received"`
}

func (h *acceptanceHandler) updateLine(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	lineId, ok := paramId(c, "lineId")
	if !ok {
		return
	}
	var req updateLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	wf := session.Workflow
	if len(req.ReceivedQuantity) > 0 && string(req.ReceivedQuantity) != "null" {
		raw := strings.Trim(string(req.ReceivedQuantity), `"`)
		if err := wf.SetReceivedQuantityInput(lineId, raw); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.NotReceived != nil {
		if err := wf.SetNotReceived(lineId, *req.NotReceived); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, wf.Snapshot())
}

func (h *acceptanceHandler) assignPurpose(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req models.PurposeAssignment
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := session.Workflow.AssignPurpose(req); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Workflow.Snapshot())
}

func (h *acceptanceHandler) maintenanceCandidates(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	records, err := session.Workflow.MaintenanceCandidates(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

type resolutionRequest struct {
	Action  models.ResolutionAction `json:"action"`
	Comment string                  `json:"comment"`
}

func (h *acceptanceHandler) selectResolution(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	lineId, ok := paramId(c, "lineId")
	if !ok {
		return
	}
	var req resolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := session.Workflow.SelectResolution(lineId, req.Action, req.Comment); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Workflow.Snapshot())
}

func (h *acceptanceHandler) clearResolution(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	lineId, ok := paramId(c, "lineId")
	if !ok {
		return
	}
	if err := session.Workflow.ClearResolution(lineId); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Workflow.Snapshot())
}

func (h *acceptanceHandler) setComment(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := session.Workflow.SetComment(req.Comment); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Workflow.Snapshot())
}

func (h *acceptanceHandler) next(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	res, err := session.Workflow.Next(ctx, actorFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Submitted {
		h.registry.Discard(ctx, session.ID)
		c.JSON(http.StatusOK, gin.H{
			"submitted":   true,
			"transaction": res.Transaction,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"submitted": false,
		"workflow":  session.Workflow.Snapshot(),
	})
}

func (h *acceptanceHandler) previous(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := session.Workflow.Previous(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Workflow.Snapshot())
}

func reconciliationFilterFromQuery(c *gin.Context) (models.ReconciliationFilter, error) {
	var filter models.ReconciliationFilter
	if v := c.Query("receiver_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("invalid receiver_id")
		}
		filter.ReceiverId = id
	}
	for key, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, fmt.Errorf("invalid %s, expected YYYY-MM-DD", key)
		}
		*target = &t
	}
	if filter.To != nil {
		// inclusive of the whole "to" day
		end := filter.To.AddDate(0, 0, 1)
		filter.To = &end
	}
	return filter, nil
}

func (h *acceptanceHandler) listReconciliations(c *gin.Context) {
	filter, err := reconciliationFilterFromQuery(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Limit = 200
	records, err := models.ListReconciliationRecords(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *acceptanceHandler) exportReconciliations(c *gin.Context) {
	ctx := c.Request.Context()
	filter, err := reconciliationFilterFromQuery(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Limit = reconciliationExportLimit
	records, err := models.ListReconciliationRecords(ctx, filter)
	if err != nil {
		writeError(c, err)
		return
	}

	partyIds := make([]int, 0, len(records)*2)
	for _, rec := range records {
		partyIds = append(partyIds, rec.SenderId, rec.ReceiverId)
	}
	partyIds = utils.UniqueSlice(partyIds)
	names := make(map[int]string, len(partyIds))
	parties, errs := middlewares.GetParties(ctx, partyIds)
	if err := errors.Join(errs...); err != nil {
		// rows fall back to party ids
		config.LogError(h.logger, "acceptanceHandlers.go", "exportReconciliations", "GetParties", partyIds, err)
	}
	for _, p := range parties {
		if p != nil {
			names[p.ID] = p.Name
		}
	}

	headings, rows := models.ReconciliationExportRows(records, func(id int) string {
		if name, ok := names[id]; ok {
			return name
		}
		return strconv.Itoa(id)
	})
	f, err := utils.NewSheetFile(headings, rows)
	if err != nil {
		config.LogError(h.logger, "acceptanceHandlers.go", "exportReconciliations", "NewSheetFile", nil, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="reconciliations-%s.xlsx"`, time.Now().Format("20060102")))
	if err := f.Write(c.Writer); err != nil {
		config.LogError(h.logger, "acceptanceHandlers.go", "exportReconciliations", "Write", nil, err)
	}
}

type outboxRequeueRequest struct {
	TransactionId int `json:"transaction_id"`
}

// requeueOutbox puts unsent acceptance events of a transaction back in the dispatch queue.
func (h *acceptanceHandler) requeueOutbox(c *gin.Context) {
	if actorFromContext(c).UserId <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req outboxRequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TransactionId <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "transaction_id is required"})
		return
	}
	status, err := models.RequeueOutbox(c.Request.Context(), models.OutboxReferenceTypeTransactionAccepted, req.TransactionId)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.logger != nil {
		h.logger.WithFields(logrus.Fields{
			"field":          "requeueOutbox",
			"transaction_id": req.TransactionId,
			"user_id":        actorFromContext(c).UserId,
		}).Info("outbox requeued")
	}
	c.JSON(http.StatusOK, status)
}
