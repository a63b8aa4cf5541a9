package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AcceptanceSubmitter stores a finished acceptance.
type AcceptanceSubmitter interface {
	AcceptTransaction(ctx context.Context, req models.AcceptanceRequest) (*models.Transaction, error)
}

type AcceptanceSubmitterFunc func(ctx context.Context, req models.AcceptanceRequest) (*models.Transaction, error)

func (f AcceptanceSubmitterFunc) AcceptTransaction(ctx context.Context, req models.AcceptanceRequest) (*models.Transaction, error) {
	return f(ctx, req)
}

// StoreSubmitter submits to the database-backed acceptance store.
var StoreSubmitter AcceptanceSubmitter = AcceptanceSubmitterFunc(models.AcceptTransaction)

type NextResult struct {
	Step        StepID              `json:"step"`
	Submitted   bool                `json:"submitted"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

type Option func(*AcceptanceWorkflow)

func WithClassifier(c Classifier) Option {
	return func(w *AcceptanceWorkflow) { w.classifier = c }
}

func WithMaintenanceFinder(f MaintenanceFinder) Option {
	return func(w *AcceptanceWorkflow) { w.finder = f }
}

func WithSubmitTimeout(d time.Duration) Option {
	return func(w *AcceptanceWorkflow) { w.submitTimeout = d }
}

func WithLogger(l *logrus.Logger) Option {
	return func(w *AcceptanceWorkflow) { w.logger = l }
}

// AcceptanceWorkflow drives one receiver through accepting one pending transaction.
// Discrepancies, decisions and the current step are re-derived after every entry change.
type AcceptanceWorkflow struct {
	mu sync.Mutex

	transaction   *models.Transaction
	entries       map[int]ReceiptEntry
	discrepancies []Discrepancy
	decisions     map[int]ResolutionDecision
	purpose       *models.PurposeAssignment
	comment       string

	currentStep StepID
	visited     map[StepID]struct{}
	complete    bool
	cancelled   bool
	inFlight    bool
	lastErr     error
	result      *models.Transaction

	classifier    Classifier
	submitter     AcceptanceSubmitter
	finder        MaintenanceFinder
	submitTimeout time.Duration
	logger        *logrus.Logger
}

func NewAcceptanceWorkflow(txn *models.Transaction, submitter AcceptanceSubmitter, opts ...Option) (*AcceptanceWorkflow, error) {
	if txn == nil {
		return nil, errors.New("transaction is required")
	}
	if txn.Status != models.TransactionStatusPending {
		return nil, models.ErrTransactionNotPending
	}
	if submitter == nil {
		return nil, errors.New("submitter is required")
	}

	w := &AcceptanceWorkflow{
		transaction:   txn,
		entries:       NewReceiptEntries(txn.Lines),
		decisions:     map[int]ResolutionDecision{},
		currentStep:   StepReview,
		visited:       map[StepID]struct{}{StepReview: {}},
		classifier:    NewClassifier(),
		submitter:     submitter,
		submitTimeout: config.AcceptanceSubmitTimeout(),
		logger:        config.GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.recompute()
	return w, nil
}

// guard rejects anything but reads once the workflow is finished or submitting.
func (w *AcceptanceWorkflow) guard() error {
	switch {
	case w.inFlight:
		return ErrSubmissionInFlight
	case w.complete:
		return ErrWorkflowComplete
	case w.cancelled:
		return ErrWorkflowCancelled
	}
	return nil
}

// recompute re-derives discrepancies, reconciles decisions with them and moves
// off the current step if it is no longer visible.
func (w *AcceptanceWorkflow) recompute() {
	previous := make(map[int]models.DiscrepancyKind, len(w.discrepancies))
	for _, d := range w.discrepancies {
		previous[d.LineId] = d.Kind
	}
	w.discrepancies = w.classifier.ClassifyAll(w.transaction.Lines, w.entries)

	active := make(map[int]Discrepancy, len(w.discrepancies))
	for _, d := range w.discrepancies {
		active[d.LineId] = d
		kind, existed := previous[d.LineId]
		if !existed || kind != d.Kind {
			// new discrepancy, or its kind flipped
			w.decisions[d.LineId] = ResolutionDecision{LineId: d.LineId, Action: DefaultAction(d), Comment: w.decisions[d.LineId].Comment}
		}
	}
	for lineId := range w.decisions {
		if _, ok := active[lineId]; !ok {
			delete(w.decisions, lineId)
		}
	}

	current, _ := stepByID(w.currentStep)
	if current.IsVisible(w) {
		return
	}
	if prev, ok := w.previousVisible(w.currentStep); ok {
		w.currentStep = prev
		return
	}
	// Review is always visible, so this is unreachable.
	w.currentStep = StepReview
}

func (w *AcceptanceWorkflow) findLine(lineId int) (models.TransactionLine, bool) {
	for _, line := range w.transaction.Lines {
		if line.ID == lineId {
			return line, true
		}
	}
	return models.TransactionLine{}, false
}

func (w *AcceptanceWorkflow) quantitiesEditable() error {
	if w.currentStep != StepVerifyQuantities && w.currentStep != StepResolveDiscrepancies {
		return &ValidationError{Field: "received_quantity", Message: "quantities can only be changed while verifying them"}
	}
	return nil
}

// SetReceivedQuantity records a received quantity. Negative input counts as 0.
// A positive quantity clears the not-received flag.
func (w *AcceptanceWorkflow) SetReceivedQuantity(lineId int, qty int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	if err := w.quantitiesEditable(); err != nil {
		return err
	}
	if _, ok := w.findLine(lineId); !ok {
		return &DiscrepancyStateError{LineId: lineId, Message: "unknown line"}
	}

	qty = ClampQuantity(qty)
	entry := w.entries[lineId]
	entry.LineId = lineId
	entry.ReceivedQuantity = qty
	if qty > 0 {
		entry.NotReceived = false
	}
	w.entries[lineId] = entry
	w.recompute()
	return nil
}

// SetReceivedQuantityInput accepts raw user input.
func (w *AcceptanceWorkflow) SetReceivedQuantityInput(lineId int, raw string) error {
	return w.SetReceivedQuantity(lineId, CoerceQuantity(raw))
}

// SetNotReceived marks a line as not delivered at all, which zeroes its quantity.
func (w *AcceptanceWorkflow) SetNotReceived(lineId int, notReceived bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	if err := w.quantitiesEditable(); err != nil {
		return err
	}
	if _, ok := w.findLine(lineId); !ok {
		return &DiscrepancyStateError{LineId: lineId, Message: "unknown line"}
	}

	entry := w.entries[lineId]
	entry.LineId = lineId
	entry.NotReceived = notReceived
	if notReceived {
		entry.ReceivedQuantity = 0
	}
	w.entries[lineId] = entry
	w.recompute()
	return nil
}

func (w *AcceptanceWorkflow) AssignPurpose(assignment models.PurposeAssignment) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	if !w.transaction.Purpose.NeedsAssignment() {
		return &ValidationError{Field: "purpose", Message: "transaction purpose is already set"}
	}

	switch assignment.Purpose {
	case models.TransactionPurposeConsumable:
		assignment.MaintenanceLinkMode = models.MaintenanceLinkNone
		assignment.MaintenanceId = ""
		assignment.NewMaintenanceDraft = nil
	case models.TransactionPurposeMaintenance:
		if assignment.MaintenanceLinkMode == "" {
			assignment.MaintenanceLinkMode = models.MaintenanceLinkNone
		}
		if !assignment.MaintenanceLinkMode.IsValid() {
			return &ValidationError{Field: "maintenance_link_mode", Message: "invalid maintenance link mode"}
		}
		if assignment.MaintenanceLinkMode == models.MaintenanceLinkCreate && !w.transaction.ReceiverIsEquipment() {
			return &ValidationError{Field: "maintenance_link_mode", Message: "maintenance records can only be created for equipment"}
		}
	default:
		return &ValidationError{Field: "purpose", Message: "purpose must be CONSUMABLE or MAINTENANCE"}
	}

	if assignment.NewMaintenanceDraft != nil {
		draft := *assignment.NewMaintenanceDraft
		assignment.NewMaintenanceDraft = &draft
	}
	w.purpose = &assignment
	return nil
}

func (w *AcceptanceWorkflow) SelectResolution(lineId int, action models.ResolutionAction, comment string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}

	var target *Discrepancy
	for i := range w.discrepancies {
		if w.discrepancies[i].LineId == lineId {
			target = &w.discrepancies[i]
			break
		}
	}
	if target == nil {
		return &DiscrepancyStateError{LineId: lineId, Message: "no discrepancy to resolve"}
	}
	if !IsActionAllowed(*target, action) {
		return &ValidationError{Field: "action", Message: string(action) + " does not apply to " + string(target.Kind) + " discrepancies"}
	}
	w.decisions[lineId] = ResolutionDecision{LineId: lineId, Action: action, Comment: strings.TrimSpace(comment)}
	return nil
}

// ClearResolution removes the decision of a line, leaving its discrepancy unresolved.
func (w *AcceptanceWorkflow) ClearResolution(lineId int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	if _, ok := w.decisions[lineId]; !ok {
		return &DiscrepancyStateError{LineId: lineId, Message: "no resolution to clear"}
	}
	delete(w.decisions, lineId)
	return nil
}

func (w *AcceptanceWorkflow) SetComment(comment string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return err
	}
	w.comment = comment
	return nil
}

// Next advances to the next visible step, or submits from the last one.
// A failed submission leaves the workflow on FinalReview with the error kept.
func (w *AcceptanceWorkflow) Next(ctx context.Context, actor models.Identity) (*NextResult, error) {
	w.mu.Lock()
	if err := w.guard(); err != nil {
		w.mu.Unlock()
		return nil, err
	}

	current, _ := stepByID(w.currentStep)
	if !current.CanAdvance(w) {
		w.mu.Unlock()
		return nil, current.blocked(w)
	}

	if next, ok := w.nextVisible(w.currentStep); ok {
		w.currentStep = next
		w.visited[next] = struct{}{}
		w.mu.Unlock()
		return &NextResult{Step: next}, nil
	}

	if actor.UserId <= 0 {
		w.mu.Unlock()
		return nil, &ValidationError{Field: "actor", Message: "an identified user is required to accept"}
	}

	req := w.buildRequest(actor)
	w.inFlight = true
	w.lastErr = nil
	submitter := w.submitter
	timeout := w.submitTimeout
	logger := w.logger
	w.mu.Unlock()

	txn, err := submit(ctx, submitter, req, timeout)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight = false
	if err != nil {
		w.lastErr = newSubmissionError(err)
		config.LogError(logger, "acceptanceWorkflow.go", "Next", "AcceptTransaction", req.TransactionId, err)
		return nil, w.lastErr
	}

	w.complete = true
	w.result = txn
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "AcceptanceWorkflow",
			"transaction_id": req.TransactionId,
			"discrepancies":  len(w.discrepancies),
		}).Info("acceptance submitted")
	}
	return &NextResult{Step: w.currentStep, Submitted: true, Transaction: txn}, nil
}

func submit(ctx context.Context, submitter AcceptanceSubmitter, req models.AcceptanceRequest, timeout time.Duration) (*models.Transaction, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("workflow").Start(ctx, "acceptance.submit", trace.WithAttributes(
		attribute.Int("transaction.id", req.TransactionId),
		attribute.String("transaction.batch_number", req.BatchNumber),
	))
	defer span.End()

	txn, err := submitter.AcceptTransaction(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.New("acceptance timed out; it is safe to submit again")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return txn, nil
}

func (w *AcceptanceWorkflow) buildRequest(actor models.Identity) models.AcceptanceRequest {
	req := models.AcceptanceRequest{
		TransactionId:  w.transaction.ID,
		BatchNumber:    w.transaction.BatchNumber,
		ReceivedItems:  make([]models.ReceivedItem, 0, len(w.transaction.Lines)),
		Comment:        w.comment,
		AcceptedById:   actor.UserId,
		AcceptedByName: actor.UserName,
	}
	for _, line := range w.transaction.Lines {
		entry := entryFor(line, w.entries)
		req.ReceivedItems = append(req.ReceivedItems, models.ReceivedItem{
			LineId:           line.ID,
			ReceivedQuantity: effectiveReceived(entry),
			NotReceived:      entry.NotReceived,
		})
	}
	if len(w.discrepancies) > 0 {
		report := BuildResolutionReport(w.discrepancies, w.decisions)
		req.ResolutionReport = &report
	}
	if w.transaction.Purpose.NeedsAssignment() && w.purpose != nil {
		assignment := *w.purpose
		req.PurposeAssignment = &assignment
	}
	return req
}

// Previous moves back one visible step. It reports false when already on the first.
func (w *AcceptanceWorkflow) Previous() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guard(); err != nil {
		return false, err
	}
	prev, ok := w.previousVisible(w.currentStep)
	if !ok {
		return false, nil
	}
	w.currentStep = prev
	return true, nil
}

// Cancel discards the session. It is refused only while a submission is pending.
func (w *AcceptanceWorkflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inFlight {
		return ErrSubmissionInFlight
	}
	if w.complete {
		return ErrWorkflowComplete
	}
	w.cancelled = true
	w.lastErr = nil
	return nil
}

func (w *AcceptanceWorkflow) CurrentStep() StepID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentStep
}

func (w *AcceptanceWorkflow) VisibleSteps() []StepID {
	w.mu.Lock()
	defer w.mu.Unlock()
	steps := w.visibleSteps()
	ids := make([]StepID, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	return ids
}

func (w *AcceptanceWorkflow) CanAdvance() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	current, _ := stepByID(w.currentStep)
	return w.guard() == nil && current.CanAdvance(w)
}

func (w *AcceptanceWorkflow) Discrepancies() []Discrepancy {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Discrepancy, len(w.discrepancies))
	copy(out, w.discrepancies)
	return out
}

func (w *AcceptanceWorkflow) Decision(lineId int) (ResolutionDecision, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.decisions[lineId]
	return d, ok
}

func (w *AcceptanceWorkflow) Entry(lineId int) (ReceiptEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	line, ok := w.findLine(lineId)
	if !ok {
		return ReceiptEntry{}, false
	}
	return entryFor(line, w.entries), true
}

// PendingRequest is the request Next would submit for actor right now.
func (w *AcceptanceWorkflow) PendingRequest(actor models.Identity) models.AcceptanceRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buildRequest(actor)
}

func (w *AcceptanceWorkflow) TransactionId() int {
	return w.transaction.ID
}

func (w *AcceptanceWorkflow) IsComplete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.complete
}

func (w *AcceptanceWorkflow) IsCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *AcceptanceWorkflow) InFlight() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

func (w *AcceptanceWorkflow) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Result is the accepted transaction after a successful submission.
func (w *AcceptanceWorkflow) Result() *models.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}
