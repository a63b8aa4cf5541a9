package workflow

import "github.com/mmdatafocus/transfer_backend/models"

type StepView struct {
	ID      StepID `json:"id"`
	Name    string `json:"name"`
	Visited bool   `json:"visited"`
}

type DiscrepancyView struct {
	Discrepancy
	Decision       *ResolutionDecision `json:"decision,omitempty"`
	AllowedActions []ActionOption      `json:"allowed_actions"`
}

// WorkflowView is a read-only copy of the workflow state for transport.
type WorkflowView struct {
	TransactionId   int                       `json:"transaction_id"`
	BatchNumber     string                    `json:"batch_number"`
	SenderName      string                    `json:"sender_name"`
	ReceiverName    string                    `json:"receiver_name"`
	Lines           []models.TransactionLine  `json:"lines"`
	Steps           []StepView                `json:"steps"`
	CurrentStep     StepView                  `json:"current_step"`
	CanAdvance      bool                      `json:"can_advance"`
	Entries         []ReceiptEntry            `json:"entries"`
	AnyDiscrepancy  bool                      `json:"any_discrepancy"`
	Discrepancies   []DiscrepancyView         `json:"discrepancies"`
	Summary         models.DiscrepancySummary `json:"summary"`
	PurposeRequired bool                      `json:"purpose_required"`
	Purpose         *models.PurposeAssignment `json:"purpose,omitempty"`
	Comment         string                    `json:"comment"`
	IsComplete      bool                      `json:"is_complete"`
	IsCancelled     bool                      `json:"is_cancelled"`
	InFlight        bool                      `json:"in_flight"`
	Error           string                    `json:"error,omitempty"`
}

func (w *AcceptanceWorkflow) Snapshot() WorkflowView {
	w.mu.Lock()
	defer w.mu.Unlock()

	txn := w.transaction
	view := WorkflowView{
		TransactionId:   txn.ID,
		BatchNumber:     txn.BatchNumber,
		SenderName:      txn.SenderName(),
		ReceiverName:    txn.ReceiverName(),
		Lines:           txn.Lines,
		Entries:         make([]ReceiptEntry, 0, len(txn.Lines)),
		AnyDiscrepancy:  ComputeAggregate(txn.Lines, w.entries).AnyDiscrepancy,
		Discrepancies:   make([]DiscrepancyView, 0, len(w.discrepancies)),
		Summary:         Summarize(w.discrepancies),
		PurposeRequired: txn.Purpose.NeedsAssignment(),
		Comment:         w.comment,
		IsComplete:      w.complete,
		IsCancelled:     w.cancelled,
		InFlight:        w.inFlight,
	}

	for _, s := range w.visibleSteps() {
		_, visited := w.visited[s.ID]
		sv := StepView{ID: s.ID, Name: s.Name, Visited: visited}
		view.Steps = append(view.Steps, sv)
		if s.ID == w.currentStep {
			view.CurrentStep = sv
			view.CanAdvance = w.guard() == nil && s.CanAdvance(w)
		}
	}
	for _, line := range txn.Lines {
		view.Entries = append(view.Entries, entryFor(line, w.entries))
	}
	for _, d := range w.discrepancies {
		dv := DiscrepancyView{Discrepancy: d, AllowedActions: AllowedActions(d)}
		if decision, ok := w.decisions[d.LineId]; ok {
			dv.Decision = &decision
		}
		view.Discrepancies = append(view.Discrepancies, dv)
	}
	if w.purpose != nil {
		p := *w.purpose
		view.Purpose = &p
	}
	if w.lastErr != nil {
		view.Error = w.lastErr.Error()
	}
	return view
}
