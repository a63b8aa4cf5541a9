package workflow

type StepID int

const (
	StepReview StepID = iota + 1
	StepAssignPurpose
	StepVerifyQuantities
	StepResolveDiscrepancies
	StepFinalReview
)

func (s StepID) String() string {
	if d, ok := stepByID(s); ok {
		return d.Name
	}
	return "Unknown"
}

// StepDescriptor predicates are evaluated with the workflow lock held.
type StepDescriptor struct {
	ID         StepID
	Name       string
	IsVisible  func(w *AcceptanceWorkflow) bool
	CanAdvance func(w *AcceptanceWorkflow) bool
	// blocked explains why CanAdvance is false
	blocked func(w *AcceptanceWorkflow) *ValidationError
}

func always(*AcceptanceWorkflow) bool { return true }

// acceptanceSteps is ordered by ID.
var acceptanceSteps = []StepDescriptor{
	{
		ID:         StepReview,
		Name:       "Review",
		IsVisible:  always,
		CanAdvance: always,
	},
	{
		ID:   StepAssignPurpose,
		Name: "AssignPurpose",
		IsVisible: func(w *AcceptanceWorkflow) bool {
			return w.transaction.Purpose.NeedsAssignment()
		},
		CanAdvance: func(w *AcceptanceWorkflow) bool {
			return isPurposeAssignmentComplete(w.purpose)
		},
		blocked: func(w *AcceptanceWorkflow) *ValidationError {
			if w.purpose == nil || w.purpose.Purpose == "" {
				return &ValidationError{Field: "purpose", Message: "select a purpose"}
			}
			return &ValidationError{Field: "maintenance", Message: "select or create a maintenance record"}
		},
	},
	{
		ID:         StepVerifyQuantities,
		Name:       "VerifyQuantities",
		IsVisible:  always,
		CanAdvance: always,
	},
	{
		ID:   StepResolveDiscrepancies,
		Name: "ResolveDiscrepancies",
		IsVisible: func(w *AcceptanceWorkflow) bool {
			return ComputeAggregate(w.transaction.Lines, w.entries).AnyDiscrepancy
		},
		CanAdvance: func(w *AcceptanceWorkflow) bool {
			return IsPlanComplete(w.discrepancies, w.decisions)
		},
		blocked: func(w *AcceptanceWorkflow) *ValidationError {
			return &ValidationError{Field: "resolution", Message: "choose a resolution for every discrepancy"}
		},
	},
	{
		ID:         StepFinalReview,
		Name:       "FinalReview",
		IsVisible:  always,
		CanAdvance: always,
	},
}

func stepByID(id StepID) (StepDescriptor, bool) {
	for _, s := range acceptanceSteps {
		if s.ID == id {
			return s, true
		}
	}
	return StepDescriptor{}, false
}

func (w *AcceptanceWorkflow) visibleSteps() []StepDescriptor {
	out := make([]StepDescriptor, 0, len(acceptanceSteps))
	for _, s := range acceptanceSteps {
		if s.IsVisible(w) {
			out = append(out, s)
		}
	}
	return out
}

// nextVisible is the lowest visible step after id.
func (w *AcceptanceWorkflow) nextVisible(id StepID) (StepID, bool) {
	for _, s := range acceptanceSteps {
		if s.ID > id && s.IsVisible(w) {
			return s.ID, true
		}
	}
	return 0, false
}

// previousVisible is the highest visible step before id.
func (w *AcceptanceWorkflow) previousVisible(id StepID) (StepID, bool) {
	for i := len(acceptanceSteps) - 1; i >= 0; i-- {
		s := acceptanceSteps[i]
		if s.ID < id && s.IsVisible(w) {
			return s.ID, true
		}
	}
	return 0, false
}
