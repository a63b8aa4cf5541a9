package workflow

import "github.com/mmdatafocus/transfer_backend/models"

type ActionOption struct {
	Action      models.ResolutionAction `json:"action"`
	Label       string                  `json:"label"`
	Description string                  `json:"description"`
}

type ResolutionDecision struct {
	LineId  int                     `json:"line_id"`
	Action  models.ResolutionAction `json:"action"`
	Comment string                  `json:"comment"`
}

// first option of each list is the default
var (
	overActions = []ActionOption{
		{models.ResolutionActionAcceptExcess, "Accept excess", "Keep the extra quantity in stock"},
		{models.ResolutionActionReturnExcess, "Return excess", "Send the extra quantity back to the sender"},
		{models.ResolutionActionInvestigateExcess, "Investigate", "Hold the extra quantity until it is explained"},
	}
	underActions = []ActionOption{
		{models.ResolutionActionRecordShortage, "Record shortage", "Accept the shortfall as a loss"},
		{models.ResolutionActionRequestRemaining, "Request remaining", "Ask the sender to deliver the rest"},
		{models.ResolutionActionCancelShortage, "Cancel shortage", "Drop the missing quantity from the transfer"},
	}
)

func AllowedActions(d Discrepancy) []ActionOption {
	src := underActions
	if d.Kind == models.DiscrepancyKindOver {
		src = overActions
	}
	out := make([]ActionOption, len(src))
	copy(out, src)
	return out
}

func DefaultAction(d Discrepancy) models.ResolutionAction {
	return AllowedActions(d)[0].Action
}

func IsActionAllowed(d Discrepancy, action models.ResolutionAction) bool {
	if action == "" {
		return false
	}
	for _, opt := range AllowedActions(d) {
		if opt.Action == action {
			return true
		}
	}
	return false
}

// IsPlanComplete is true when every discrepancy has an allowed action chosen.
func IsPlanComplete(discrepancies []Discrepancy, decisions map[int]ResolutionDecision) bool {
	for _, d := range discrepancies {
		decision, ok := decisions[d.LineId]
		if !ok || !IsActionAllowed(d, decision.Action) {
			return false
		}
	}
	return true
}

// BuildResolutionReport pairs every discrepancy with its decision. A missing
// decision falls back to the default action.
func BuildResolutionReport(discrepancies []Discrepancy, decisions map[int]ResolutionDecision) models.ResolutionReport {
	report := models.ResolutionReport{
		Items:   make([]models.ResolutionReportItem, 0, len(discrepancies)),
		Summary: Summarize(discrepancies),
	}
	for _, d := range discrepancies {
		decision, ok := decisions[d.LineId]
		action := decision.Action
		if !ok || !IsActionAllowed(d, action) {
			action = DefaultAction(d)
		}
		report.Items = append(report.Items, models.ResolutionReportItem{
			LineId:     d.LineId,
			ItemName:   d.ItemName,
			Unit:       d.Unit,
			Expected:   d.ExpectedQuantity,
			Received:   d.ReceivedQuantity,
			Difference: d.Difference,
			Kind:       d.Kind,
			Severity:   d.Severity,
			Action:     action,
			Comment:    decision.Comment,
		})
	}
	return report
}
