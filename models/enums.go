package models

type PartyType string

const (
	PartyTypeWarehouse PartyType = "WAREHOUSE"
	PartyTypeEquipment PartyType = "EQUIPMENT"
	PartyTypeSite      PartyType = "SITE"
)

func (t PartyType) IsValid() bool {
	switch t {
	case PartyTypeWarehouse, PartyTypeEquipment, PartyTypeSite:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "PENDING"
	TransactionStatusAccepted TransactionStatus = "ACCEPTED"
	TransactionStatusRejected TransactionStatus = "REJECTED"
)

func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusAccepted, TransactionStatusRejected:
		return true
	}
	return false
}

// TransactionPurpose is the declared usage of the items in a transaction.
// An empty purpose is allowed on a pending transaction and means "not decided yet".
type TransactionPurpose string

const (
	TransactionPurposeGeneral     TransactionPurpose = "GENERAL"
	TransactionPurposeConsumable  TransactionPurpose = "CONSUMABLE"
	TransactionPurposeMaintenance TransactionPurpose = "MAINTENANCE"
)

func (p TransactionPurpose) IsValid() bool {
	switch p {
	case TransactionPurposeGeneral, TransactionPurposeConsumable, TransactionPurposeMaintenance:
		return true
	}
	return false
}

// NeedsAssignment reports whether the receiver has to pick a purpose on acceptance.
func (p TransactionPurpose) NeedsAssignment() bool {
	return p == "" || p == TransactionPurposeGeneral
}

type MaintenanceLinkMode string

const (
	MaintenanceLinkNone     MaintenanceLinkMode = "NONE"
	MaintenanceLinkExisting MaintenanceLinkMode = "EXISTING"
	MaintenanceLinkCreate   MaintenanceLinkMode = "CREATE"
)

func (m MaintenanceLinkMode) IsValid() bool {
	switch m {
	case MaintenanceLinkNone, MaintenanceLinkExisting, MaintenanceLinkCreate:
		return true
	}
	return false
}

type MaintenanceStatus string

const (
	MaintenanceStatusOpen   MaintenanceStatus = "OPEN"
	MaintenanceStatusClosed MaintenanceStatus = "CLOSED"
)

type DiscrepancyKind string

const (
	DiscrepancyKindOver  DiscrepancyKind = "OVER"
	DiscrepancyKindUnder DiscrepancyKind = "UNDER"
)

type DiscrepancySeverity string

const (
	DiscrepancySeverityLow  DiscrepancySeverity = "LOW"
	DiscrepancySeverityHigh DiscrepancySeverity = "HIGH"
)

type ResolutionAction string

const (
	ResolutionActionAcceptExcess      ResolutionAction = "ACCEPT_EXCESS"
	ResolutionActionReturnExcess      ResolutionAction = "RETURN_EXCESS"
	ResolutionActionInvestigateExcess ResolutionAction = "INVESTIGATE_EXCESS"
	ResolutionActionRecordShortage    ResolutionAction = "RECORD_SHORTAGE"
	ResolutionActionRequestRemaining  ResolutionAction = "REQUEST_REMAINING"
	ResolutionActionCancelShortage    ResolutionAction = "CANCEL_SHORTAGE"
)

// Kind returns the discrepancy kind an action belongs to.
func (a ResolutionAction) Kind() (DiscrepancyKind, bool) {
	switch a {
	case ResolutionActionAcceptExcess, ResolutionActionReturnExcess, ResolutionActionInvestigateExcess:
		return DiscrepancyKindOver, true
	case ResolutionActionRecordShortage, ResolutionActionRequestRemaining, ResolutionActionCancelShortage:
		return DiscrepancyKindUnder, true
	}
	return "", false
}

type OutboxReferenceType string

const (
	OutboxReferenceTypeTransactionAccepted OutboxReferenceType = "TA"
)

type OutboxAction string

const (
	OutboxActionCreate OutboxAction = "C"
)
