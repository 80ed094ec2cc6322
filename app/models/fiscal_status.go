package models

// FiscalStatus is the canonical local lifecycle state of a fiscal document.
// Provider statuses that do not map onto a known state are stored as
// FiscalStatusProviderDefined with the raw value kept in ProviderStatus.
type FiscalStatus string

const (
	FiscalStatusSubmitted       FiscalStatus = "submitted"
	FiscalStatusProcessing      FiscalStatus = "processing"
	FiscalStatusError           FiscalStatus = "error"
	FiscalStatusAuthorized      FiscalStatus = "authorized"
	FiscalStatusRejected        FiscalStatus = "rejected"
	FiscalStatusDenied          FiscalStatus = "denied"
	FiscalStatusProviderDefined FiscalStatus = "provider_defined"
)

var fiscalTransitions = map[FiscalStatus][]FiscalStatus{
	FiscalStatusSubmitted: {
		FiscalStatusProcessing, FiscalStatusError, FiscalStatusAuthorized,
		FiscalStatusRejected, FiscalStatusDenied, FiscalStatusProviderDefined,
	},
	FiscalStatusProcessing: {
		FiscalStatusProcessing, FiscalStatusError, FiscalStatusAuthorized,
		FiscalStatusRejected, FiscalStatusDenied, FiscalStatusProviderDefined,
	},
	FiscalStatusError: {
		FiscalStatusProcessing, FiscalStatusError, FiscalStatusAuthorized,
		FiscalStatusRejected, FiscalStatusDenied, FiscalStatusProviderDefined,
	},
	// The provider accepts a corrected resubmission under the same ref.
	FiscalStatusRejected: {
		FiscalStatusProcessing, FiscalStatusAuthorized, FiscalStatusRejected, FiscalStatusProviderDefined,
	},
	FiscalStatusAuthorized: {
		FiscalStatusAuthorized, FiscalStatusProviderDefined,
	},
	FiscalStatusDenied: {
		FiscalStatusDenied,
	},
}

// IsKnown reports whether s is one of the closed set of states.
func (s FiscalStatus) IsKnown() bool {
	switch s {
	case FiscalStatusSubmitted, FiscalStatusProcessing, FiscalStatusError, FiscalStatusAuthorized,
		FiscalStatusRejected, FiscalStatusDenied, FiscalStatusProviderDefined:
		return true
	}
	return false
}

// IsPending is true while the provider has not reported an outcome yet.
func (s FiscalStatus) IsPending() bool {
	return s == FiscalStatusSubmitted || s == FiscalStatusProcessing
}

// CanTransition reports whether a document in state from may move to state to.
// A provider-defined state can move anywhere since its meaning is unknown locally.
func CanTransition(from, to FiscalStatus) bool {
	if !to.IsKnown() {
		return false
	}
	if from == FiscalStatusProviderDefined {
		return true
	}
	for _, allowed := range fiscalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
