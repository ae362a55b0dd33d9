// Package opportunity owns the opportunity lifecycle: creation, analysis,
// the confidence-gated decision, user confirmation and expiry.
package opportunity

import "github.com/irfndi/tradepilot/internal/models"

var transitions = map[models.OpportunityStatus][]models.OpportunityStatus{
	models.OpportunityStatusNew: {
		models.OpportunityStatusUnderAnalysis,
		models.OpportunityStatusExpired,
	},
	models.OpportunityStatusUnderAnalysis: {
		models.OpportunityStatusAnalyzed,
		models.OpportunityStatusAnalysisFailed,
	},
	models.OpportunityStatusAnalysisFailed: {
		models.OpportunityStatusUnderAnalysis,
		models.OpportunityStatusExpired,
	},
	models.OpportunityStatusAnalyzed: {
		models.OpportunityStatusPendingUserConfirmationReal,
		models.OpportunityStatusConverted,
		models.OpportunityStatusRejected,
		models.OpportunityStatusExpired,
	},
	models.OpportunityStatusPendingUserConfirmationReal: {
		models.OpportunityStatusConfirmed,
		models.OpportunityStatusRejected,
		models.OpportunityStatusExpired,
	},
	models.OpportunityStatusConfirmed: {
		models.OpportunityStatusConverted,
		models.OpportunityStatusRejected,
	},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to models.OpportunityStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// expirable lists the states ExpireStale sweeps.
var expirable = []models.OpportunityStatus{
	models.OpportunityStatusNew,
	models.OpportunityStatusAnalyzed,
	models.OpportunityStatusPendingUserConfirmationReal,
}
