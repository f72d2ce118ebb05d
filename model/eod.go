package model

// End-of-day checklist step identifiers, in template order.
const (
	EODStepCashReconciliation    = "cash_reconciliation"
	EODStepInventoryVerification = "inventory_verification"
	EODStepEquipmentSecurity     = "equipment_security"
	EODStepDailyReporting        = "daily_reporting"
	EODStepStaffHandover         = "staff_handover"
	EODStepPerformanceReview     = "performance_review"
)

// EODTemplateID identifies the fixed daily-close template.
const EODTemplateID = "daily-close"

// EODStepResult is returned after an end-of-day step completes. Variance is
// derived for the cash reconciliation step and is informational only — it
// never blocks completion.
type EODStepResult struct {
	Instance ChecklistInstance `json:"instance"`
	Progress Progress          `json:"progress"`
	// Variance is physicalCash - systemCash. Only set for the cash
	// reconciliation step; nil otherwise.
	Variance *float64 `json:"variance,omitempty"`
}
