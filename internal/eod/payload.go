package eod

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/glossworks/shopcore/model"
)

// validateStepPayload enforces each end-of-day step's payload contract.
// It returns the normalized payload to record on the step, the computed
// cash variance when the step is the reconciliation, and a typed error on
// contract violation.
func validateStepPayload(stepID string, data map[string]any) (map[string]any, *float64, error) {
	switch stepID {
	case model.EODStepCashReconciliation:
		return validateCashReconciliation(data)
	case model.EODStepInventoryVerification:
		if err := requireBool(stepID, data, "countsVerified"); err != nil {
			return nil, nil, err
		}
		return data, nil, nil
	case model.EODStepEquipmentSecurity:
		for _, field := range []string{"equipmentOff", "premisesSecured", "alarmSet"} {
			if err := requireBool(stepID, data, field); err != nil {
				return nil, nil, err
			}
		}
		return data, nil, nil
	case model.EODStepDailyReporting:
		if err := requireString(stepID, data, "reportRef"); err != nil {
			return nil, nil, err
		}
		return data, nil, nil
	case model.EODStepStaffHandover:
		if err := requireString(stepID, data, "handoverNotes"); err != nil {
			return nil, nil, err
		}
		return data, nil, nil
	case model.EODStepPerformanceReview:
		// Free-form notes, nothing to enforce.
		return data, nil, nil
	default:
		return nil, nil, model.NewStepNotFoundError(stepID)
	}
}

func validateCashReconciliation(data map[string]any) (map[string]any, *float64, error) {
	physical, err := numericField(model.EODStepCashReconciliation, data, "physicalCash")
	if err != nil {
		return nil, nil, err
	}
	system, err := numericField(model.EODStepCashReconciliation, data, "systemCash")
	if err != nil {
		return nil, nil, err
	}

	// Variance is informational: managers record discrepancies, the
	// checklist never blocks on them.
	variance := physical - system

	normalized := make(map[string]any, len(data)+1)
	for k, v := range data {
		normalized[k] = v
	}
	normalized["physicalCash"] = physical
	normalized["systemCash"] = system
	normalized["variance"] = variance
	return normalized, &variance, nil
}

// numericField accepts JSON numbers and numeric strings. Point-of-sale
// exports routinely quote their amounts.
func numericField(stepID string, data map[string]any, field string) (float64, error) {
	raw, ok := data[field]
	if !ok || raw == nil {
		return 0, model.NewInvalidStepPayloadError(stepID, []model.FieldError{
			{Field: field, Code: "required", Message: field + " is required"},
		})
	}

	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err == nil {
			return f, nil
		}
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, model.NewInvalidStepPayloadError(stepID, []model.FieldError{
		{Field: field, Code: "invalid", Message: field + " must be a number"},
	})
}

func requireBool(stepID string, data map[string]any, field string) error {
	raw, ok := data[field]
	if !ok {
		return model.NewInvalidStepPayloadError(stepID, []model.FieldError{
			{Field: field, Code: "required", Message: field + " is required"},
		})
	}
	b, ok := raw.(bool)
	if !ok {
		return model.NewInvalidStepPayloadError(stepID, []model.FieldError{
			{Field: field, Code: "invalid", Message: field + " must be a boolean"},
		})
	}
	if !b {
		return model.NewInvalidStepPayloadError(stepID, []model.FieldError{
			{Field: field, Code: "must_be_true", Message: field + " must be confirmed"},
		})
	}
	return nil
}

func requireString(stepID string, data map[string]any, field string) error {
	raw, ok := data[field]
	if !ok {
		return model.NewInvalidStepPayloadError(stepID, []model.FieldError{
			{Field: field, Code: "required", Message: field + " is required"},
		})
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return model.NewInvalidStepPayloadError(stepID, []model.FieldError{
			{Field: field, Code: "required", Message: field + " must not be empty"},
		})
	}
	return nil
}
