// Package checklist implements the pure checklist model: step toggling,
// evidence attachment, derived progress, and advance gating. Nothing in
// this file touches a store or the network; every operation takes an
// instance by value and returns the updated copy.
package checklist

import (
	"math"

	"github.com/glossworks/shopcore/model"
)

// ToggleStep returns a copy of inst with the named step's completed flag set.
// Unchecking a previously completed step is supported; gating is evaluated
// by the caller at transition time, never retroactively.
func ToggleStep(inst model.ChecklistInstance, stepID string, completed bool) (model.ChecklistInstance, error) {
	idx := stepIndex(inst, stepID)
	if idx < 0 {
		return model.ChecklistInstance{}, model.NewStepNotFoundError(stepID)
	}
	out := cloneInstance(inst)
	out.Steps[idx].Completed = completed
	return out, nil
}

// SetStepData returns a copy of inst with the named step's structured
// payload replaced. Used by end-of-day steps; does not change completion.
func SetStepData(inst model.ChecklistInstance, stepID string, data map[string]any) (model.ChecklistInstance, error) {
	idx := stepIndex(inst, stepID)
	if idx < 0 {
		return model.ChecklistInstance{}, model.NewStepNotFoundError(stepID)
	}
	out := cloneInstance(inst)
	out.Steps[idx].Data = data
	return out, nil
}

// AttachEvidence returns a copy of inst with the URI appended to the named
// step's evidence list. Attaching evidence does not mark the step completed.
func AttachEvidence(inst model.ChecklistInstance, stepID, evidenceURI string) (model.ChecklistInstance, error) {
	idx := stepIndex(inst, stepID)
	if idx < 0 {
		return model.ChecklistInstance{}, model.NewStepNotFoundError(stepID)
	}
	out := cloneInstance(inst)
	out.Steps[idx].Evidence = append(out.Steps[idx].Evidence, evidenceURI)
	return out, nil
}

// ComputeProgress derives the completion summary. Percent is round-half-up
// of completed/total*100. A zero-step checklist reports 0 percent, not NaN.
func ComputeProgress(inst model.ChecklistInstance) model.Progress {
	total := len(inst.Steps)
	completed := 0
	for _, s := range inst.Steps {
		if s.Completed {
			completed++
		}
	}
	percent := 0
	if total > 0 {
		percent = int(math.Floor(float64(completed)/float64(total)*100 + 0.5))
	}
	return model.Progress{
		CompletedCount: completed,
		Total:          total,
		Percent:        percent,
	}
}

// RequiredIncomplete returns every step that is required and not completed,
// in template order.
func RequiredIncomplete(inst model.ChecklistInstance) []model.ChecklistStep {
	var out []model.ChecklistStep
	for _, s := range inst.Steps {
		if s.Required && !s.Completed {
			out = append(out, s)
		}
	}
	return out
}

// CanAdvance reports whether all required steps are completed. A checklist
// with zero steps trivially satisfies the gate.
func CanAdvance(inst model.ChecklistInstance) bool {
	return len(RequiredIncomplete(inst)) == 0
}

// StepTitles extracts titles from a step list, preserving order.
func StepTitles(steps []model.ChecklistStep) []string {
	titles := make([]string, 0, len(steps))
	for _, s := range steps {
		titles = append(titles, s.Title)
	}
	return titles
}

func stepIndex(inst model.ChecklistInstance, stepID string) int {
	for i := range inst.Steps {
		if inst.Steps[i].StepID == stepID {
			return i
		}
	}
	return -1
}

// cloneInstance deep-copies the steps so callers never share mutable slices
// with the input instance.
func cloneInstance(inst model.ChecklistInstance) model.ChecklistInstance {
	out := inst
	out.Steps = make([]model.ChecklistStep, len(inst.Steps))
	copy(out.Steps, inst.Steps)
	for i := range out.Steps {
		if len(inst.Steps[i].Evidence) > 0 {
			out.Steps[i].Evidence = append([]string(nil), inst.Steps[i].Evidence...)
		}
	}
	return out
}
