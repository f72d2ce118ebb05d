package model

import "time"

// PipelineStage is a job card's position in the shop's physical workflow.
// Stages are strictly ordered; only adjacent forward transitions are legal.
type PipelineStage string

const (
	StageCheckIn        PipelineStage = "check_in"
	StageInService      PipelineStage = "in_service"
	StageQualityCheck   PipelineStage = "quality_check"
	StageReadyForPickup PipelineStage = "ready_for_pickup"
	StageBilling        PipelineStage = "billing"
	StagePaid           PipelineStage = "paid"
)

// Stages lists all pipeline stages in workflow order.
var Stages = []PipelineStage{
	StageCheckIn,
	StageInService,
	StageQualityCheck,
	StageReadyForPickup,
	StageBilling,
	StagePaid,
}

// Valid reports whether s is a known pipeline stage.
func (s PipelineStage) Valid() bool {
	for _, stage := range Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Terminal reports whether s is the terminal stage.
func (s PipelineStage) Terminal() bool {
	return s == StagePaid
}

// JobCard is the slice of the work order this core owns: its pipeline
// position and priority flag. Customer, vehicle, and billing details live
// in the shop backend.
type JobCard struct {
	ID          string        `json:"id"`
	ServiceType string        `json:"service_type"`
	Stage       PipelineStage `json:"stage"`
	// Priority reorders the card within its stage's queue. It is a hint,
	// not a stage, and never consults checklist gating.
	Priority  bool      `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// PersistedStepState is prior SOP progress for a job card, as returned by
// the shop backend. Keyed by step ID so template reordering cannot
// misattribute completion to a different step.
type PersistedStepState struct {
	StepID    string   `json:"step_id"`
	Completed bool     `json:"completed"`
	Evidence  []string `json:"evidence,omitempty"`
}
