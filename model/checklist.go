package model

import "time"

// ChecklistStep is a single verification step within a checklist template.
type ChecklistStep struct {
	StepID      string   `json:"step_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Completed   bool     `json:"completed"`
	// Evidence holds attachment URIs (photos) in the order they were added.
	Evidence []string `json:"evidence,omitempty"`
	// Data holds the structured payload recorded when the step was
	// completed. Used by end-of-day steps; nil for plain SOP steps.
	Data map[string]any `json:"data,omitempty"`
}

// ChecklistInstance is a live checklist bound to a real-world scope: a job
// card (SOP) or a business date (end-of-day). Step order is significant —
// it is the template's display order, not completion order.
type ChecklistInstance struct {
	TemplateID string          `json:"template_id"`
	ScopeKey   string          `json:"scope_key"`
	Steps      []ChecklistStep `json:"steps"`

	// Finalization is only meaningful for end-of-day instances. Once set,
	// the instance is terminal and no further step mutation is permitted.
	Finalized   bool       `json:"finalized"`
	FinalizedBy string     `json:"finalized_by,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Progress is the derived completion summary of a checklist. It is always
// recomputed from the steps, never stored.
type Progress struct {
	CompletedCount int `json:"completed_count"`
	Total          int `json:"total"`
	Percent        int `json:"percent"`
}

// Template is an ordered list of step definitions for one checklist kind.
type Template struct {
	ID    string         `yaml:"id" json:"id"`
	Steps []TemplateStep `yaml:"steps" json:"steps"`
}

// TemplateStep defines one step of a Template.
type TemplateStep struct {
	StepID      string `yaml:"step_id" json:"step_id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description,omitempty"`
	Required    bool   `yaml:"required" json:"required"`
}
