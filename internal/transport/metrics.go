package transport

import (
	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/model"
)

// domainMetrics is a nil-safe view over the optional metrics instruments so
// handlers can record domain events without checking for a nil registry.
type domainMetrics struct {
	m *observability.Metrics
}

func (d domainMetrics) stepCompletion(checklist, action string) {
	if d.m != nil {
		d.m.RecordStepCompletion(checklist, action)
	}
}

func (d domainMetrics) photoAttachment() {
	if d.m != nil {
		d.m.RecordPhotoAttachment()
	}
}

func (d domainMetrics) eodFinalization() {
	if d.m != nil {
		d.m.RecordEODFinalization()
	}
}

func (d domainMetrics) gateDenial(gate string) {
	if d.m != nil {
		d.m.RecordGateDenial(gate)
	}
}

func (d domainMetrics) stageAdvance(from, to model.PipelineStage) {
	if d.m != nil {
		d.m.RecordStageAdvance(string(from), string(to))
	}
}

func (d domainMetrics) illegalTransition() {
	if d.m != nil {
		d.m.RecordIllegalTransition()
	}
}

func (d domainMetrics) clockOut(outcome string) {
	if d.m != nil {
		d.m.RecordClockOut(outcome)
	}
}
