package checklist

import (
	"testing"

	"github.com/glossworks/shopcore/model"
)

func testInstance() model.ChecklistInstance {
	return model.ChecklistInstance{
		TemplateID: "full-detail",
		ScopeKey:   "jc-100",
		Steps: []model.ChecklistStep{
			{StepID: "prewash", Title: "Pre-wash inspection", Required: true},
			{StepID: "decon", Title: "Paint decontamination", Required: true},
			{StepID: "dressing", Title: "Trim dressing", Required: false},
		},
		Version: 1,
	}
}

func TestToggleStep_marks_completed(t *testing.T) {
	inst := testInstance()

	got, err := ToggleStep(inst, "prewash", true)
	if err != nil {
		t.Fatalf("ToggleStep error: %v", err)
	}
	if !got.Steps[0].Completed {
		t.Error("prewash should be completed")
	}
	// Input instance is untouched.
	if inst.Steps[0].Completed {
		t.Error("ToggleStep must not mutate its input")
	}
}

func TestToggleStep_unknown_step(t *testing.T) {
	_, err := ToggleStep(testInstance(), "polish", true)
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	if ee.Code != model.ErrStepNotFound {
		t.Errorf("Code = %q, want %q", ee.Code, model.ErrStepNotFound)
	}
}

func TestToggleStep_round_trip(t *testing.T) {
	inst := testInstance()

	on, err := ToggleStep(inst, "decon", true)
	if err != nil {
		t.Fatalf("ToggleStep(true) error: %v", err)
	}
	off, err := ToggleStep(on, "decon", false)
	if err != nil {
		t.Fatalf("ToggleStep(false) error: %v", err)
	}

	for i := range inst.Steps {
		if off.Steps[i].Completed != inst.Steps[i].Completed {
			t.Errorf("step %q completed = %v after round trip, want %v",
				off.Steps[i].StepID, off.Steps[i].Completed, inst.Steps[i].Completed)
		}
	}
}

func TestAttachEvidence_appends_without_completing(t *testing.T) {
	inst := testInstance()

	got, err := AttachEvidence(inst, "prewash", "https://cdn.shop/photos/1.jpg")
	if err != nil {
		t.Fatalf("AttachEvidence error: %v", err)
	}
	got, err = AttachEvidence(got, "prewash", "https://cdn.shop/photos/2.jpg")
	if err != nil {
		t.Fatalf("AttachEvidence error: %v", err)
	}

	if len(got.Steps[0].Evidence) != 2 {
		t.Fatalf("Evidence length = %d, want 2", len(got.Steps[0].Evidence))
	}
	if got.Steps[0].Evidence[0] != "https://cdn.shop/photos/1.jpg" {
		t.Errorf("Evidence[0] = %q, order must be preserved", got.Steps[0].Evidence[0])
	}
	if got.Steps[0].Completed {
		t.Error("attaching evidence must not mark the step completed")
	}
}

func TestAttachEvidence_unknown_step(t *testing.T) {
	_, err := AttachEvidence(testInstance(), "wax", "https://cdn.shop/photos/1.jpg")
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok || ee.Code != model.ErrStepNotFound {
		t.Fatalf("err = %v, want STEP_NOT_FOUND envelope", err)
	}
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		name          string
		completed     []string
		wantCompleted int
		wantPercent   int
	}{
		{"none", nil, 0, 0},
		{"one_of_three", []string{"prewash"}, 1, 33},
		{"two_of_three", []string{"prewash", "decon"}, 2, 67},
		{"all", []string{"prewash", "decon", "dressing"}, 3, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := testInstance()
			for _, id := range tt.completed {
				var err error
				inst, err = ToggleStep(inst, id, true)
				if err != nil {
					t.Fatalf("ToggleStep(%q) error: %v", id, err)
				}
			}
			p := ComputeProgress(inst)
			if p.CompletedCount != tt.wantCompleted {
				t.Errorf("CompletedCount = %d, want %d", p.CompletedCount, tt.wantCompleted)
			}
			if p.Total != 3 {
				t.Errorf("Total = %d, want 3", p.Total)
			}
			if p.Percent != tt.wantPercent {
				t.Errorf("Percent = %d, want %d", p.Percent, tt.wantPercent)
			}
		})
	}
}

func TestComputeProgress_rounds_half_up(t *testing.T) {
	// 1 of 8 = 12.5% → 13 with round-half-up.
	inst := model.ChecklistInstance{Steps: make([]model.ChecklistStep, 8)}
	for i := range inst.Steps {
		inst.Steps[i].StepID = string(rune('a' + i))
	}
	inst.Steps[0].Completed = true

	if p := ComputeProgress(inst); p.Percent != 13 {
		t.Errorf("Percent = %d, want 13", p.Percent)
	}
}

func TestComputeProgress_zero_steps(t *testing.T) {
	inst := model.ChecklistInstance{ScopeKey: "jc-empty"}
	p := ComputeProgress(inst)
	if p.Percent != 0 {
		t.Errorf("Percent = %d, want 0 for zero-step checklist", p.Percent)
	}
	if p.Total != 0 || p.CompletedCount != 0 {
		t.Errorf("Progress = %+v, want all zero", p)
	}
}

func TestRequiredIncomplete_excludes_optional_steps(t *testing.T) {
	inst := testInstance()

	got := RequiredIncomplete(inst)
	if len(got) != 2 {
		t.Fatalf("RequiredIncomplete length = %d, want 2", len(got))
	}
	for _, s := range got {
		if !s.Required {
			t.Errorf("step %q is optional and must not appear", s.StepID)
		}
	}
	// Template order preserved.
	if got[0].StepID != "prewash" || got[1].StepID != "decon" {
		t.Errorf("order = [%s %s], want [prewash decon]", got[0].StepID, got[1].StepID)
	}
}

func TestCanAdvance(t *testing.T) {
	inst := testInstance()
	if CanAdvance(inst) {
		t.Error("CanAdvance = true with required steps incomplete")
	}

	inst, _ = ToggleStep(inst, "prewash", true)
	if CanAdvance(inst) {
		t.Error("CanAdvance = true with one required step incomplete")
	}

	inst, _ = ToggleStep(inst, "decon", true)
	if !CanAdvance(inst) {
		t.Error("CanAdvance = false with all required steps complete (optional step may stay incomplete)")
	}
}

func TestCanAdvance_zero_steps(t *testing.T) {
	if !CanAdvance(model.ChecklistInstance{}) {
		t.Error("a checklist with zero steps trivially satisfies the gate")
	}
}
