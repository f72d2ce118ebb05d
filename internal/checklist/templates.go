package checklist

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glossworks/shopcore/model"
)

// SOPTemplateFile is the YAML shape of one SOP template definition file.
type SOPTemplateFile struct {
	ServiceType string         `yaml:"service_type"`
	Template    model.Template `yaml:"template"`
	Checksum    string         `yaml:"-"`
	SourceFile  string         `yaml:"-"`
}

// Loader scans directories for YAML template files and parses them.
type Loader struct{}

// NewLoader creates a new template Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// parses each into an SOPTemplateFile.
func (l *Loader) LoadAll(directories []string) ([]SOPTemplateFile, error) {
	var files []SOPTemplateFile

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			f, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			files = append(files, f)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return files, nil
}

// LoadFile loads and parses a single YAML template file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (SOPTemplateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SOPTemplateFile{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var f SOPTemplateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SOPTemplateFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.ServiceType == "" {
		return SOPTemplateFile{}, fmt.Errorf("parsing %s: service_type is required", path)
	}
	if f.Template.ID == "" {
		return SOPTemplateFile{}, fmt.Errorf("parsing %s: template.id is required", path)
	}
	if len(f.Template.Steps) == 0 {
		return SOPTemplateFile{}, fmt.Errorf("parsing %s: template.steps must not be empty", path)
	}
	seen := make(map[string]bool, len(f.Template.Steps))
	for _, s := range f.Template.Steps {
		if s.StepID == "" {
			return SOPTemplateFile{}, fmt.Errorf("parsing %s: step_id is required on every step", path)
		}
		if seen[s.StepID] {
			return SOPTemplateFile{}, fmt.Errorf("parsing %s: duplicate step_id %q", path, s.StepID)
		}
		seen[s.StepID] = true
	}

	f.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	f.SourceFile = path

	return f, nil
}

// snapshot is an immutable mapping of service type to SOP template.
type snapshot struct {
	templates map[string]model.Template
	checksum  string
}

// Registry is a read-optimized, thread-safe store of SOP templates keyed by
// service type. Lookup is by exact string match; a miss means no checklist
// applies to that service type — an explicit state, not an error. It uses
// atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given template files.
func NewRegistry(files []SOPTemplateFile) *Registry {
	r := &Registry{}
	r.Replace(files)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot.
func (r *Registry) Replace(files []SOPTemplateFile) {
	s := &snapshot{
		templates: make(map[string]model.Template, len(files)),
	}

	var checksumParts []string
	for _, f := range files {
		s.templates[f.ServiceType] = f.Template
		checksumParts = append(checksumParts, f.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

// SOPTemplate returns the template for the given service type, or ok=false
// when no template is registered for it.
func (r *Registry) SOPTemplate(serviceType string) (model.Template, bool) {
	s := r.snap.Load()
	tmpl, ok := s.templates[serviceType]
	return tmpl, ok
}

// ServiceTypes returns all registered service types, sorted.
func (r *Registry) ServiceTypes() []string {
	s := r.snap.Load()
	types := make([]string, 0, len(s.templates))
	for t := range s.templates {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Checksum returns the combined checksum of all loaded templates.
func (r *Registry) Checksum() string {
	return r.snap.Load().checksum
}

// EODTemplate returns the fixed daily-close template. Six steps; every step
// except the performance review is required.
func EODTemplate() model.Template {
	return model.Template{
		ID: model.EODTemplateID,
		Steps: []model.TemplateStep{
			{StepID: model.EODStepCashReconciliation, Title: "Cash Reconciliation", Description: "Count physical cash and reconcile against system totals", Required: true},
			{StepID: model.EODStepInventoryVerification, Title: "Inventory Verification", Description: "Verify chemical and consumable stock counts", Required: true},
			{StepID: model.EODStepEquipmentSecurity, Title: "Equipment & Security", Description: "Power down equipment, secure premises, set alarm", Required: true},
			{StepID: model.EODStepDailyReporting, Title: "Daily Reporting", Description: "File the daily operations report", Required: true},
			{StepID: model.EODStepStaffHandover, Title: "Staff Handover", Description: "Record handover notes for the next shift", Required: true},
			{StepID: model.EODStepPerformanceReview, Title: "Performance Review", Description: "Optional notes on team performance", Required: false},
		},
	}
}

// NewInstance builds a fresh ChecklistInstance from a template for a scope.
func NewInstance(tmpl model.Template, scopeKey string) model.ChecklistInstance {
	now := time.Now().UTC()
	steps := make([]model.ChecklistStep, 0, len(tmpl.Steps))
	for _, ts := range tmpl.Steps {
		steps = append(steps, model.ChecklistStep{
			StepID:      ts.StepID,
			Title:       ts.Title,
			Description: ts.Description,
			Required:    ts.Required,
		})
	}
	return model.ChecklistInstance{
		TemplateID: tmpl.ID,
		ScopeKey:   scopeKey,
		Steps:      steps,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
}

// Seed applies persisted step state to a fresh instance. Matching is by
// step ID, never by position, so a reordered template cannot misattribute
// completion to a different step. Persisted state for steps no longer in
// the template is dropped.
func Seed(inst model.ChecklistInstance, persisted []model.PersistedStepState) model.ChecklistInstance {
	if len(persisted) == 0 {
		return inst
	}
	byID := make(map[string]model.PersistedStepState, len(persisted))
	for _, p := range persisted {
		byID[p.StepID] = p
	}
	out := cloneInstance(inst)
	for i := range out.Steps {
		p, ok := byID[out.Steps[i].StepID]
		if !ok {
			continue
		}
		out.Steps[i].Completed = p.Completed
		if len(p.Evidence) > 0 {
			out.Steps[i].Evidence = append([]string(nil), p.Evidence...)
		}
	}
	return out
}
