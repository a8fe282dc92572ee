// Package planmodel implements the Planning Tool: CRUD over the in-memory
// plan registry (SPEC_FULL.md §4.6), grounded bit-for-bit on
// _examples/original_source/app/tool/planning.py's PlanningTool.
package planmodel

import (
	"fmt"
	"strings"

	"github.com/fudanyi/agentflow/internal/toolerrors"
)

// StepStatus is the lifecycle state of a single plan step.
type StepStatus string

const (
	StatusNotStarted StepStatus = "not_started"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusBlocked    StepStatus = "blocked"
)

// validStatuses enumerates the allowed StepStatus values for mark_step
// validation.
var validStatuses = map[StepStatus]bool{
	StatusNotStarted: true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusBlocked:    true,
}

// statusGlyph renders the glyph used by _format_plan per §4.6.
func statusGlyph(s StepStatus) string {
	switch s {
	case StatusInProgress:
		return "[→]"
	case StatusCompleted:
		return "[✓]"
	case StatusBlocked:
		return "[!]"
	default:
		return "[ ]"
	}
}

// Section is one titled group of steps within a Plan. Types is a parallel
// array to Steps giving each step's section type, used by the flow to
// select an executor (SPEC_FULL.md §4.7).
type Section struct {
	Title string
	Steps []string
	Types []string
}

// Plan is the full plan data model per SPEC_FULL.md §3.
type Plan struct {
	PlanID       string
	Title        string
	Sections     []Section
	StepStatuses []StepStatus
	StepNotes    []string
}

// TotalSteps returns the sum of all section step counts.
func (p *Plan) TotalSteps() int {
	n := 0
	for _, s := range p.Sections {
		n += len(s.Steps)
	}
	return n
}

// StepInfo describes a single global step, as returned by
// Tool.CurrentStepInfo.
type StepInfo struct {
	Index        int
	SectionTitle string
	Step         string
	Status       StepStatus
	Type         string
}

// flatten returns every (sectionTitle, step, stepType) triple in global step
// order.
func (p *Plan) flatten() []struct {
	sectionTitle, step, stepType string
} {
	var out []struct{ sectionTitle, step, stepType string }
	for _, sec := range p.Sections {
		for i, step := range sec.Steps {
			typ := ""
			if i < len(sec.Types) {
				typ = sec.Types[i]
			}
			out = append(out, struct{ sectionTitle, step, stepType string }{sec.Title, step, typ})
		}
	}
	return out
}

// Tool is the Planning Tool: an in-memory registry of plans plus an active
// plan pointer. Per SPEC_FULL.md §9, the registry and the pointer are kept
// as two separate fields and never derived from one another.
type Tool struct {
	plans         map[string]*Plan
	activePlanID  string
	// currentPlanID records the most recently created/updated plan id for
	// the planning agent's own bookkeeping (app/tool/planning.py's
	// _current_plan_id), independent of the flow's active pointer.
	currentPlanID string
}

// NewTool constructs an empty Planning Tool.
func NewTool() *Tool {
	return &Tool{plans: make(map[string]*Plan)}
}

// Plans exposes the full registry, e.g. for session snapshotting.
func (t *Tool) Plans() map[string]*Plan { return t.plans }

// SetPlans replaces the registry wholesale, used when restoring a session
// snapshot (SPEC_FULL.md §4.11).
func (t *Tool) SetPlans(plans map[string]*Plan) { t.plans = plans }

// ActivePlanID returns the flow's active plan pointer.
func (t *Tool) ActivePlanID() string { return t.activePlanID }

// SetActivePlanID sets the active pointer without validating the id exists,
// used when restoring a session snapshot.
func (t *Tool) SetActivePlanID(id string) { t.activePlanID = id }

// CurrentPlanID returns the planning agent's own current-plan bookkeeping
// pointer (distinct from the flow's active pointer; see §4.8).
func (t *Tool) CurrentPlanID() string { return t.currentPlanID }

// Create validates and registers a new plan. Duplicate plan_id is an error.
func (t *Tool) Create(planID, title string, sections []Section) (*Plan, error) {
	if planID == "" {
		return nil, toolerrors.WithKind(toolerrors.KindInvalidArgument, "plan_id is required")
	}
	if _, exists := t.plans[planID]; exists {
		return nil, toolerrors.WithKind(toolerrors.KindDuplicate, fmt.Sprintf("a plan with id '%s' already exists", planID))
	}
	if err := validateSections(sections); err != nil {
		return nil, err
	}

	plan := &Plan{PlanID: planID, Title: title, Sections: sections}
	total := plan.TotalSteps()
	plan.StepStatuses = make([]StepStatus, total)
	plan.StepNotes = make([]string, total)
	for i := range plan.StepStatuses {
		plan.StepStatuses[i] = StatusNotStarted
	}

	t.plans[planID] = plan
	t.activePlanID = planID
	t.currentPlanID = planID
	return plan, nil
}

// Update replaces a plan's title and/or sections, preserving step status
// and notes by step-text identity (SPEC_FULL.md §3 invariant).
func (t *Tool) Update(planID string, title *string, sections []Section) (*Plan, error) {
	plan, ok := t.plans[planID]
	if !ok {
		return nil, toolerrors.WithKind(toolerrors.KindNotFound, fmt.Sprintf("no plan found with id '%s'", planID))
	}
	if sections != nil {
		if err := validateSections(sections); err != nil {
			return nil, err
		}
	}

	if title != nil {
		plan.Title = *title
	}
	if sections == nil {
		return plan, nil
	}

	// Build old_step_map: step text -> index, from the plan's current flat
	// step list, matching app/tool/planning.py's _update_plan.
	oldFlat := plan.flatten()
	oldStepMap := make(map[string]int, len(oldFlat))
	for i, s := range oldFlat {
		oldStepMap[s.step] = i
	}

	newTotal := 0
	for _, sec := range sections {
		newTotal += len(sec.Steps)
	}
	newStatuses := make([]StepStatus, newTotal)
	newNotes := make([]string, newTotal)

	idx := 0
	for _, sec := range sections {
		for _, step := range sec.Steps {
			if oldIdx, found := oldStepMap[step]; found && oldIdx < len(plan.StepStatuses) {
				newStatuses[idx] = plan.StepStatuses[oldIdx]
				newNotes[idx] = plan.StepNotes[oldIdx]
			} else {
				newStatuses[idx] = StatusNotStarted
				newNotes[idx] = ""
			}
			idx++
		}
	}

	plan.Sections = sections
	plan.StepStatuses = newStatuses
	plan.StepNotes = newNotes
	t.currentPlanID = planID
	return plan, nil
}

// Get returns the plan for planID, or the active plan when planID is empty.
func (t *Tool) Get(planID string) (*Plan, error) {
	if planID == "" {
		planID = t.activePlanID
	}
	if planID == "" {
		return nil, toolerrors.WithKind(toolerrors.KindNotFound, "no active plan")
	}
	plan, ok := t.plans[planID]
	if !ok {
		return nil, toolerrors.WithKind(toolerrors.KindNotFound, fmt.Sprintf("no plan found with id '%s'", planID))
	}
	return plan, nil
}

// CurrentStepInfo returns the first non-completed global step of the given
// plan, or (StepInfo{}, false) when every step is completed.
func CurrentStepInfo(plan *Plan) (StepInfo, bool) {
	flat := plan.flatten()
	for i, s := range flat {
		if i >= len(plan.StepStatuses) {
			break
		}
		if plan.StepStatuses[i] != StatusCompleted {
			return StepInfo{
				Index:        i,
				SectionTitle: s.sectionTitle,
				Step:         s.step,
				Status:       plan.StepStatuses[i],
				Type:         s.stepType,
			}, true
		}
	}
	return StepInfo{}, false
}

// MarkStep updates a step's status and/or notes in place, bounds-checking
// the index.
func (t *Tool) MarkStep(planID string, stepIndex int, status *StepStatus, notes *string) (*Plan, error) {
	plan, err := t.Get(planID)
	if err != nil {
		return nil, err
	}
	total := plan.TotalSteps()
	if stepIndex < 0 || stepIndex >= total {
		return nil, toolerrors.WithKind(toolerrors.KindOutOfRange,
			fmt.Sprintf("step_index %d out of range for plan with %d steps", stepIndex, total))
	}
	if status != nil {
		if !validStatuses[*status] {
			return nil, toolerrors.WithKind(toolerrors.KindInvalidArgument,
				fmt.Sprintf("invalid status '%s'", *status))
		}
		plan.StepStatuses[stepIndex] = *status
	}
	if notes != nil {
		plan.StepNotes[stepIndex] = *notes
	}
	return plan, nil
}

// List returns every registered plan id in no particular order.
func (t *Tool) List() []string {
	out := make([]string, 0, len(t.plans))
	for id := range t.plans {
		out = append(out, id)
	}
	return out
}

// SetActive sets the active plan pointer, failing if the plan doesn't exist.
func (t *Tool) SetActive(planID string) error {
	if _, ok := t.plans[planID]; !ok {
		return toolerrors.WithKind(toolerrors.KindNotFound, fmt.Sprintf("no plan found with id '%s'", planID))
	}
	t.activePlanID = planID
	return nil
}

// Delete removes a plan from the registry, clearing the active pointer if
// it referenced the deleted plan.
func (t *Tool) Delete(planID string) error {
	if _, ok := t.plans[planID]; !ok {
		return toolerrors.WithKind(toolerrors.KindNotFound, fmt.Sprintf("no plan found with id '%s'", planID))
	}
	delete(t.plans, planID)
	if t.activePlanID == planID {
		t.activePlanID = ""
	}
	return nil
}

// Format renders the plan as the canonical text report: title, progress
// percentage, and per-section step lines with status glyphs.
func Format(plan *Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s (ID: %s)\n", plan.Title, plan.PlanID)
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	total := plan.TotalSteps()
	completed := 0
	for _, s := range plan.StepStatuses {
		if s == StatusCompleted {
			completed++
		}
	}
	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	fmt.Fprintf(&b, "Progress: %d/%d steps completed (%.1f%%)\n\n", completed, total, pct)

	idx := 0
	for _, sec := range plan.Sections {
		fmt.Fprintf(&b, "%s:\n", sec.Title)
		for _, step := range sec.Steps {
			status := StatusNotStarted
			notes := ""
			if idx < len(plan.StepStatuses) {
				status = plan.StepStatuses[idx]
				notes = plan.StepNotes[idx]
			}
			fmt.Fprintf(&b, "  %d. %s %s", idx, statusGlyph(status), step)
			if notes != "" {
				fmt.Fprintf(&b, " (%s)", notes)
			}
			b.WriteString("\n")
			idx++
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func validateSections(sections []Section) error {
	if len(sections) == 0 {
		return toolerrors.WithKind(toolerrors.KindInvalidArgument, "sections must be a non-empty list")
	}
	for i, sec := range sections {
		if sec.Title == "" {
			return toolerrors.WithKind(toolerrors.KindInvalidArgument, fmt.Sprintf("section %d missing title", i))
		}
		if len(sec.Steps) == 0 {
			return toolerrors.WithKind(toolerrors.KindInvalidArgument, fmt.Sprintf("section '%s' has no steps", sec.Title))
		}
		if sec.Types != nil && len(sec.Types) != len(sec.Steps) {
			return toolerrors.WithKind(toolerrors.KindInvalidArgument,
				fmt.Sprintf("section '%s': types length must match steps length", sec.Title))
		}
		for j, step := range sec.Steps {
			if strings.TrimSpace(step) == "" {
				return toolerrors.WithKind(toolerrors.KindInvalidArgument,
					fmt.Sprintf("section '%s' step %d is empty", sec.Title, j))
			}
		}
	}
	return nil
}
