// Package flow implements the Planning Flow (SPEC_FULL.md §4.7): the
// top-level controller that creates a plan, steps an executor agent through
// each plan step, and finalizes with a deliverables summary.
//
// Grounded bit-for-bit on
// _examples/original_source/app/flow/planning.py's PlanningFlow.execute/
// _create_initial_plan/_get_current_step_info/_execute_step/
// _mark_step_completed/_get_plan_text/_finalize_plan, with the wall-clock
// budget handling structurally grounded on
// _examples/goadesign-goa-ai/runtime/agent/runtime/workflow_loop.go's
// runDeadlines (Budget/Hard/FinalizerGrace, pause, shouldFinalize).
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fudanyi/agentflow/internal/bus"
	"github.com/fudanyi/agentflow/internal/llm"
	"github.com/fudanyi/agentflow/internal/memory"
	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/planmodel"
	"github.com/fudanyi/agentflow/internal/reactagent"
	"github.com/fudanyi/agentflow/internal/telemetry"
	"github.com/fudanyi/agentflow/internal/tools"
)

// runDeadlines bounds the flow's total wall-clock execution: Budget governs
// soft work (more plan steps), Hard is the absolute stop including
// FinalizerGrace reserved for _finalize_plan. Adapted from workflow_loop.go's
// runDeadlines; this orchestrator has no operator-response pause source, so
// only the constructor-time budget is ever paused against (e.g. by a caller
// who grants the flow more time after a human-in-the-loop pause).
type runDeadlines struct {
	Budget         time.Time
	Hard           time.Time
	FinalizerGrace time.Duration
}

func newRunDeadlines(budget time.Duration, finalizerGrace time.Duration) runDeadlines {
	if budget <= 0 {
		return runDeadlines{}
	}
	now := time.Now()
	if finalizerGrace <= 0 {
		finalizerGrace = 2 * time.Minute
	}
	return runDeadlines{
		Budget:         now.Add(budget),
		Hard:           now.Add(budget + finalizerGrace),
		FinalizerGrace: finalizerGrace,
	}
}

func (d runDeadlines) finalizeReserve() time.Duration {
	if d.FinalizerGrace > 0 {
		return d.FinalizerGrace
	}
	return 2 * time.Minute
}

// pause extends both deadlines by delta, used when the flow is suspended
// awaiting a human_input response so the wall clock doesn't burn down while
// nobody is working.
func (d *runDeadlines) pause(delta time.Duration) {
	if !d.Budget.IsZero() {
		d.Budget = d.Budget.Add(delta)
	}
	if !d.Hard.IsZero() {
		d.Hard = d.Hard.Add(delta)
	}
}

// shouldFinalize reports whether only FinalizerGrace remains before the hard
// deadline, meaning the flow should stop taking new steps and finalize now.
func (d runDeadlines) shouldFinalize(now time.Time) bool {
	if d.Hard.IsZero() {
		return false
	}
	return d.Hard.Sub(now) <= d.finalizeReserve()
}

// Config configures a Flow.
type Config struct {
	// PlanningAgent runs _create_initial_plan.
	PlanningAgent *reactagent.Agent
	// Executors maps a plan step's section type to the agent that should
	// execute it; ExecutorKeys lists the fallback order when a step's type
	// has no entry, per get_executor.
	Executors    map[string]*reactagent.Agent
	ExecutorKeys []string
	// PlanningTool is the shared plan registry the planning agent's
	// "planning" tool writes to and the flow reads from.
	PlanningTool *planmodel.Tool
	// Memory is the flow-level conversation memory, shared with every
	// executor agent per step (matching executor.memory = self.memory).
	Memory *memory.Memory
	// FinalizeGateway issues the _finalize_plan summarization call.
	FinalizeGateway *llm.Gateway
	// SummarizeGateway issues the _summarize_messages call (SPEC_FULL.md
	// §4.9); nil disables auto-summarization regardless of AutoSummarize.
	SummarizeGateway *llm.Gateway
	// AutoSummarize enables running summarizeMemory before every non-first
	// step, opt-in like RateLimitConfig.Enabled.
	AutoSummarize bool
	// Registry is consulted to decide which tool results are eligible to
	// survive summarization (Descriptor.PreserveOnSummarize).
	Registry *tools.Registry
	Bus      *bus.Bus
	Logger   telemetry.Logger

	// ActivePlanID seeds the plan id before a plan exists; when it is empty
	// and the planning tool reports no current plan after plan creation, a
	// plan_<unix-seconds>-shaped id is generated by createInitialPlan.
	ActivePlanID string

	// Budget and FinalizerGrace configure the wall-clock deadline (zero
	// Budget disables the deadline entirely, matching Non-goals scope
	// that doesn't demand always-on enforcement for short-lived runs).
	Budget         time.Duration
	FinalizerGrace time.Duration

	// OnCheckpoint is called after every step completes (and once right
	// after plan creation), wiring to internal/session's save-on-every-step
	// discipline (SPEC_FULL.md §4.11).
	OnCheckpoint func()
}

// Flow is the Planning Flow controller.
type Flow struct {
	cfg       Config
	deadlines runDeadlines

	activePlanID     string
	currentStepIndex int
}

// New constructs a Flow.
func New(cfg Config) *Flow {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	return &Flow{
		cfg:              cfg,
		deadlines:        newRunDeadlines(cfg.Budget, cfg.FinalizerGrace),
		activePlanID:     cfg.ActivePlanID,
		currentStepIndex: -1,
	}
}

// ActivePlanID returns the flow's current plan pointer.
func (f *Flow) ActivePlanID() string { return f.activePlanID }

// CurrentStepIndex returns the global step index last started by Execute,
// or -1 before any step has run. Used by callers checkpointing the flow's
// state between steps.
func (f *Flow) CurrentStepIndex() int { return f.currentStepIndex }

// Pause extends the flow's wall-clock budget, used when execution suspends
// for a human_input round trip.
func (f *Flow) Pause(delta time.Duration) { f.deadlines.pause(delta) }

// Execute runs the planning flow end to end: resuming the active plan when it
// still has a step that is not completed (inputText, when non-empty, is then
// appended to memory as a user message), otherwise creating a plan from
// inputText (when non-empty), stepping through every plan step with the appropriate
// executor, and finalizing with a deliverables summary once every step is
// done or the wall-clock budget is exhausted.
func (f *Flow) Execute(ctx context.Context, inputText string) (string, error) {
	if len(f.cfg.Executors) == 0 {
		return "", fmt.Errorf("flow: no executor agents configured")
	}

	resuming := false
	if f.activePlanID != "" {
		if _, _, ok := f.getCurrentStepInfo(); ok {
			resuming = true
		}
	}
	if resuming {
		if inputText != "" {
			f.cfg.Memory.Add(model.UserMessage(inputText))
		}
	} else if inputText != "" {
		if err := f.createInitialPlan(ctx, inputText); err != nil {
			return fmt.Sprintf("Failed to create plan for: %s", inputText), nil
		}
		if _, err := f.cfg.PlanningTool.Get(f.activePlanID); err != nil {
			f.cfg.Logger.Error(ctx, "flow: plan creation failed", "plan_id", f.activePlanID, "error", err.Error())
			return fmt.Sprintf("Failed to create plan for: %s", inputText), nil
		}
	}

	if f.cfg.OnCheckpoint != nil {
		f.cfg.OnCheckpoint()
	}

	var result string
	for {
		if f.deadlines.shouldFinalize(time.Now()) {
			break
		}

		idx, info, ok := f.getCurrentStepInfo()
		if !ok {
			break
		}
		f.currentStepIndex = idx

		plan, _ := f.cfg.PlanningTool.Get(f.activePlanID)
		total := 0
		if plan != nil {
			total = plan.TotalSteps()
		}
		if f.cfg.Bus != nil {
			f.cfg.Bus.Print(bus.TypeLiveStatus, fmt.Sprintf("executing plan step %d/%d", idx+1, total), nil)
		}

		if shouldSummarizeBeforeStep(f.cfg.AutoSummarize, idx) {
			f.summarizeMemory(ctx)
		}

		executor := f.getExecutor(info.Type)
		stepResult, err := f.executeStep(ctx, executor, info)
		if err != nil {
			stepResult = fmt.Sprintf("Error executing step %d: %s", idx, err)
		}
		result += stepResult + "\n"

		if f.cfg.Bus != nil {
			f.cfg.Bus.Print(bus.TypeLiveStatus, fmt.Sprintf("completed plan step %d/%d", idx+1, total), nil)
		}

		if executor.State() == reactagent.StateFinished || executor.State() == reactagent.StateBlocked {
			break
		}
		if f.cfg.OnCheckpoint != nil {
			f.cfg.OnCheckpoint()
		}
	}

	summary, err := f.finalizePlan(ctx)
	if err != nil {
		return result, err
	}

	if f.cfg.Bus != nil {
		f.cfg.Bus.Print(bus.TypeLiveStatus, "plan completed", nil)
	}
	return result + summary, nil
}

// getExecutor picks an agent for step_type, falling back through
// ExecutorKeys and finally any configured executor (map order, so which one
// is not fixed), per get_executor.
func (f *Flow) getExecutor(stepType string) *reactagent.Agent {
	if stepType != "" {
		if a, ok := f.cfg.Executors[stepType]; ok {
			return a
		}
	}
	for _, key := range f.cfg.ExecutorKeys {
		if a, ok := f.cfg.Executors[key]; ok {
			return a
		}
	}
	for _, a := range f.cfg.Executors {
		return a
	}
	return nil
}

func (f *Flow) createInitialPlan(ctx context.Context, request string) error {
	_, _, err := f.cfg.PlanningAgent.Run(ctx, request)
	if err != nil {
		return err
	}
	if id := f.cfg.PlanningTool.CurrentPlanID(); id != "" {
		f.activePlanID = id
	} else if f.activePlanID == "" {
		f.activePlanID = fmt.Sprintf("plan_%d", time.Now().Unix())
	}
	if f.cfg.Bus != nil {
		f.cfg.Bus.Print(bus.TypeLiveStatus, "plan created", nil)
	}
	return nil
}

// getCurrentStepInfo wraps planmodel.CurrentStepInfo against the flow's
// active plan, per _get_current_step_info.
func (f *Flow) getCurrentStepInfo() (int, *planmodel.StepInfo, bool) {
	plan, err := f.cfg.PlanningTool.Get(f.activePlanID)
	if err != nil {
		return 0, nil, false
	}
	info, ok := planmodel.CurrentStepInfo(plan)
	if !ok {
		return 0, nil, false
	}
	return info.Index, &info, true
}

// executeStep runs executor.Run with a prompt containing the current plan
// status and the step text, then marks the step blocked when the executor
// ends in StateBlocked and completed otherwise, matching _execute_step.
func (f *Flow) executeStep(ctx context.Context, executor *reactagent.Agent, info *planmodel.StepInfo) (string, error) {
	planStatus := f.getPlanText()
	prompt := fmt.Sprintf(
		"CURRENT PLAN STATUS:\n%s\nYOUR CURRENT TASK:\nYou are now working on step %d: %q\n\nPlease execute this step using the appropriate tools. When you're done, provide a summary of what you accomplished.",
		planStatus, info.Index, info.Step,
	)

	result, state, err := executor.Run(ctx, prompt)
	if err != nil {
		return "", err
	}
	if state == reactagent.StateBlocked {
		blocked := planmodel.StatusBlocked
		if _, err := f.cfg.PlanningTool.MarkStep(f.activePlanID, f.currentStepIndex, &blocked, nil); err != nil {
			f.cfg.Logger.Warn(ctx, "flow: failed to mark step blocked", "step", f.currentStepIndex, "error", err.Error())
		}
		return result, nil
	}
	f.markStepCompleted()
	return result, nil
}

func (f *Flow) markStepCompleted() {
	if f.currentStepIndex < 0 {
		return
	}
	completed := planmodel.StatusCompleted
	if _, err := f.cfg.PlanningTool.MarkStep(f.activePlanID, f.currentStepIndex, &completed, nil); err != nil {
		f.cfg.Logger.Warn(context.Background(), "flow: failed to mark step completed", "step", f.currentStepIndex, "error", err.Error())
	}
}

func (f *Flow) getPlanText() string {
	plan, err := f.cfg.PlanningTool.Get(f.activePlanID)
	if err != nil {
		return fmt.Sprintf("Error: plan %q not found", f.activePlanID)
	}
	return planmodel.Format(plan)
}

const finalizeSystemPrompt = "You are a summarize assistant. Your task is to summarize previous messages into a concise " +
	"summary including deliverables, valuable insights, potential next steps and any final thoughts."

const finalizeUserPrompt = "Please summarize previous messages into a concise summary including deliverables, valuable " +
	"insights, potential next steps and any final thoughts. Then always use result_reporter to report deliverables. " +
	"But do not mention the tool in your summary."

// finalizePlan asks the finalize gateway to summarize the run and, when the
// model reports deliverables via the result_reporter tool, emits a
// finalResult bus envelope, matching _finalize_plan.
func (f *Flow) finalizePlan(ctx context.Context) (string, error) {
	messages := append([]model.Message{}, f.cfg.Memory.Messages()...)
	messages = append(messages, model.UserMessage(finalizeUserPrompt))

	resultReporter := model.ToolDefinition{
		Name:        "result_reporter",
		Description: "Reports deliverables produced during this run.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action":       map[string]any{"type": "string", "enum": []any{"report_deliverables"}},
				"deliverables": map[string]any{"type": "array"},
			},
			"required": []any{"action", "deliverables"},
		},
	}

	f.cfg.FinalizeGateway = withSystemPrompt(f.cfg.FinalizeGateway)
	resp, err := f.cfg.FinalizeGateway.AskTool(ctx, messages, []model.ToolDefinition{resultReporter}, model.ToolChoiceAuto)
	if err != nil {
		f.cfg.Logger.Error(ctx, "flow: finalize LLM call failed", "error", err.Error())
		return "Plan completed. Error generating summary.", nil
	}

	for _, tc := range resp.ToolCalls {
		if tc.Function.Name != "result_reporter" {
			continue
		}
		var args struct {
			Deliverables []map[string]any `json:"deliverables"`
		}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			continue
		}
		if len(args.Deliverables) == 0 {
			continue
		}
		if f.cfg.Bus != nil {
			f.cfg.Bus.Print(bus.TypeFinalResult, resp.Content, map[string]any{"deliverables": args.Deliverables})
		}
		return resp.Content, nil
	}
	return "Plan completed. No deliverables found in response.", nil
}

// withSystemPrompt is a no-op passthrough placeholder: the finalize system
// prompt is attached to the Gateway at construction time via
// llm.WithSystemMessages(model.SystemMessage(finalizeSystemPrompt)), not
// here. Kept as a named seam so callers constructing the finalize Gateway
// can see where that wiring point is documented.
func withSystemPrompt(g *llm.Gateway) *llm.Gateway { return g }
