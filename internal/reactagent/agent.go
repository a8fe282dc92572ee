// Package reactagent implements the ReAct Tool-Calling Agent (SPEC_FULL.md
// §4.5): a think/act loop that asks the LLM Gateway for the next action,
// executes any requested tools, and folds the observation back into memory
// until a special tool or the step budget ends the run.
//
// Grounded bit-for-bit on
// _examples/original_source/app/agent/toolcall.py's ToolCallAgent.think/act/
// execute_tool/_handle_special_tool, with the per-run consecutive-failure
// counter structurally grounded on tarsy's
// pkg/agent/controller/react.go IterationState (RecordFailure/RecordSuccess/
// ShouldAbortOnTimeouts), generalized here to "blocked after N consecutive
// tool failures" per SPEC_FULL.md §9 Open Question 2.
package reactagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fudanyi/agentflow/internal/bus"
	"github.com/fudanyi/agentflow/internal/llm"
	"github.com/fudanyi/agentflow/internal/memory"
	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/telemetry"
	"github.com/fudanyi/agentflow/internal/tools"
	"github.com/fudanyi/agentflow/internal/toolpolicy"
)

// State is the agent's run state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateBlocked  State = "blocked"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

func looksLikeImagePath(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Config configures an Agent.
type Config struct {
	Name           string
	Description    string
	SystemPrompt   string
	NextStepPrompt string
	ToolChoice     model.ToolChoiceMode
	// MaxSteps bounds how many think/act iterations Run performs before
	// giving up, matching ToolCallAgent.max_steps (default 30).
	MaxSteps int
	// MaxObserve truncates a tool observation's length before it is stored
	// in memory, matching ToolCallAgent.max_observe. Zero disables
	// truncation.
	MaxObserve int
	// MaxConsecutiveFailures bounds how many tool executions may fail in a
	// row before the agent gives up and moves to StateBlocked, resolving
	// SPEC_FULL.md §9 Open Question 2. Zero defaults to 2.
	MaxConsecutiveFailures int
	// AllowedTools restricts the agent to a named subset of the shared
	// Registry, matching how Planner and DataAnalyst each declare their
	// own available_tools collection over the same tool implementations.
	// Empty means no restriction.
	AllowedTools []string
}

// Agent is a single ReAct tool-calling agent instance bound to one Gateway,
// Registry, and Memory.
type Agent struct {
	cfg     Config
	gateway *llm.Gateway
	tools   *tools.Registry
	policy  *toolpolicy.Policy
	mem     *memory.Memory
	bus     *bus.Bus
	logger  telemetry.Logger

	state               State
	pendingCalls        []model.ToolCall
	currentBase64Image  string
	consecutiveFailures int
	steps               int
}

// New constructs an Agent. bus and logger may be nil.
func New(cfg Config, gateway *llm.Gateway, registry *tools.Registry, mem *memory.Memory, b *bus.Bus, logger telemetry.Logger) *Agent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 30
	}
	if cfg.ToolChoice == "" {
		cfg.ToolChoice = model.ToolChoiceAuto
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 2
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Agent{
		cfg:     cfg,
		gateway: gateway,
		tools:   registry,
		policy:  toolpolicy.New(cfg.AllowedTools...),
		mem:     mem,
		bus:     b,
		logger:  logger,
		state:   StateIdle,
	}
}

// State returns the agent's current run state.
func (a *Agent) State() State { return a.state }

// RestoreState sets the agent's state directly, used when resuming a run
// from a saved session snapshot (mirrors session.py restoring
// agent.state/agent.current_step from the saved dict).
func (a *Agent) RestoreState(s State) { a.state = s }

// Run drives the think/act loop on a user request until a special tool
// finishes the run, the step budget is exhausted, or consecutive tool
// failures reach MaxConsecutiveFailures. The step and failure counters start
// from zero on every call. It returns the final observation text and the
// terminal state.
func (a *Agent) Run(ctx context.Context, request string) (string, State, error) {
	if request != "" {
		a.mem.Add(model.UserMessage(request))
	}
	a.state = StateRunning
	a.steps = 0
	a.consecutiveFailures = 0

	var lastResult string
	for a.steps < a.cfg.MaxSteps && a.state == StateRunning {
		a.steps++
		result, err := a.step(ctx)
		if err != nil {
			return lastResult, a.state, err
		}
		lastResult = result
		if a.consecutiveFailures >= a.cfg.MaxConsecutiveFailures {
			a.state = StateBlocked
		}
	}
	if a.state == StateRunning {
		// Step budget exhausted without a special tool finishing the run.
		a.state = StateFinished
	}
	return lastResult, a.state, nil
}

func (a *Agent) step(ctx context.Context) (string, error) {
	active, err := a.think(ctx)
	if err != nil {
		return "", err
	}
	if !active {
		return "Thinking complete - no action needed", nil
	}
	return a.act(ctx)
}

// think asks the gateway for the next action, choosing AskToolWithImage over
// AskTool when the most recent tool observation was python_execute output
// referencing image files, per toolcall.py's last_message inspection.
func (a *Agent) think(ctx context.Context) (bool, error) {
	if a.cfg.NextStepPrompt != "" {
		a.mem.Add(model.UserMessage(a.cfg.NextStepPrompt))
	}
	if a.bus != nil {
		a.bus.Print(bus.TypeLiveStatus, fmt.Sprintf("%s is thinking...", a.cfg.Name), nil)
	}

	messages := a.mem.Messages()
	toolDefs := a.policy.Filter(toolDefinitions(a.tools))

	var resp *model.Response
	var err error
	if images, ok := a.pendingImageObservation(); ok {
		resp, err = a.gateway.AskToolWithImage(ctx, messages, images, toolDefs, a.cfg.ToolChoice)
	} else {
		resp, err = a.gateway.AskTool(ctx, messages, toolDefs, a.cfg.ToolChoice)
	}
	if err != nil {
		a.mem.Add(model.AssistantMessage(fmt.Sprintf("Maximum token limit reached, cannot continue execution: %s", err)))
		a.state = StateFinished
		return false, nil
	}

	a.pendingCalls = resp.ToolCalls
	content := resp.Content

	switch a.cfg.ToolChoice {
	case model.ToolChoiceNone:
		if content != "" {
			a.mem.Add(model.AssistantMessage(content))
			return true, nil
		}
		return false, nil
	}

	var assistantMsg model.Message
	if len(a.pendingCalls) > 0 {
		assistantMsg = model.AssistantToolCallMessage(content, a.pendingCalls)
	} else {
		assistantMsg = model.AssistantMessage(content)
	}
	a.mem.Add(assistantMsg)

	if a.cfg.ToolChoice == model.ToolChoiceRequired && len(a.pendingCalls) == 0 {
		return true, nil
	}
	if a.cfg.ToolChoice == model.ToolChoiceAuto && len(a.pendingCalls) == 0 {
		return content != "", nil
	}
	return len(a.pendingCalls) > 0, nil
}

// pendingImageObservation inspects the last stored message, skipping the
// NextStepPrompt that think() has just appended: if it is a tool observation
// from python_execute whose JSON result lists image paths in output_files,
// those images are returned so think() can route through the image-aware
// ask call.
func (a *Agent) pendingImageObservation() ([]model.Image, bool) {
	msgs := a.mem.Messages()
	i := len(msgs) - 1
	if i >= 0 && a.cfg.NextStepPrompt != "" && msgs[i].Role == model.RoleUser && msgs[i].Text() == a.cfg.NextStepPrompt {
		i--
	}
	if i < 0 || msgs[i].Role != model.RoleTool || msgs[i].Name != "python_execute" {
		return nil, false
	}
	text := msgs[i].Text()
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, false
	}
	var parsed struct {
		OutputFiles []string `json:"output_files"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, false
	}
	var images []model.Image
	for _, f := range parsed.OutputFiles {
		if !looksLikeImagePath(f) {
			continue
		}
		img, err := loadImage(f)
		if err != nil {
			a.logger.Warn(context.Background(), "reactagent: failed to load image observation", "file", f, "error", err.Error())
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, false
	}
	return images, true
}

// act executes every tool call requested in the last think(), folding each
// observation into memory in order, and returns their joined text.
func (a *Agent) act(ctx context.Context) (string, error) {
	if len(a.pendingCalls) == 0 {
		if a.cfg.ToolChoice == model.ToolChoiceRequired {
			return "", fmt.Errorf("Tool calls required but none provided")
		}
		if last, ok := a.mem.Last(); ok && last.Text() != "" {
			return last.Text(), nil
		}
		return "No content or commands to execute", nil
	}

	var results []string
	for _, call := range a.pendingCalls {
		a.currentBase64Image = ""

		if a.bus != nil {
			a.bus.Print(bus.TypeLiveStatus, fmt.Sprintf("executing '%s'...", call.Function.Name), nil)
		}

		observation := a.executeTool(ctx, call)

		if a.bus != nil {
			a.bus.Print(bus.TypeLiveStatus, fmt.Sprintf("completed '%s'...", call.Function.Name), nil)
		}

		if a.cfg.MaxObserve > 0 && len(observation) > a.cfg.MaxObserve {
			observation = observation[:a.cfg.MaxObserve]
		}

		a.mem.Add(model.ToolMessage(call.ID, call.Function.Name, observation, a.currentBase64Image))
		results = append(results, observation)
	}
	a.pendingCalls = nil
	return strings.Join(results, "\n\n"), nil
}

// executeTool runs a single tool call with the same error-shaping as
// execute_tool: unknown tools, malformed arguments, and execution errors all
// become an "Error: ..." observation string rather than aborting the run.
func (a *Agent) executeTool(ctx context.Context, call model.ToolCall) string {
	name := call.Function.Name
	if name == "" {
		return "Error: Invalid command format"
	}
	if !a.tools.Has(name) {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
	if !a.policy.IsAllowed(name) {
		return fmt.Sprintf("Error: tool '%s' is not available to this agent", name)
	}

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			a.recordFailure()
			return fmt.Sprintf("Error parsing arguments for %s: Invalid JSON format", name)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	if a.bus != nil {
		a.bus.Print(bus.TypeExecute, fmt.Sprintf("activating tool '%s'...", name), map[string]any{
			"status": "executing", "id": call.ID, "name": name, "arguments": args,
		})
	}

	result, err := a.tools.Execute(ctx, name, args)
	if err != nil {
		a.recordFailure()
		msg := fmt.Sprintf("Tool '%s' encountered a problem: %s", name, err)
		if a.bus != nil {
			a.bus.Print(bus.TypeExecute, "error executing tool "+name, map[string]any{
				"status": "error", "id": call.ID, "name": name, "result": msg,
			})
		}
		return "Error: " + msg
	}

	a.handleSpecialTool(name, result)
	if result.Error != "" {
		a.recordFailure()
	} else {
		a.consecutiveFailures = 0
	}

	if a.bus != nil {
		a.bus.Print(bus.TypeExecute, fmt.Sprintf("tool '%s' completed", name), map[string]any{
			"status": "completed", "id": call.ID, "name": name, "result": result,
			"base64_image": result.Base64Image,
		})
	}

	if result.Base64Image != "" {
		a.currentBase64Image = result.Base64Image
	}

	observation := result.String()
	if observation == "" {
		return fmt.Sprintf("Cmd `%s` completed with no output", name)
	}
	return fmt.Sprintf("Observed output of cmd `%s` executed:\n%s", name, observation)
}

func (a *Agent) recordFailure() {
	a.consecutiveFailures++
}

// handleSpecialTool ends the run when a special tool (e.g. terminate)
// completes, per _handle_special_tool.
func (a *Agent) handleSpecialTool(name string, result tools.Result) {
	if !a.tools.IsSpecial(name) {
		return
	}
	if result.Error != "" {
		return
	}
	a.state = StateFinished
}

func toolDefinitions(r *tools.Registry) []model.ToolDefinition {
	descs := r.Definitions()
	out := make([]model.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		out = append(out, model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.ParameterSchema,
		})
	}
	return out
}

func loadImage(path string) (model.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Image{}, err
	}
	return model.Image{
		MediaType: mediaTypeForExt(filepath.Ext(path)),
		Base64:    base64.StdEncoding.EncodeToString(data),
		Detail:    "high",
	}, nil
}

func mediaTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
