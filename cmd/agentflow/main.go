// Command agentflow runs the Planning Flow orchestrator end to end: it
// loads configuration, wires a planning agent and one or more executor
// agents, each with its own LLM gateway, around a shared tool registry, restores or starts
// a session, and drives the flow to completion.
//
// Wiring style follows _examples/goadesign-goa-ai/cmd/demo/main.go's
// "construct everything in main, panic on setup error" shape; the run
// subcommand itself is cobra-based per go.mod's spf13/cobra dependency.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fudanyi/agentflow/internal/bus"
	"github.com/fudanyi/agentflow/internal/config"
	"github.com/fudanyi/agentflow/internal/flow"
	"github.com/fudanyi/agentflow/internal/llm"
	"github.com/fudanyi/agentflow/internal/llm/middleware"
	"github.com/fudanyi/agentflow/internal/memory"
	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/planmodel"
	"github.com/fudanyi/agentflow/internal/providers/anthropic"
	"github.com/fudanyi/agentflow/internal/providers/openai"
	"github.com/fudanyi/agentflow/internal/reactagent"
	"github.com/fudanyi/agentflow/internal/session"
	"github.com/fudanyi/agentflow/internal/session/filestore"
	"github.com/fudanyi/agentflow/internal/session/redisstore"
	"github.com/fudanyi/agentflow/internal/telemetry"
	"github.com/fudanyi/agentflow/internal/tools"
	"github.com/fudanyi/agentflow/internal/tools/builtin"
)

// planningSystemPrompt and planningNextStepPrompt are taken verbatim from
// extensions/agent/planner.py's Planner class attributes.
const planningSystemPrompt = "You are a friendly and efficient planning assistant. Create a concise, actionable plan with clear steps. " +
	"Do not overthink for simple tasks. " +
	"Focus on key milestones rather than detailed sub-steps. " +
	"Optimize for clarity and efficiency."

const planningNextStepPrompt = "Determine if you have enough information to create a plan for the given task. " +
	"If you do not have enough information, ask for more information only when absolutely needed. " +
	"Do not output thinking.\n\n" +
	"If you have enough information, create a plan for the given task. Ask for user confirmation after creating the plan. " +
	"If the user has no further comments, terminate this step."

// executorSystemPrompt and executorNextStepPrompt generalize
// extensions/agent/data_analyst.py's DataAnalyst class attributes to a
// general-purpose step executor.
const executorSystemPrompt = "You are a capable, tool-using assistant executing one step of a larger plan. " +
	"Use the available tools to make concrete progress on the current step, then summarize what you accomplished."

const executorNextStepPrompt = "Based on the current plan status and your current task, decide the next tool call. " +
	"When the step is complete, call terminate."

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentflow:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentflow",
		Short: "LLM-driven task orchestrator",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)
	cmd := &cobra.Command{
		Use:   "run [request]",
		Short: "Create or resume a session and drive the planning flow to completion",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := ""
			if len(args) == 1 {
				request = args[0]
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return runFlow(cmd.Context(), configPath, sessionID, request)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "agentflow.yaml", "path to agentflow.yaml")
	cmd.Flags().StringVar(&sessionID, "sid", "", "session id to create or resume (random when omitted)")
	return cmd
}

func runFlow(ctx context.Context, configPath, sessionID, request string) error {
	logger := telemetry.NewClueLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	b := bus.New(cfg.LogDir, logger)
	b.SetSessionID(sessionID)

	store, err := newSessionStore(ctx, cfg.SessionStore)
	if err != nil {
		return fmt.Errorf("construct session store: %w", err)
	}

	pt := planmodel.NewTool()
	mem := memory.New()

	hasSnapshot, err := store.Has(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	var activePlanID string
	agentSnapshots := map[string]session.AgentSnapshot{}
	if hasSnapshot {
		snap, err := store.Load(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		pt.SetPlans(snap.Plans)
		pt.SetActivePlanID(snap.ActivePlanID)
		activePlanID = snap.ActivePlanID
		mem.AddMessages(snap.Memory)
		agentSnapshots = snap.Agents
		logger.Info(ctx, "resumed session", "session_id", sessionID, "active_plan_id", activePlanID)
	}

	reader := bufio.NewReader(os.Stdin)
	registry := tools.NewRegistry()
	mustRegister(builtin.RegisterTerminate(registry, b))
	mustRegister(builtin.RegisterHumanInput(registry, reader))
	mustRegister(builtin.RegisterPlanning(registry, pt))
	mustRegister(builtin.RegisterResultReporter(registry))
	mustRegister(builtin.RegisterPythonExecute(registry))
	mustRegister(builtin.RegisterFileSaver(registry))
	mustRegister(builtin.RegisterDatasource(registry))
	mustRegister(builtin.RegisterWebSearch(registry))

	planningGW, err := buildGateway(cfg, cfg.PlanningLLM, b, logger)
	if err != nil {
		return fmt.Errorf("build planning gateway: %w", err)
	}
	executorGW, err := buildGateway(cfg, cfg.ExecutorLLM, b, logger)
	if err != nil {
		return fmt.Errorf("build executor gateway: %w", err)
	}
	finalizeGW, err := buildGateway(cfg, cfg.FinalizeLLM, b, logger, llm.WithSystemMessages(model.SystemMessage(finalizeSystemPrompt)))
	if err != nil {
		return fmt.Errorf("build finalize gateway: %w", err)
	}
	var summarizeGW *llm.Gateway
	if cfg.Flow.AutoSummarize {
		summarizeGW, err = buildGateway(cfg, cfg.SummarizeLLM, b, logger, llm.WithSystemMessages(model.SystemMessage(summarizeSystemPrompt)))
		if err != nil {
			return fmt.Errorf("build summarize gateway: %w", err)
		}
	}

	planningAgent := reactagent.New(reactagent.Config{
		Name:           "planner",
		Description:    "Planning assistant that focuses on creating a plan for a given task.",
		SystemPrompt:   planningSystemPrompt,
		NextStepPrompt: planningNextStepPrompt,
		MaxSteps:       cfg.Flow.PlanningMaxSteps,
		MaxObserve:     cfg.Flow.MaxObserve,
		AllowedTools:   []string{"terminate", "human_input", "planning"},
	}, planningGW, registry, mem, b, logger)
	restoreAgentState(planningAgent, agentSnapshots["planner"])

	executor := reactagent.New(reactagent.Config{
		Name:                   "executor",
		Description:            "General-purpose step executor.",
		SystemPrompt:           executorSystemPrompt,
		NextStepPrompt:         executorNextStepPrompt,
		MaxSteps:               cfg.Flow.ExecutorMaxSteps,
		MaxObserve:             cfg.Flow.MaxObserve,
		MaxConsecutiveFailures: cfg.Flow.MaxConsecutiveFailures,
		AllowedTools:           []string{"terminate", "human_input", "python_execute", "file_saver", "datasource", "web_search"},
	}, executorGW, registry, mem, b, logger)
	restoreAgentState(executor, agentSnapshots["executor"])

	var f *flow.Flow
	checkpoint := func() {
		snap := session.Snapshot{
			SessionID:        sessionID,
			ActivePlanID:     f.ActivePlanID(),
			CurrentStepIndex: f.CurrentStepIndex(),
			Plans:            pt.Plans(),
			Memory:           mem.Messages(),
			Agents: map[string]session.AgentSnapshot{
				"planner":  {State: planningAgent.State()},
				"executor": {State: executor.State()},
			},
		}
		if err := store.Save(ctx, snap); err != nil {
			logger.Error(ctx, "failed to save session snapshot", "session_id", sessionID, "error", err.Error())
		}
	}

	f = flow.New(flow.Config{
		PlanningAgent:    planningAgent,
		Executors:        map[string]*reactagent.Agent{"default": executor},
		ExecutorKeys:     []string{"default"},
		PlanningTool:     pt,
		Memory:           mem,
		FinalizeGateway:  finalizeGW,
		SummarizeGateway: summarizeGW,
		AutoSummarize:    cfg.Flow.AutoSummarize,
		Registry:         registry,
		Bus:              b,
		Logger:           logger,
		ActivePlanID:     activePlanID,
		Budget:           time.Duration(cfg.Flow.BudgetSeconds) * time.Second,
		FinalizerGrace:   time.Duration(cfg.Flow.FinalizerGraceSeconds) * time.Second,
		OnCheckpoint:     checkpoint,
	})

	result, err := f.Execute(ctx, request)
	checkpoint()
	if err != nil {
		b.Print(bus.TypeMainError, err.Error(), nil)
		return err
	}
	b.Print(bus.TypeMainCompleted, result, nil)
	fmt.Println(result)
	return nil
}

const finalizeSystemPrompt = "You are a summarize assistant. Your task is to summarize previous messages into a concise " +
	"summary including deliverables, valuable insights, potential next steps and any final thoughts."

// summarizeSystemPrompt mirrors internal/flow's unexported constant of the
// same name and content (flow_prompt.py's SUMMARY_SYSTEM_MESSAGE); duplicated
// here because the Gateway's system prompt is attached at construction time
// in main, before a *flow.Flow exists to reuse it from.
const summarizeSystemPrompt = "You are a information extraction assistant."

func restoreAgentState(a *reactagent.Agent, snap session.AgentSnapshot) {
	if snap.State == "" {
		return
	}
	a.RestoreState(snap.State)
}

func mustRegister(err error) {
	if err != nil {
		panic(fmt.Errorf("agentflow: tool registration failed: %w", err))
	}
}

func buildGateway(cfg *config.Config, providerName string, b *bus.Bus, logger telemetry.Logger, extra ...llm.Option) (*llm.Gateway, error) {
	pc, ok := cfg.Providers[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
	apiKey, err := pc.APIKey()
	if err != nil {
		return nil, err
	}

	var client model.Client
	switch pc.Kind {
	case "anthropic":
		c, err := anthropic.NewFromAPIKey(apiKey)
		if err != nil {
			return nil, err
		}
		client = c
	case "openai":
		c, err := openai.NewFromAPIKey(apiKey)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", pc.Kind)
	}

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewAdaptiveRateLimiter(cfg.RateLimit.InitialTPM, cfg.RateLimit.MaxTPM)
		client = limiter.Middleware()(client)
	}

	opts := []llm.Option{
		llm.WithMaxInputTokens(pc.MaxInputTokens),
		llm.WithSupportsImages(pc.SupportsImages),
		llm.WithTemperature(pc.Temperature),
		llm.WithMaxTokens(pc.MaxTokens),
		llm.WithBus(b),
		llm.WithLogger(logger),
	}
	opts = append(opts, extra...)
	return llm.New(client, pc.Model, opts...), nil
}

func newSessionStore(ctx context.Context, cfg config.SessionStoreConfig) (session.Store, error) {
	switch cfg.Backend {
	case "redis":
		return redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
	case "file", "":
		return filestore.New(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}
