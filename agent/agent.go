package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/registry"
)

// Agent is the full message pipeline: classification, planning,
// execution, response.
type Agent struct {
	classifier   *TaskClassifier
	orchestrator *Orchestrator
	executor     *Executor
	logger       *slog.Logger
}

// New assembles an agent from the registry and a completion client.
// Extra executor options, such as a step observer, are appended after
// the planner wiring.
func New(reg *registry.Registry, client llm.Completer, logger *slog.Logger, opts ...ExecutorOption) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	orchestrator := NewOrchestrator(client, reg, logger)
	executorOpts := append([]ExecutorOption{WithPlanner(orchestrator)}, opts...)
	return &Agent{
		classifier:   NewTaskClassifier(client, reg.ClassifierGuides()),
		orchestrator: orchestrator,
		executor:     NewExecutor(client, reg, logger, executorOpts...),
		logger:       logger,
	}
}

// Executor exposes the executor for callers that manage plans
// themselves.
func (a *Agent) Executor() *Executor { return a.executor }

// HandleMessage runs one user message through the pipeline and returns
// the result. Non-actionable messages skip planning and go straight to
// respond.
func (a *Agent) HandleMessage(ctx context.Context, task string, history []llm.Message, streamer capability.Streamer) (*Result, error) {
	if streamer == nil {
		streamer = capability.NopStreamer
	}

	classification := a.classifier.Classify(ctx, task)
	a.logger.Debug("Task classified",
		"actionable", classification.Actionable,
		"active", classification.ActiveCapabilities,
		"reason", classification.Reason)

	var plan *capability.ExecutionPlan
	if classification.Actionable {
		streamer.Status("Planning...")
		var err error
		active := classification.ActiveCapabilities
		plan, err = a.orchestrator.Plan(ctx, PlanRequest{Task: task, ActiveCapabilities: active})

		// A plan that names an unknown capability or mis-orders its
		// steps gets one corrected attempt before the failure stands.
		var unknown *UnknownCapabilityError
		var invalid *InvalidPlanError
		if errors.As(err, &unknown) || errors.As(err, &invalid) {
			a.logger.Warn("Plan rejected, replanning", "error", err)
			plan, err = a.orchestrator.Plan(ctx, PlanRequest{
				Task:               task,
				ActiveCapabilities: active,
				FailureNote:        err.Error(),
			})
		}
		if err != nil {
			return nil, err
		}
	} else {
		plan = RespondOnlyPlan(task)
	}

	return a.executor.Execute(ctx, plan, task, history, streamer)
}
