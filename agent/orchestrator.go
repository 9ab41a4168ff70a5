package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/model"
	"github.com/als-computing/otter/prompts"
	"github.com/als-computing/otter/registry"
)

// PlanRequest carries everything the orchestrator needs to produce one
// plan.
type PlanRequest struct {
	Task string

	// Store holds contexts already gathered; its keys are surfaced to
	// the model so replans can reuse earlier outputs.
	Store *contexts.Store

	// ActiveCapabilities restricts the planning prompt to the guides of
	// the capabilities the classifier marked active. Empty keeps every
	// guide.
	ActiveCapabilities []string

	// FailureNote describes why a previous plan failed. Set on replans.
	FailureNote string
}

// Orchestrator turns a user task into a validated execution plan.
type Orchestrator struct {
	llm      llm.Completer
	registry *registry.Registry
	logger   *slog.Logger
}

// NewOrchestrator builds an orchestrator over the registry's
// capabilities and the application's planning prompt.
func NewOrchestrator(client llm.Completer, reg *registry.Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{llm: client, registry: reg, logger: logger}
}

// Plan produces an execution plan for the task. An empty plan from the
// model is normalized to a respond-only plan rather than treated as an
// error.
func (o *Orchestrator) Plan(ctx context.Context, req PlanRequest) (*capability.ExecutionPlan, error) {
	builder := o.registry.PromptProvider().OrchestratorBuilder()
	system := builder.BuildSystemPrompt(o.activeGuides(req.ActiveCapabilities))

	user := o.renderRequest(req)
	resp, err := o.llm.Complete(ctx, llm.Request{
		Capability: model.CapabilityOrchestrator,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("planning: model returned no JSON plan")
	}

	var plan capability.ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("planning: unparseable plan: %w", err)
	}

	if len(plan.Steps) == 0 {
		o.logger.Debug("Empty plan, responding directly")
		return RespondOnlyPlan(req.Task), nil
	}

	if err := o.validate(&plan, req.Store); err != nil {
		return nil, err
	}

	o.logger.Debug("Plan produced", "steps", len(plan.Steps), "reasoning", plan.Reasoning)
	return &plan, nil
}

// activeGuides narrows the planning guides to the capabilities the
// classifier marked active. Respond always stays in so every plan can
// finish with an answer; an empty set keeps all guides.
func (o *Orchestrator) activeGuides(active []string) []prompts.GuideEntry {
	all := o.registry.Guides()
	if len(active) == 0 {
		return all
	}
	keep := map[string]bool{"respond": true}
	for _, name := range active {
		keep[name] = true
	}
	out := make([]prompts.GuideEntry, 0, len(all))
	for _, e := range all {
		if keep[e.CapabilityName] {
			out = append(out, e)
		}
	}
	return out
}

func (o *Orchestrator) renderRequest(req PlanRequest) string {
	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(req.Task)
	sb.WriteString("\n")

	if req.Store != nil && req.Store.Len() > 0 {
		sb.WriteString("\nAlready gathered contexts (reference their keys instead of re-gathering):\n")
		for _, e := range req.Store.All() {
			fmt.Fprintf(&sb, "- %s: %s (%s)\n", e.Type, e.Key, e.Context.Summary())
		}
	}
	if req.FailureNote != "" {
		sb.WriteString("\nThe previous plan failed: ")
		sb.WriteString(req.FailureNote)
		sb.WriteString("\nProduce a corrected plan.\n")
	}
	return sb.String()
}

// UnknownCapabilityError reports a plan step naming a capability the
// registry does not have.
type UnknownCapabilityError struct {
	Capability string
}

func (e *UnknownCapabilityError) Error() string {
	return "plan references unknown capability: " + e.Capability
}

// InvalidPlanError reports a plan whose ordering leaves a step's
// required context type unprovided.
type InvalidPlanError struct {
	Step       int
	Capability string
	Missing    contexts.Type
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("plan step %d (%s) requires %s before any earlier step provides it",
		e.Step, e.Capability, e.Missing)
}

// validate checks every step names a known capability and that each
// requirement is covered by an earlier step's output or a context
// already in the store. Missing context keys get deterministic
// defaults.
func (o *Orchestrator) validate(plan *capability.ExecutionPlan, store *contexts.Store) error {
	available := make(map[contexts.Type]bool)
	if store != nil {
		for _, e := range store.All() {
			available[e.Type] = true
		}
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Capability == "" {
			return fmt.Errorf("plan step %d has no capability", i+1)
		}
		c, ok := o.registry.Capability(step.Capability)
		if !ok {
			return &UnknownCapabilityError{Capability: step.Capability}
		}
		for _, req := range c.Requires() {
			if !available[req] {
				return &InvalidPlanError{Step: i + 1, Capability: step.Capability, Missing: req}
			}
		}
		for _, prov := range c.Provides() {
			available[prov] = true
		}
		if step.ContextKey == "" {
			step.ContextKey = fmt.Sprintf("%s_%d", step.Capability, i+1)
		}
	}
	return nil
}

// RespondOnlyPlan is the single-step plan used for non-actionable
// messages and empty model plans.
func RespondOnlyPlan(task string) *capability.ExecutionPlan {
	return &capability.ExecutionPlan{
		Steps: []capability.PlannedStep{{
			ContextKey:    "final_response",
			Capability:    "respond",
			TaskObjective: task,
		}},
		Reasoning: "direct response, no data gathering needed",
	}
}
