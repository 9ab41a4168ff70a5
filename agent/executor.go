package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/registry"
)

const (
	// defaultMaxStepRetries bounds retriable step retries.
	defaultMaxStepRetries = 2

	// defaultRetryDelay is the base backoff between step retries; the
	// delay doubles per attempt.
	defaultRetryDelay = 2 * time.Second
)

// Planner produces execution plans. Satisfied by *Orchestrator; a
// non-nil planner enables one replan when a step fails with replanning
// severity or a plan names an unknown capability.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*capability.ExecutionPlan, error)
}

// StepObserver receives the outcome of every executed step. Satisfied by
// the metrics package.
type StepObserver interface {
	ObserveStep(capability, outcome string, duration time.Duration)
}

// Result is the outcome of executing a plan.
type Result struct {
	// Response is the user-facing answer from the respond step.
	Response string

	// Store holds every context the plan gathered.
	Store *contexts.Store

	StepsRun  int
	Replanned bool
}

// StepFailedError is a terminal step failure carrying the classification
// whose UserMessage is shown to the user.
type StepFailedError struct {
	Step           string
	Classification capability.ErrorClassification
	Err            error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepFailedError) Unwrap() error { return e.Err }

// Executor runs execution plans step by step.
type Executor struct {
	llm      llm.Completer
	registry *registry.Registry
	planner  Planner
	observer StepObserver
	logger   *slog.Logger

	maxStepRetries int
	retryDelay     time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPlanner enables replanning through the given planner.
func WithPlanner(p Planner) ExecutorOption {
	return func(e *Executor) { e.planner = p }
}

// WithStepObserver reports step outcomes to the given observer.
func WithStepObserver(o StepObserver) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithStepRetries overrides how many times a retriable step is retried.
func WithStepRetries(n int) ExecutorOption {
	return func(e *Executor) { e.maxStepRetries = n }
}

// WithRetryDelay overrides the base delay between step retries.
func WithRetryDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.retryDelay = d }
}

// NewExecutor builds an executor over the registry's capabilities.
func NewExecutor(client llm.Completer, reg *registry.Registry, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		llm:            client,
		registry:       reg,
		logger:         logger,
		maxStepRetries: defaultMaxStepRetries,
		retryDelay:     defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the plan against a fresh context store. On a replanning
// failure it asks the planner for a corrected plan once, carrying over
// the contexts gathered so far.
func (e *Executor) Execute(ctx context.Context, plan *capability.ExecutionPlan, task string, history []llm.Message, streamer capability.Streamer) (*Result, error) {
	if streamer == nil {
		streamer = capability.NopStreamer
	}
	store := contexts.NewStore()
	result := &Result{Store: store}

	for attempt := 0; ; attempt++ {
		failureNote, err := e.runPlan(ctx, plan, task, history, store, streamer, result)
		if err == nil {
			return result, nil
		}

		// One replan, then the failure stands.
		var replan *replanRequestError
		if !errors.As(err, &replan) || e.planner == nil || attempt > 0 {
			return result, err
		}

		e.logger.Info("Replanning after step failure", "reason", failureNote)
		streamer.Status("Revising plan...")
		newPlan, planErr := e.planner.Plan(ctx, PlanRequest{
			Task:        task,
			Store:       store,
			FailureNote: failureNote,
		})
		if planErr != nil {
			return result, fmt.Errorf("replanning failed: %w", planErr)
		}
		plan = newPlan
		result.Replanned = true
	}
}

// replanRequestError signals the executor loop to ask for a new plan.
type replanRequestError struct {
	err error
}

func (e *replanRequestError) Error() string { return e.err.Error() }
func (e *replanRequestError) Unwrap() error { return e.err }

func (e *Executor) runPlan(ctx context.Context, plan *capability.ExecutionPlan, task string, history []llm.Message, store *contexts.Store, streamer capability.Streamer, result *Result) (string, error) {
	for i := range plan.Steps {
		step := &plan.Steps[i]

		cap, ok := e.registry.Capability(step.Capability)
		if !ok {
			err := &UnknownCapabilityError{Capability: step.Capability}
			return err.Error(), &replanRequestError{err: err}
		}

		e.logger.Debug("Executing step", "step", step.String(), "index", i+1, "total", len(plan.Steps))
		exec := &capability.Execution{
			Step:     step,
			Store:    store,
			LLM:      e.llm,
			Streamer: streamer,
			Task:     task,
			History:  history,
		}

		started := time.Now()
		if err := e.runStep(ctx, cap, exec); err != nil {
			classification := capability.Classify(cap, err)
			e.observeStep(step.Capability, string(classification.Severity), started)
			e.logger.Error("Step failed",
				"step", step.String(),
				"severity", classification.Severity,
				"error", classification.TechnicalDetails)

			switch classification.Severity {
			case capability.SeverityReplanning:
				return classification.TechnicalDetails, &replanRequestError{err: err}
			default:
				return "", &StepFailedError{Step: step.Capability, Classification: classification, Err: err}
			}
		}

		e.observeStep(step.Capability, "success", started)
		result.StepsRun++
		if exec.FinalResponse != "" {
			result.Response = exec.FinalResponse
		}
	}

	if result.Response == "" {
		return "", fmt.Errorf("plan finished without producing a response")
	}
	return "", nil
}

func (e *Executor) observeStep(capName, outcome string, started time.Time) {
	if e.observer != nil {
		e.observer.ObserveStep(capName, outcome, time.Since(started))
	}
}

// runStep executes one step, retrying retriable failures with doubling
// backoff.
func (e *Executor) runStep(ctx context.Context, cap capability.Capability, exec *capability.Execution) error {
	var lastErr error
	delay := e.retryDelay

	for attempt := 0; attempt <= e.maxStepRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("Retrying step",
				"capability", cap.Name(),
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := cap.Execute(ctx, exec)
		if err == nil {
			return nil
		}
		lastErr = err

		if capability.Classify(cap, err).Severity != capability.SeverityRetriable {
			return err
		}
	}
	return lastErr
}
