// Package capability defines the contract between the execution engine and
// the units of work it schedules: the Capability interface, the planning
// types the orchestrator emits, guide structures for prompt assembly, and
// error classification.
package capability

import (
	"context"

	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
)

// Capability is a unit of agent work. Implementations declare the context
// types they produce and consume; the orchestrator sequences them so that
// every requirement is satisfied by an earlier step or an existing context.
type Capability interface {
	// Name is the unique capability identifier used in execution plans.
	Name() string

	// Description is a one-line summary shown to the orchestrator and in
	// the capabilities listing.
	Description() string

	// Provides lists the context types this capability stores on success.
	Provides() []contexts.Type

	// Requires lists the context types this capability needs as inputs.
	Requires() []contexts.Type

	// Execute runs the capability for one planned step.
	Execute(ctx context.Context, exec *Execution) error
}

// ErrorClassifier is optionally implemented by capabilities that want
// their failures handled with something other than the default (retriable)
// policy.
type ErrorClassifier interface {
	ClassifyError(err error) ErrorClassification
}

// Guided is optionally implemented by capabilities that contribute
// orchestrator or classifier guidance.
type Guided interface {
	OrchestratorGuide() *OrchestratorGuide
	ClassifierGuide() *ClassifierGuide
}

// Execution is the per-step environment handed to Capability.Execute.
type Execution struct {
	// Step is the planned step being executed.
	Step *PlannedStep

	// Store holds the session's contexts.
	Store *contexts.Store

	// LLM is the completion client for capabilities that call models.
	LLM llm.Completer

	// Streamer reports progress to the user while the step runs.
	Streamer Streamer

	// Task is the original user message that produced the plan.
	Task string

	// History is the prior conversation, oldest first. Responding
	// capabilities include it in their prompts.
	History []llm.Message

	// FinalResponse receives the user-facing answer when a responding
	// capability runs. Empty for data-gathering steps.
	FinalResponse string
}

// Input resolves a required input context of the given type. When the step
// names an explicit key for the type it is used; otherwise the single
// stored key of that type is used, which covers plans that omit input
// wiring for unambiguous contexts.
func (e *Execution) Input(t contexts.Type) (contexts.Context, error) {
	for _, in := range e.Step.Inputs {
		if key, ok := in[string(t)]; ok {
			return e.Store.Get(t, key)
		}
	}
	keys := e.Store.Keys(t)
	if len(keys) == 1 {
		return e.Store.Get(t, keys[0])
	}
	return e.Store.Get(t, e.Step.ContextKey)
}

// StoreOutput stores a produced context under the step's context key,
// suffixing on collision, and returns the key used.
func (e *Execution) StoreOutput(c contexts.Context) string {
	key := e.Step.ContextKey
	if key == "" {
		key = string(c.ContextType())
	}
	key = e.Store.UniqueKey(c.ContextType(), key)
	e.Store.Put(key, c)
	return key
}

// Param returns a string step parameter with a default.
func (e *Execution) Param(name, def string) string {
	if v, ok := e.Step.Parameters[name]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// IntParam returns an integer step parameter with a default. JSON numbers
// decode as float64, so both forms are accepted.
func (e *Execution) IntParam(name string, def int) int {
	v, ok := e.Step.Parameters[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return def
}
