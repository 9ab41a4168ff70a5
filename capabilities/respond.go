package capabilities

import (
	"context"
	"fmt"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/model"
	"github.com/als-computing/otter/prompts"
)

// Respond generates the final user-facing answer from everything the
// plan gathered. It is registered by the framework for every
// application; the prompt builder injects the application's domain
// knowledge.
type Respond struct {
	builder prompts.ResponseBuilder
}

// NewRespond constructs the capability with the application's response
// prompt builder.
func NewRespond(builder prompts.ResponseBuilder) *Respond {
	if builder == nil {
		builder = &prompts.DefaultResponseBuilder{}
	}
	return &Respond{builder: builder}
}

func (c *Respond) Name() string { return "respond" }

func (c *Respond) Description() string {
	return "Generate the final response to the user from gathered context"
}

func (c *Respond) Provides() []contexts.Type { return nil }

func (c *Respond) Requires() []contexts.Type { return nil }

func (c *Respond) Execute(ctx context.Context, exec *capability.Execution) error {
	exec.Streamer.Status("Generating response...")

	messages := c.builder.BuildMessages(exec.Task, exec.Store.All(), exec.History)
	resp, err := exec.LLM.Complete(ctx, llm.Request{
		Capability: model.CapabilityResponse,
		Messages:   messages,
	})
	if err != nil {
		return fmt.Errorf("generating response: %w", err)
	}

	exec.FinalResponse = resp.Content
	return nil
}

func (c *Respond) OrchestratorGuide() *capability.OrchestratorGuide {
	return &capability.OrchestratorGuide{
		Priority: 100,
		Instructions: "Every plan ends with a respond step. It sees all stored " +
			"contexts and the conversation history, so earlier steps only need to " +
			"gather data, not format it.",
		Examples: []capability.OrchestratorExample{
			{
				Step: capability.PlannedStep{
					ContextKey:     "final_answer",
					Capability:     "respond",
					TaskObjective:  "Answer the user using the gathered runs and analysis",
					ExpectedOutput: "response",
				},
				ScenarioDescription: "Close out any plan",
			},
		},
	}
}

func (c *Respond) ClassifierGuide() *capability.ClassifierGuide { return nil }
