package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
)

// maxContextChars caps how much of a single context is rendered into the
// prompt before truncation.
const maxContextChars = 24000

var defaultProvider Provider = &DefaultProvider{}

// DefaultProvider supplies the framework's generic prompt builders.
type DefaultProvider struct{}

func (p *DefaultProvider) ApplicationName() string { return "default" }

func (p *DefaultProvider) OrchestratorBuilder() OrchestratorBuilder {
	return &DefaultOrchestratorBuilder{}
}

func (p *DefaultProvider) ResponseBuilder() ResponseBuilder {
	return &DefaultResponseBuilder{}
}

// DefaultOrchestratorBuilder renders the generic planning prompt.
type DefaultOrchestratorBuilder struct {
	// Preamble, when set, replaces the generic role statement at the top
	// of the prompt.
	Preamble string
}

func (b *DefaultOrchestratorBuilder) BuildSystemPrompt(guides []GuideEntry) string {
	var sb strings.Builder

	preamble := b.Preamble
	if preamble == "" {
		preamble = "You are an execution planner. Given a user task, produce an " +
			"ordered plan of capability invocations that satisfies it."
	}
	sb.WriteString(preamble)
	sb.WriteString("\n\n")

	sb.WriteString("Respond with a single JSON object:\n")
	sb.WriteString(`{"steps": [{"context_key": "<unique_key>", "capability": "<name>", ` +
		`"task_objective": "<what this step achieves>", "expected_output": "<context type>", ` +
		`"inputs": [{"<CONTEXT_TYPE>": "<context_key of an earlier step>"}], ` +
		`"parameters": {}}], "reasoning": "<why this plan>"}`)
	sb.WriteString("\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Use only the capabilities listed below.\n")
	sb.WriteString("- Each step's inputs must reference context_key values produced by earlier steps.\n")
	sb.WriteString("- Keep plans minimal. Do not add steps the task does not need.\n")
	sb.WriteString("- End the plan with a respond step that addresses the user.\n\n")

	ordered := make([]GuideEntry, len(guides))
	copy(ordered, guides)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := 0, 0
		if ordered[i].Guide != nil {
			pi = ordered[i].Guide.Priority
		}
		if ordered[j].Guide != nil {
			pj = ordered[j].Guide.Priority
		}
		return pi < pj
	})

	sb.WriteString("Available capabilities:\n\n")
	for _, g := range ordered {
		sb.WriteString("## ")
		sb.WriteString(g.CapabilityName)
		sb.WriteString("\n")
		if g.Guide == nil {
			continue
		}
		if g.Guide.Instructions != "" {
			sb.WriteString(g.Guide.Instructions)
			sb.WriteString("\n")
		}
		for _, ex := range g.Guide.Examples {
			sb.WriteString("\nExample: ")
			sb.WriteString(ex.ScenarioDescription)
			sb.WriteString("\n")
			if stepJSON, err := json.Marshal(ex.Step); err == nil {
				sb.Write(stepJSON)
				sb.WriteString("\n")
			}
			if ex.Notes != "" {
				sb.WriteString("Note: ")
				sb.WriteString(ex.Notes)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// DefaultResponseBuilder renders the generic response generation prompt.
type DefaultResponseBuilder struct{}

func (b *DefaultResponseBuilder) RoleDefinition() string {
	return "You are a helpful assistant. Answer the user's request using the " +
		"execution context gathered for this task."
}

func (b *DefaultResponseBuilder) SystemInstructions(task string) string {
	var sb strings.Builder
	sb.WriteString(b.RoleDefinition())
	sb.WriteString("\n\n")
	sb.WriteString("Guidelines:\n")
	sb.WriteString("- Ground every claim in the provided context. Do not invent data.\n")
	sb.WriteString("- If the context is insufficient to answer, say so plainly.\n")
	sb.WriteString("- Be concise. Lead with the answer, then supporting detail.\n")
	return sb.String()
}

func (b *DefaultResponseBuilder) BuildMessages(task string, entries []contexts.Entry, history []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: b.SystemInstructions(task)})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: RenderTask(task, entries)})
	return messages
}

// RenderTask formats the user task together with its gathered contexts
// for the final user message.
func RenderTask(task string, entries []contexts.Entry) string {
	var sb strings.Builder
	sb.WriteString(task)
	if len(entries) == 0 {
		return sb.String()
	}
	sb.WriteString("\n\n# Execution context\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("\n## %s (%s)\n", e.Key, e.Context.ContextType()))
		sb.WriteString(RenderContext(e.Context))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderContext serializes a context for prompt inclusion, truncating
// oversized payloads.
func RenderContext(c contexts.Context) string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return c.Summary()
	}
	s := string(data)
	if len(s) > maxContextChars {
		s = s[:maxContextChars] + "\n... (truncated)"
	}
	return s
}
