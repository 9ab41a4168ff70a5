package prompts

import (
	"strings"

	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
)

func init() {
	RegisterProvider(&OtterProvider{})
}

// OtterProvider supplies the otter application's prompt builders, which
// layer Badger and Bayesian Optimization domain knowledge onto the
// framework defaults.
type OtterProvider struct{}

func (p *OtterProvider) ApplicationName() string { return "otter" }

func (p *OtterProvider) OrchestratorBuilder() OrchestratorBuilder {
	return &DefaultOrchestratorBuilder{
		Preamble: "You are the execution planner for otter, an assistant for " +
			"Badger optimization runs at a particle accelerator facility. " +
			"Typical workflows query historical runs from the archive, analyze " +
			"their performance, and propose new Badger routines based on what " +
			"worked. Plan the minimal chain of capabilities that satisfies the " +
			"user's request.",
	}
}

func (p *OtterProvider) ResponseBuilder() ResponseBuilder {
	return &OtterResponseBuilder{}
}

// OtterResponseBuilder renders responses with Bayesian Optimization
// interpretation guidance so run results are presented correctly.
type OtterResponseBuilder struct {
	DefaultResponseBuilder
}

func (b *OtterResponseBuilder) RoleDefinition() string {
	return "You are otter, an expert assistant for Badger, the Bayesian " +
		"Optimization tool used to tune particle accelerators. You help " +
		"operators and physicists understand historical optimization runs and " +
		"set up new ones."
}

func (b *OtterResponseBuilder) SystemInstructions(task string) string {
	var sb strings.Builder
	sb.WriteString(b.RoleDefinition())
	sb.WriteString("\n\n")
	sb.WriteString("Guidelines:\n")
	sb.WriteString("- Ground every claim in the provided context. Do not invent runs, values, or settings.\n")
	sb.WriteString("- If the context is insufficient to answer, say so plainly.\n")
	sb.WriteString("- Be concise. Lead with the answer, then supporting detail.\n")
	sb.WriteString("\n")
	sb.WriteString(boInterpretationGuide)
	return sb.String()
}

func (b *OtterResponseBuilder) BuildMessages(task string, entries []contexts.Entry, history []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: b.SystemInstructions(task)})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: b.renderTask(task, entries)})
	return messages
}

// renderTask presents routine proposals as raw YAML blocks rather than
// JSON, since operators paste them directly into Badger.
func (b *OtterResponseBuilder) renderTask(task string, entries []contexts.Entry) string {
	var sb strings.Builder
	sb.WriteString(task)
	if len(entries) == 0 {
		return sb.String()
	}
	sb.WriteString("\n\n# Execution context\n")
	for _, e := range entries {
		sb.WriteString("\n## ")
		sb.WriteString(e.Key)
		sb.WriteString(" (")
		sb.WriteString(string(e.Context.ContextType()))
		sb.WriteString(")\n")
		if routines, ok := e.Context.(*contexts.BadgerRoutines); ok {
			for _, r := range routines.Routines {
				sb.WriteString("\n### ")
				sb.WriteString(r.Name)
				if r.SourceRun != "" {
					sb.WriteString(" (based on ")
					sb.WriteString(r.SourceRun)
					sb.WriteString(")")
				}
				sb.WriteString("\n```yaml\n")
				sb.WriteString(r.YAMLContent)
				if !strings.HasSuffix(r.YAMLContent, "\n") {
					sb.WriteString("\n")
				}
				sb.WriteString("```\n")
			}
			continue
		}
		sb.WriteString(RenderContext(e.Context))
		sb.WriteString("\n")
	}
	return sb.String()
}

// boInterpretationGuide encodes how Bayesian Optimization runs must be
// read. Getting best-vs-final wrong, or crediting the algorithm with a
// lucky random sample, misleads operators.
const boInterpretationGuide = `Bayesian Optimization interpretation:

Best value vs final value:
- The BEST value is the peak objective observed anywhere in the run. The
  FINAL value is the last evaluation before the run ended.
- A final value worse than the best is NORMAL and expected. BO keeps
  exploring after finding a good point, so later evaluations often move
  away from the optimum. Never describe this as the run "degrading" or
  "losing" its result; the best point is recorded and the machine can be
  set back to it.
- When reporting a run's outcome, always lead with the best value and the
  iteration it was found at, not the final value.

Initial sampling luck:
- Every run begins with random or user-supplied initial points before the
  model-guided phase starts. If the best value was found DURING initial
  sampling, the result reflects sampling luck, not algorithm performance.
- When comparing algorithms, prefer improvement achieved AFTER the
  initial points (the algorithm improvement) over raw best values. Call
  out runs whose best came from initial sampling.

Presenting runs:
- Present a run's VOCS (variables, objectives, constraints) when it is
  relevant: variable names with their ranges, objective names with their
  direction (MAXIMIZE or MINIMIZE), and any constraints.
- For MINIMIZE objectives, lower is better. Never report a decrease in a
  minimized objective as a regression.
- When summarizing several runs, use a table with columns such as run
  name, algorithm, best value, best iteration, and improvement percent.
  Keep numeric precision modest (3-4 significant figures).

Proposed routines:
- Present proposed routines as raw YAML code blocks exactly as provided.
  Do not reformat, reorder keys, or summarize the YAML; operators paste
  it into Badger verbatim.
- After each routine, briefly note which historical run it is based on
  and why that run's configuration was selected.`
