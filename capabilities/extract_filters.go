// Package capabilities implements otter's units of agent work: filter
// extraction, archive queries, run analysis, routine proposal, and the
// framework respond capability that generates the final answer.
package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/model"
)

// ExtractRunFilters turns a natural language request into structured
// run query filters using a small extraction model.
type ExtractRunFilters struct{}

// NewExtractRunFilters constructs the capability.
func NewExtractRunFilters(capability.Dependencies) *ExtractRunFilters {
	return &ExtractRunFilters{}
}

func (c *ExtractRunFilters) Name() string { return "extract_run_filters" }

func (c *ExtractRunFilters) Description() string {
	return "Extract structured run query filters from natural language"
}

func (c *ExtractRunFilters) Provides() []contexts.Type {
	return []contexts.Type{contexts.TypeRunQueryFilters}
}

func (c *ExtractRunFilters) Requires() []contexts.Type { return nil }

func (c *ExtractRunFilters) Execute(ctx context.Context, exec *capability.Execution) error {
	exec.Streamer.Status("Extracting query filters...")

	objective := exec.Step.TaskObjective
	if objective == "" {
		objective = exec.Task
	}

	resp, err := exec.LLM.Complete(ctx, llm.Request{
		Capability: model.CapabilityExtraction,
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt()},
			{Role: "user", Content: objective},
		},
	})
	if err != nil {
		return fmt.Errorf("extracting filters: %w", err)
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return fmt.Errorf("extracting filters: model returned no JSON")
	}

	var filters contexts.RunQueryFilters
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return fmt.Errorf("extracting filters: %w", err)
	}
	normalizeFilters(&filters)

	key := exec.StoreOutput(&filters)
	exec.Streamer.Status("Stored filters as " + key)
	return nil
}

// normalizeFilters cleans up model output before the filters reach the
// archive: extraction models pad values with whitespace, invent sort
// spellings, and occasionally emit negative limits or reversed time
// bounds.
func normalizeFilters(f *contexts.RunQueryFilters) {
	f.Beamline = strings.TrimSpace(f.Beamline)
	f.Algorithm = strings.TrimSpace(f.Algorithm)
	f.Objective = strings.TrimSpace(f.Objective)

	if f.Limit < 0 {
		f.Limit = 0
	}

	switch contexts.SortOrder(strings.ToLower(strings.TrimSpace(string(f.Sort)))) {
	case contexts.SortOldestFirst:
		f.Sort = contexts.SortOldestFirst
	default:
		f.Sort = contexts.SortNewestFirst
	}

	if f.Since != nil && f.Until != nil && f.Since.After(*f.Until) {
		f.Since, f.Until = f.Until, f.Since
	}
}

func extractionSystemPrompt() string {
	today := time.Now().UTC().Format("2006-01-02")
	return `You extract Badger run query filters from user requests. Today is ` + today + `.

Respond with a single JSON object. Include only fields the user actually
constrained:
{"beamline": "<beamline id>", "algorithm": "<generator name>",
 "objective": "<objective name fragment>",
 "since": "<RFC3339 timestamp>", "until": "<RFC3339 timestamp>",
 "limit": <int>, "sort": "newest" | "oldest"}

Rules:
- "last week" / "yesterday" and similar become since/until bounds.
- "best"/"recent" alone are not filters; leave the object empty for them.
- Never invent beamline or algorithm names the user did not say.`
}

func (c *ExtractRunFilters) OrchestratorGuide() *capability.OrchestratorGuide {
	return &capability.OrchestratorGuide{
		Priority: 10,
		Instructions: "Plan extract_run_filters before query_runs whenever the user " +
			"constrains which runs they want (beamline, time range, algorithm, " +
			"objective). Skip it when the user wants recent runs with no constraints.",
		Examples: []capability.OrchestratorExample{
			{
				Step: capability.PlannedStep{
					ContextKey:     "hxr_filters",
					Capability:     "extract_run_filters",
					TaskObjective:  "Extract filters: HXR runs from last week",
					ExpectedOutput: string(contexts.TypeRunQueryFilters),
				},
				ScenarioDescription: "User asks about HXR runs from last week",
			},
		},
	}
}

func (c *ExtractRunFilters) ClassifierGuide() *capability.ClassifierGuide {
	return &capability.ClassifierGuide{
		Instructions: "Relevant when the request is about finding or filtering " +
			"historical Badger optimization runs.",
		Examples: []capability.ClassifierExample{
			{
				Query:  "show me HXR runs from last week",
				Result: true,
				Reason: "asks for runs constrained by beamline and time",
			},
			{
				Query:  "what is Bayesian Optimization?",
				Result: false,
				Reason: "general question, no run retrieval",
			},
		},
	}
}
