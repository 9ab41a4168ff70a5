package capabilities

import (
	"context"
	"fmt"
	"strconv"

	"github.com/als-computing/otter/analysis"
	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
)

// AnalyzeRuns computes per-run performance metrics and cross-run success
// patterns. Pure computation, no model calls.
type AnalyzeRuns struct{}

// NewAnalyzeRuns constructs the capability.
func NewAnalyzeRuns(capability.Dependencies) *AnalyzeRuns {
	return &AnalyzeRuns{}
}

func (c *AnalyzeRuns) Name() string { return "analyze_runs" }

func (c *AnalyzeRuns) Description() string {
	return "Analyze and compare multiple runs"
}

func (c *AnalyzeRuns) Provides() []contexts.Type {
	return []contexts.Type{contexts.TypeRunAnalysis}
}

func (c *AnalyzeRuns) Requires() []contexts.Type {
	return []contexts.Type{contexts.TypeBadgerRuns}
}

func (c *AnalyzeRuns) Execute(ctx context.Context, exec *capability.Execution) error {
	in, err := exec.Input(contexts.TypeBadgerRuns)
	if err != nil {
		return &capability.InsufficientContextError{
			Capability: c.Name(),
			Missing:    "BADGER_RUNS context from a query_runs step",
		}
	}
	runs, ok := in.(*contexts.BadgerRuns)
	if !ok || len(runs.Runs) == 0 {
		return &capability.InsufficientContextError{
			Capability: c.Name(),
			Missing:    "a non-empty set of runs to analyze",
		}
	}

	exec.Streamer.Status("Analyzing " + strconv.Itoa(len(runs.Runs)) + " runs...")
	result, err := analysis.AnalyzeRuns(runs.Runs)
	if err != nil {
		return fmt.Errorf("analyzing runs: %w", err)
	}

	key := exec.StoreOutput(result)
	exec.Streamer.Status("Stored analysis as " + key)
	return nil
}

// ClassifyError marks all analysis failures critical: the computation is
// deterministic, so retrying with the same runs fails the same way.
func (c *AnalyzeRuns) ClassifyError(err error) capability.ErrorClassification {
	return capability.ErrorClassification{
		Severity:         capability.SeverityCritical,
		UserMessage:      "The retrieved runs could not be analyzed. They may be missing evaluation data.",
		TechnicalDetails: err.Error(),
		Resolution:       "Inspect the run files for empty or truncated data sections.",
	}
}

func (c *AnalyzeRuns) OrchestratorGuide() *capability.OrchestratorGuide {
	return &capability.OrchestratorGuide{
		Priority: 30,
		Instructions: "analyze_runs computes best/final values, improvement percents, " +
			"initial-sampling luck detection, and per-algorithm statistics from a " +
			"BADGER_RUNS context. Plan it whenever the user asks how runs performed " +
			"or before proposing routines.",
		Examples: []capability.OrchestratorExample{
			{
				Step: capability.PlannedStep{
					ContextKey:     "run_analysis",
					Capability:     "analyze_runs",
					TaskObjective:  "Compare performance of the retrieved runs",
					ExpectedOutput: string(contexts.TypeRunAnalysis),
					Inputs: []map[string]string{
						{string(contexts.TypeBadgerRuns): "recent_runs"},
					},
				},
				ScenarioDescription: "Analyze runs retrieved by an earlier step",
			},
		},
	}
}

func (c *AnalyzeRuns) ClassifierGuide() *capability.ClassifierGuide {
	return &capability.ClassifierGuide{
		Instructions: "Relevant when the user asks about run performance, " +
			"comparisons, or which algorithm worked best.",
		Examples: []capability.ClassifierExample{
			{
				Query:  "which algorithm performed best on HXR?",
				Result: true,
				Reason: "requires cross-run performance comparison",
			},
		},
	}
}
