package capabilities

import (
	"context"
	"errors"
	"fmt"

	"github.com/als-computing/otter/analysis"
	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/routine"
)

// ProposeRoutines generates executable Badger routine YAML from
// successful runs. It needs BOTH inputs: the analysis selects which run
// to base the routine on, and the run set supplies the complete VOCS.
type ProposeRoutines struct{}

// NewProposeRoutines constructs the capability.
func NewProposeRoutines(capability.Dependencies) *ProposeRoutines {
	return &ProposeRoutines{}
}

func (c *ProposeRoutines) Name() string { return "propose_routines" }

func (c *ProposeRoutines) Description() string {
	return "Generate executable Badger routine YAML from successful runs"
}

func (c *ProposeRoutines) Provides() []contexts.Type {
	return []contexts.Type{contexts.TypeBadgerRoutines}
}

func (c *ProposeRoutines) Requires() []contexts.Type {
	return []contexts.Type{contexts.TypeBadgerRuns, contexts.TypeRunAnalysis}
}

func (c *ProposeRoutines) Execute(ctx context.Context, exec *capability.Execution) error {
	runsIn, err := exec.Input(contexts.TypeBadgerRuns)
	if err != nil {
		return &capability.InsufficientContextError{Capability: c.Name(), Missing: "BADGER_RUNS context"}
	}
	runs, ok := runsIn.(*contexts.BadgerRuns)
	if !ok || len(runs.Runs) == 0 {
		return &capability.InsufficientContextError{Capability: c.Name(), Missing: "a non-empty BADGER_RUNS context"}
	}

	analysisIn, err := exec.Input(contexts.TypeRunAnalysis)
	if err != nil {
		return &capability.InsufficientContextError{Capability: c.Name(), Missing: "RUN_ANALYSIS context"}
	}
	runAnalysis, ok := analysisIn.(*contexts.RunAnalysis)
	if !ok {
		return &capability.InsufficientContextError{Capability: c.Name(), Missing: "RUN_ANALYSIS context"}
	}

	top := runAnalysis.SuccessPatterns.TopPerformers
	if len(top) == 0 {
		return &capability.InsufficientContextError{Capability: c.Name(), Missing: "top performers in the analysis"}
	}

	exec.Streamer.Status("Selecting top performer from analysis...")
	selected := analysis.SelectBestRun(runAnalysis, runs)
	if selected == nil {
		// The analysis may cover a different query than the loaded runs.
		selected = runs.Runs[0]
	}
	pct := top[0].ImprovementPct
	for _, tp := range top {
		if tp.RunName == selected.RunName {
			pct = tp.ImprovementPct
			break
		}
	}

	exec.Streamer.Status("Generating routine from run: " + selected.RunName + "...")
	composed, err := routine.Compose(selected, exec.Param("name", ""))
	if err != nil {
		return fmt.Errorf("composing routine: %w", err)
	}

	exec.Streamer.Status("Converting to Badger YAML format...")
	yamlStr, err := composed.ToYAML()
	if err != nil {
		return fmt.Errorf("composing routine: %w", err)
	}

	out := &contexts.BadgerRoutines{
		Routines: []contexts.ProposedRoutine{{
			Name:        composed.Name,
			YAMLContent: yamlStr,
			SourceRun:   selected.RunName,
		}},
		GenerationMetadata: contexts.GenerationMetadata{
			SourceRuns:           []string{selected.RunName},
			SelectedFromAnalysis: true,
			TopPerformerPct:      pct,
			Algorithm:            selected.Algorithm,
			Beamline:             selected.Beamline,
			BadgerEnvironment:    selected.BadgerEnvironment,
			NumVariables:         len(selected.Variables),
			NumObjectives:        len(selected.Objectives),
			Method:               "from_top_performer",
		},
	}

	key := exec.StoreOutput(out)
	exec.Streamer.Status("Routine generated successfully as " + key)
	return nil
}

// ClassifyError marks missing inputs as critical: without runs and
// their analysis there is nothing a retry can recover. Anything else
// is treated as transient.
func (c *ProposeRoutines) ClassifyError(err error) capability.ErrorClassification {
	var insufficient *capability.InsufficientContextError
	if errors.As(err, &insufficient) {
		return capability.ErrorClassification{
			Severity:         capability.SeverityCritical,
			UserMessage:      "Routine generation needs both retrieved runs and their analysis.",
			TechnicalDetails: err.Error(),
			Resolution:       "Plan query_runs and analyze_runs before propose_routines.",
		}
	}
	return capability.ErrorClassification{
		Severity:         capability.SeverityRetriable,
		UserMessage:      "Routine generation hit a transient failure.",
		TechnicalDetails: err.Error(),
	}
}

func (c *ProposeRoutines) OrchestratorGuide() *capability.OrchestratorGuide {
	return &capability.OrchestratorGuide{
		Priority: 40,
		Instructions: "propose_routines composes executable Badger routine YAML from the " +
			"top performing run. It requires BOTH a BADGER_RUNS input (for complete " +
			"VOCS with variable ranges) and a RUN_ANALYSIS input (for selection). " +
			"Always plan query_runs and analyze_runs before it.",
		Examples: []capability.OrchestratorExample{
			{
				Step: capability.PlannedStep{
					ContextKey:     "proposed_routines",
					Capability:     "propose_routines",
					TaskObjective:  "Generate a routine from the best recent run",
					ExpectedOutput: string(contexts.TypeBadgerRoutines),
					Inputs: []map[string]string{
						{string(contexts.TypeBadgerRuns): "recent_runs"},
						{string(contexts.TypeRunAnalysis): "run_analysis"},
					},
					SuccessCriteria: "Routine YAML generated",
				},
				ScenarioDescription: "Generate routine YAML from analyzed runs",
				Notes:               "Requires BOTH BADGER_RUNS (for VOCS) and RUN_ANALYSIS (for selection)",
			},
		},
	}
}

func (c *ProposeRoutines) ClassifierGuide() *capability.ClassifierGuide {
	return &capability.ClassifierGuide{
		Instructions: "Relevant when the user wants a new routine, wants to rerun a " +
			"successful configuration, or asks what to try next.",
		Examples: []capability.ClassifierExample{
			{
				Query:  "set up a routine based on last week's best HXR run",
				Result: true,
				Reason: "asks for an executable routine derived from history",
			},
		},
	}
}
