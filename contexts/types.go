// Package contexts defines the typed context classes that capabilities
// produce and consume, plus the store that holds them during execution.
//
// Context classes are the data contract between capabilities: query_runs
// produces a BADGER_RUNS container, analyze_runs consumes it and produces
// RUN_ANALYSIS, and so on. Each class is registered with the application
// registry under its context type so persisted contexts can be decoded.
package contexts

import (
	"strconv"
	"time"
)

// Type identifies a context class on the wire and in execution plans.
type Type string

const (
	TypeRunQueryFilters Type = "RUN_QUERY_FILTERS"
	TypeBadgerRun       Type = "BADGER_RUN"
	TypeBadgerRuns      Type = "BADGER_RUNS"
	TypeRunAnalysis     Type = "RUN_ANALYSIS"
	TypeBadgerRoutines  Type = "BADGER_ROUTINES"

	// TypeRoutineProposal is the legacy single-routine context. Kept
	// registered so persisted sessions from older deployments still decode.
	TypeRoutineProposal Type = "ROUTINE_PROPOSAL"
)

// Context is implemented by every context class.
type Context interface {
	// ContextType returns the type under which the class is registered.
	ContextType() Type

	// Summary returns a short human-readable description used in status
	// output and prompt assembly.
	Summary() string
}

// SortOrder selects run ordering for archive queries.
type SortOrder string

const (
	SortNewestFirst SortOrder = "newest"
	SortOldestFirst SortOrder = "oldest"
)

// RunQueryFilters holds structured filters extracted from a natural
// language request.
type RunQueryFilters struct {
	// Beamline restricts runs to a beamline (e.g. "cu_hxr"). Empty matches all.
	Beamline string `json:"beamline,omitempty"`

	// Algorithm restricts runs to a generator name (e.g. "expected_improvement").
	Algorithm string `json:"algorithm,omitempty"`

	// Objective is a substring match against objective names.
	Objective string `json:"objective,omitempty"`

	// Since / Until bound the run start time.
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`

	// Limit caps the number of returned runs. Zero means the archive default.
	Limit int `json:"limit,omitempty"`

	// Sort orders results by start time.
	Sort SortOrder `json:"sort,omitempty"`
}

func (f *RunQueryFilters) ContextType() Type { return TypeRunQueryFilters }

func (f *RunQueryFilters) Summary() string {
	return "run query filters"
}

// Direction indicates how an objective is optimized.
type Direction string

const (
	DirectionMaximize Direction = "MAXIMIZE"
	DirectionMinimize Direction = "MINIMIZE"
)

// VariableRange is a tuned variable and its allowed [min, max] bounds.
type VariableRange struct {
	Name  string     `json:"name" yaml:"name"`
	Range [2]float64 `json:"range" yaml:"range"`
}

// Objective is an optimization objective and its direction.
type Objective struct {
	Name      string    `json:"name" yaml:"name"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// BadgerRun is a single optimization run loaded from the archive.
type BadgerRun struct {
	RunName           string `json:"run_name"`
	Beamline          string `json:"beamline"`
	BadgerEnvironment string `json:"badger_environment"`

	// Algorithm is the generator name; GeneratorConfig holds its
	// hyperparameters when the archive recorded them.
	Algorithm       string         `json:"algorithm"`
	GeneratorConfig map[string]any `json:"generator_config,omitempty"`

	Variables   []VariableRange `json:"variables"`
	Objectives  []Objective     `json:"objectives"`
	Constraints []string        `json:"constraints,omitempty"`

	// ObjectiveSeries holds the evaluation history per objective, in
	// evaluation order. Index 0 is the first (initial) evaluation.
	ObjectiveSeries map[string][]float64 `json:"objective_series,omitempty"`

	NumEvaluations   int `json:"num_evaluations"`
	NumInitialPoints int `json:"num_initial_points"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	EnvironmentParams   map[string]any   `json:"environment_params,omitempty"`
	InitialPointActions []map[string]any `json:"initial_point_actions,omitempty"`
	RelativeToCurrent   bool             `json:"relative_to_current"`

	BadgerVersion string `json:"badger_version,omitempty"`
	XoptVersion   string `json:"xopt_version,omitempty"`
}

func (r *BadgerRun) ContextType() Type { return TypeBadgerRun }

func (r *BadgerRun) Summary() string {
	return "run " + r.RunName + " (" + r.Algorithm + " on " + r.Beamline + ")"
}

// PrimaryObjective returns the first objective, or a zero value when the
// run recorded none.
func (r *BadgerRun) PrimaryObjective() Objective {
	if len(r.Objectives) == 0 {
		return Objective{}
	}
	return r.Objectives[0]
}

// BadgerRuns is a container of runs returned by a single archive query.
type BadgerRuns struct {
	Runs        []*BadgerRun     `json:"runs"`
	Query       *RunQueryFilters `json:"query,omitempty"`
	RetrievedAt time.Time        `json:"retrieved_at"`
}

func (r *BadgerRuns) ContextType() Type { return TypeBadgerRuns }

func (r *BadgerRuns) Summary() string {
	if len(r.Runs) == 1 {
		return "1 run from archive"
	}
	return strconv.Itoa(len(r.Runs)) + " runs from archive"
}

// FindRun returns the run with the given name, or nil.
func (r *BadgerRuns) FindRun(name string) *BadgerRun {
	for _, run := range r.Runs {
		if run.RunName == name {
			return run
		}
	}
	return nil
}

// RunDetail holds the per-run analysis derived from the evaluation series.
type RunDetail struct {
	RunName        string    `json:"run_name"`
	Beamline       string    `json:"beamline"`
	Algorithm      string    `json:"algorithm"`
	StartedAt      time.Time `json:"started_at"`
	NumEvaluations int       `json:"num_evaluations"`
	NumInitial     int       `json:"num_initial_points"`

	Objective string    `json:"objective"`
	Direction Direction `json:"direction"`

	InitialValue float64 `json:"initial_value"`
	BestValue    float64 `json:"best_value"`
	FinalValue   float64 `json:"final_value"`

	// BestIteration is the 1-based evaluation index that achieved BestValue.
	BestIteration int `json:"best_iteration"`

	// BestFromInitial is true when the best value came from the initial
	// sampling phase rather than the optimization phase. Such runs owe
	// their result to lucky initialization, not algorithm skill.
	BestFromInitial bool `json:"best_from_initial"`

	// BestOutsideInitial is the best value achieved during the
	// optimization phase only (excluding initial sampling).
	BestOutsideInitial float64 `json:"best_outside_initial"`

	// BestImprovementPct compares initial to best; FinalImprovementPct
	// compares initial to final. Best is the success measure: BO
	// exploration routinely makes the final value worse than the best.
	BestImprovementPct  float64 `json:"best_improvement_pct"`
	FinalImprovementPct float64 `json:"final_improvement_pct"`

	// AlgorithmImprovementPct compares initial to BestOutsideInitial,
	// removing initialization luck from the comparison.
	AlgorithmImprovementPct float64 `json:"algorithm_improvement_pct"`

	// ConvergenceSpeed is BestIteration / NumEvaluations in [0, 1].
	ConvergenceSpeed float64 `json:"convergence_speed"`
}

// TopPerformer identifies a run selected by the success analysis.
type TopPerformer struct {
	RunName        string  `json:"run_name"`
	ImprovementPct float64 `json:"improvement_pct"`
	Algorithm      string  `json:"algorithm"`
}

// SuccessPatterns aggregates what worked across the analyzed runs.
type SuccessPatterns struct {
	TopPerformers []TopPerformer `json:"top_performers"`
	SuccessRate   float64        `json:"success_rate"`
}

// AlgorithmStats aggregates per-algorithm performance.
type AlgorithmStats struct {
	Runs                   int     `json:"runs"`
	MeanBestImprovementPct float64 `json:"mean_best_improvement_pct"`
	MeanAlgorithmPct       float64 `json:"mean_algorithm_improvement_pct"`
	LuckyRuns              int     `json:"lucky_runs"`
}

// RunAnalysis is the analysis produced by the analyze_runs capability.
type RunAnalysis struct {
	PerRunDetails   []RunDetail               `json:"per_run_details"`
	SuccessPatterns SuccessPatterns           `json:"success_patterns"`
	ByAlgorithm     map[string]AlgorithmStats `json:"by_algorithm,omitempty"`
	AnalyzedAt      time.Time                 `json:"analyzed_at"`
}

func (a *RunAnalysis) ContextType() Type { return TypeRunAnalysis }

func (a *RunAnalysis) Summary() string {
	return "analysis of " + strconv.Itoa(len(a.PerRunDetails)) + " runs"
}

// ProposedRoutine is an executable routine generated from a run.
type ProposedRoutine struct {
	Name        string `json:"name"`
	YAMLContent string `json:"yaml_content"`
	SourceRun   string `json:"source_run"`
}

// GenerationMetadata records how routines were derived.
type GenerationMetadata struct {
	SourceRuns           []string `json:"source_runs"`
	SelectedFromAnalysis bool     `json:"selected_from_analysis"`
	TopPerformerPct      float64  `json:"top_performer_improvement_pct"`
	Algorithm            string   `json:"algorithm"`
	Beamline             string   `json:"beamline"`
	BadgerEnvironment    string   `json:"badger_environment"`
	NumVariables         int      `json:"num_variables"`
	NumObjectives        int      `json:"num_objectives"`
	Method               string   `json:"method"`
}

// BadgerRoutines is the container produced by propose_routines.
type BadgerRoutines struct {
	Routines           []ProposedRoutine  `json:"routines"`
	GenerationMetadata GenerationMetadata `json:"generation_metadata"`
}

func (b *BadgerRoutines) ContextType() Type { return TypeBadgerRoutines }

func (b *BadgerRoutines) Summary() string {
	return strconv.Itoa(len(b.Routines)) + " proposed routines"
}

// RoutineProposal is the legacy single-routine context class.
type RoutineProposal struct {
	RoutineYAML string `json:"routine_yaml"`
	SourceRun   string `json:"source_run,omitempty"`
}

func (p *RoutineProposal) ContextType() Type { return TypeRoutineProposal }

func (p *RoutineProposal) Summary() string { return "routine proposal (legacy)" }
