package capabilities

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
)

// RunQuerier is the slice of the archive query_runs needs.
type RunQuerier interface {
	Query(ctx context.Context, filters contexts.RunQueryFilters) (*contexts.BadgerRuns, error)
}

// QueryRuns retrieves optimization runs from the Badger archive, using
// filters produced by extract_run_filters when the plan provides them.
type QueryRuns struct {
	archive RunQuerier
}

// NewQueryRuns constructs the capability from the badger_archive data
// source.
func NewQueryRuns(deps capability.Dependencies) (*QueryRuns, error) {
	ds, err := deps.Source("badger_archive")
	if err != nil {
		return nil, err
	}
	querier, ok := ds.(RunQuerier)
	if !ok {
		return nil, fmt.Errorf("data source badger_archive does not support run queries")
	}
	return &QueryRuns{archive: querier}, nil
}

func (c *QueryRuns) Name() string { return "query_runs" }

func (c *QueryRuns) Description() string {
	return "Query Badger optimization runs from archive using filters from extract_run_filters"
}

func (c *QueryRuns) Provides() []contexts.Type {
	return []contexts.Type{contexts.TypeBadgerRuns}
}

func (c *QueryRuns) Requires() []contexts.Type {
	return []contexts.Type{contexts.TypeRunQueryFilters}
}

func (c *QueryRuns) Execute(ctx context.Context, exec *capability.Execution) error {
	filters := contexts.RunQueryFilters{}
	if in, err := exec.Input(contexts.TypeRunQueryFilters); err == nil {
		if f, ok := in.(*contexts.RunQueryFilters); ok {
			filters = *f
		}
	}
	// Plans may skip extraction for unconstrained requests; an empty
	// filter set returns the most recent runs.

	exec.Streamer.Status("Querying Badger archive...")
	runs, err := c.archive.Query(ctx, filters)
	if err != nil {
		return fmt.Errorf("querying archive: %w", err)
	}
	if len(runs.Runs) == 0 {
		return &capability.InsufficientContextError{
			Capability: c.Name(),
			Missing:    "no runs in the archive match the query",
		}
	}

	key := exec.StoreOutput(runs)
	exec.Streamer.Status("Retrieved " + strconv.Itoa(len(runs.Runs)) + " runs as " + key)
	return nil
}

// ClassifyError marks empty query results critical: retrying the same
// query cannot make runs appear.
func (c *QueryRuns) ClassifyError(err error) capability.ErrorClassification {
	var insufficient *capability.InsufficientContextError
	if errors.As(err, &insufficient) {
		return capability.ErrorClassification{
			Severity:         capability.SeverityCritical,
			UserMessage:      "No runs in the archive match that query. Try widening the time range or removing filters.",
			TechnicalDetails: err.Error(),
			Resolution:       "Check the archive root contains BadgerOpt-*.yaml files for the requested beamline and period.",
		}
	}
	return capability.ErrorClassification{
		Severity:         capability.SeverityRetriable,
		UserMessage:      "The run archive is temporarily unavailable.",
		TechnicalDetails: err.Error(),
	}
}

func (c *QueryRuns) OrchestratorGuide() *capability.OrchestratorGuide {
	return &capability.OrchestratorGuide{
		Priority: 20,
		Instructions: "query_runs retrieves runs from the archive. Wire its input to " +
			"an extract_run_filters output when the request is constrained; for " +
			"unconstrained requests plan it alone and it returns the most recent runs.",
		Examples: []capability.OrchestratorExample{
			{
				Step: capability.PlannedStep{
					ContextKey:     "recent_runs",
					Capability:     "query_runs",
					TaskObjective:  "Retrieve HXR runs from last week",
					ExpectedOutput: string(contexts.TypeBadgerRuns),
					Inputs: []map[string]string{
						{string(contexts.TypeRunQueryFilters): "hxr_filters"},
					},
				},
				ScenarioDescription: "Retrieve runs using extracted filters",
			},
		},
	}
}

func (c *QueryRuns) ClassifierGuide() *capability.ClassifierGuide {
	return &capability.ClassifierGuide{
		Instructions: "Relevant for any request that needs historical run data: " +
			"listing runs, summarizing performance, proposing routines.",
		Examples: []capability.ClassifierExample{
			{
				Query:  "how did yesterday's optimizations go?",
				Result: true,
				Reason: "needs runs from the archive",
			},
		},
	}
}
