package capabilities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/llm/testutil"
	"github.com/als-computing/otter/model"
	"github.com/als-computing/otter/prompts"
)

func newExecution(step *capability.PlannedStep, client llm.Completer) *capability.Execution {
	return &capability.Execution{
		Step:     step,
		Store:    contexts.NewStore(),
		LLM:      client,
		Streamer: capability.NopStreamer,
		Task:     "test task",
	}
}

func sampleRuns() *contexts.BadgerRuns {
	return &contexts.BadgerRuns{
		Runs: []*contexts.BadgerRun{
			{
				RunName:           "BadgerOpt-2025-03-14-093015",
				Beamline:          "cu_hxr",
				BadgerEnvironment: "lcls",
				Algorithm:         "expected_improvement",
				NumInitialPoints:  1,
				Variables: []contexts.VariableRange{
					{Name: "QUAD:LTUH:620:BCTRL", Range: [2]float64{-0.01, 0.01}},
				},
				Objectives: []contexts.Objective{
					{Name: "pulse_intensity", Direction: contexts.DirectionMaximize},
				},
				ObjectiveSeries: map[string][]float64{
					"pulse_intensity": {1.0, 2.0, 3.0},
				},
			},
			{
				RunName:           "BadgerOpt-2025-01-05-120000",
				Beamline:          "cu_hxr",
				BadgerEnvironment: "lcls",
				Algorithm:         "nelder_mead",
				NumInitialPoints:  1,
				Variables: []contexts.VariableRange{
					{Name: "QUAD:LTUS:110:BCTRL", Range: [2]float64{-1, 1}},
				},
				Objectives: []contexts.Objective{
					{Name: "pulse_intensity", Direction: contexts.DirectionMaximize},
				},
				ObjectiveSeries: map[string][]float64{
					"pulse_intensity": {2.0, 2.1, 2.0},
				},
			},
		},
	}
}

func TestExtractRunFilters(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{
		{Content: "```json\n{\"beamline\": \"cu_hxr\", \"limit\": 5}\n```"},
	}}
	c := NewExtractRunFilters(capability.Dependencies{})
	exec := newExecution(&capability.PlannedStep{
		ContextKey:    "filters",
		Capability:    "extract_run_filters",
		TaskObjective: "find 5 HXR runs",
	}, mock)

	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if mock.CapturedRequest().Capability != model.CapabilityExtraction {
		t.Errorf("model capability = %v, want extraction", mock.CapturedRequest().Capability)
	}

	stored, err := exec.Store.Get(contexts.TypeRunQueryFilters, "filters")
	if err != nil {
		t.Fatal(err)
	}
	f := stored.(*contexts.RunQueryFilters)
	if f.Beamline != "cu_hxr" || f.Limit != 5 {
		t.Errorf("filters = %+v", f)
	}
}

func TestExtractRunFiltersNormalizesOutput(t *testing.T) {
	// Model output with padded values, a bad limit, an unknown sort
	// spelling, and reversed time bounds.
	mock := &testutil.MockClient{Responses: []*llm.Response{
		{Content: `{"beamline": " cu_hxr ", "limit": -3, "sort": "Latest",
		  "since": "2026-08-20T00:00:00Z", "until": "2026-08-13T00:00:00Z"}`},
	}}
	c := NewExtractRunFilters(capability.Dependencies{})
	exec := newExecution(&capability.PlannedStep{
		ContextKey:    "filters",
		Capability:    "extract_run_filters",
		TaskObjective: "HXR runs from the week before last",
	}, mock)

	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	stored, err := exec.Store.Get(contexts.TypeRunQueryFilters, "filters")
	if err != nil {
		t.Fatal(err)
	}
	f := stored.(*contexts.RunQueryFilters)
	if f.Beamline != "cu_hxr" {
		t.Errorf("Beamline = %q, want trimmed cu_hxr", f.Beamline)
	}
	if f.Limit != 0 {
		t.Errorf("Limit = %d, want 0 (archive default)", f.Limit)
	}
	if f.Sort != contexts.SortNewestFirst {
		t.Errorf("Sort = %q, want newest for unknown spellings", f.Sort)
	}
	if f.Since == nil || f.Until == nil || f.Since.After(*f.Until) {
		t.Errorf("time bounds not reordered: since=%v until=%v", f.Since, f.Until)
	}
}

func TestExtractRunFiltersNoJSON(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{{Content: "sorry, I cannot"}}}
	c := NewExtractRunFilters(capability.Dependencies{})
	exec := newExecution(&capability.PlannedStep{ContextKey: "filters"}, mock)

	if err := c.Execute(context.Background(), exec); err == nil {
		t.Error("Execute() should fail when the model returns no JSON")
	}
}

type stubQuerier struct {
	runs *contexts.BadgerRuns
	err  error
	got  contexts.RunQueryFilters
}

func (s *stubQuerier) Query(_ context.Context, f contexts.RunQueryFilters) (*contexts.BadgerRuns, error) {
	s.got = f
	return s.runs, s.err
}

func (s *stubQuerier) Name() string                      { return "badger_archive" }
func (s *stubQuerier) Description() string               { return "stub" }
func (s *stubQuerier) HealthCheck(context.Context) error { return nil }

func depsWithArchive(q capability.DataSource) capability.Dependencies {
	return capability.Dependencies{
		DataSources: map[string]capability.DataSource{"badger_archive": q},
	}
}

func TestQueryRunsWithFilters(t *testing.T) {
	stub := &stubQuerier{runs: sampleRuns()}
	c, err := NewQueryRuns(depsWithArchive(stub))
	if err != nil {
		t.Fatal(err)
	}

	exec := newExecution(&capability.PlannedStep{
		ContextKey: "recent_runs",
		Capability: "query_runs",
		Inputs:     []map[string]string{{"RUN_QUERY_FILTERS": "filters"}},
	}, nil)
	exec.Store.Put("filters", &contexts.RunQueryFilters{Beamline: "cu_hxr"})

	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if stub.got.Beamline != "cu_hxr" {
		t.Errorf("archive queried with %+v, want beamline filter", stub.got)
	}
	if !exec.Store.Has(contexts.TypeBadgerRuns, "recent_runs") {
		t.Error("runs not stored")
	}
}

func TestQueryRunsWithoutFiltersUsesEmptyQuery(t *testing.T) {
	stub := &stubQuerier{runs: sampleRuns()}
	c, _ := NewQueryRuns(depsWithArchive(stub))

	exec := newExecution(&capability.PlannedStep{ContextKey: "recent_runs"}, nil)
	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if stub.got.Beamline != "" || stub.got.Limit != 0 {
		t.Errorf("expected empty filters, got %+v", stub.got)
	}
}

func TestQueryRunsEmptyResultIsCritical(t *testing.T) {
	stub := &stubQuerier{runs: &contexts.BadgerRuns{}}
	c, _ := NewQueryRuns(depsWithArchive(stub))

	exec := newExecution(&capability.PlannedStep{ContextKey: "recent_runs"}, nil)
	err := c.Execute(context.Background(), exec)
	if err == nil {
		t.Fatal("Execute() should fail on empty result")
	}
	if got := c.ClassifyError(err); got.Severity != capability.SeverityCritical {
		t.Errorf("severity = %v, want critical", got.Severity)
	}
}

func TestQueryRunsArchiveErrorIsRetriable(t *testing.T) {
	stub := &stubQuerier{err: errors.New("disk offline")}
	c, _ := NewQueryRuns(depsWithArchive(stub))

	exec := newExecution(&capability.PlannedStep{ContextKey: "recent_runs"}, nil)
	err := c.Execute(context.Background(), exec)
	if err == nil {
		t.Fatal("Execute() should fail")
	}
	if got := c.ClassifyError(err); got.Severity != capability.SeverityRetriable {
		t.Errorf("severity = %v, want retriable", got.Severity)
	}
}

func TestNewQueryRunsMissingDataSource(t *testing.T) {
	if _, err := NewQueryRuns(capability.Dependencies{}); err == nil {
		t.Error("NewQueryRuns() without badger_archive should fail")
	}
}

func TestAnalyzeRunsCapability(t *testing.T) {
	c := NewAnalyzeRuns(capability.Dependencies{})
	exec := newExecution(&capability.PlannedStep{
		ContextKey: "run_analysis",
		Inputs:     []map[string]string{{"BADGER_RUNS": "recent_runs"}},
	}, nil)
	exec.Store.Put("recent_runs", sampleRuns())

	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	stored, err := exec.Store.Get(contexts.TypeRunAnalysis, "run_analysis")
	if err != nil {
		t.Fatal(err)
	}
	a := stored.(*contexts.RunAnalysis)
	if len(a.PerRunDetails) != 2 {
		t.Errorf("got %d details, want 2", len(a.PerRunDetails))
	}
	if a.SuccessPatterns.TopPerformers[0].RunName != "BadgerOpt-2025-03-14-093015" {
		t.Errorf("top performer = %+v", a.SuccessPatterns.TopPerformers[0])
	}
}

func TestAnalyzeRunsMissingInput(t *testing.T) {
	c := NewAnalyzeRuns(capability.Dependencies{})
	exec := newExecution(&capability.PlannedStep{ContextKey: "run_analysis"}, nil)

	err := c.Execute(context.Background(), exec)
	var insufficient *capability.InsufficientContextError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error = %v, want InsufficientContextError", err)
	}
}

func TestProposeRoutines(t *testing.T) {
	c := NewProposeRoutines(capability.Dependencies{})
	runs := sampleRuns()

	exec := newExecution(&capability.PlannedStep{
		ContextKey: "proposed",
		Inputs: []map[string]string{
			{"BADGER_RUNS": "recent_runs"},
			{"RUN_ANALYSIS": "run_analysis"},
		},
	}, nil)
	exec.Store.Put("recent_runs", runs)
	exec.Store.Put("run_analysis", &contexts.RunAnalysis{
		SuccessPatterns: contexts.SuccessPatterns{
			TopPerformers: []contexts.TopPerformer{
				{RunName: "BadgerOpt-2025-03-14-093015", ImprovementPct: 200, Algorithm: "expected_improvement"},
			},
		},
	})

	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	stored, err := exec.Store.Get(contexts.TypeBadgerRoutines, "proposed")
	if err != nil {
		t.Fatal(err)
	}
	out := stored.(*contexts.BadgerRoutines)
	if len(out.Routines) != 1 {
		t.Fatalf("got %d routines, want 1", len(out.Routines))
	}
	r := out.Routines[0]
	if r.SourceRun != "BadgerOpt-2025-03-14-093015" {
		t.Errorf("SourceRun = %q", r.SourceRun)
	}
	if !strings.Contains(r.YAMLContent, "relative_to_current: true") {
		t.Errorf("routine yaml missing safety default:\n%s", r.YAMLContent)
	}
	if out.GenerationMetadata.Method != "from_top_performer" {
		t.Errorf("Method = %q", out.GenerationMetadata.Method)
	}
}

func TestProposeRoutinesFallsBackToFirstRun(t *testing.T) {
	c := NewProposeRoutines(capability.Dependencies{})
	runs := sampleRuns()

	exec := newExecution(&capability.PlannedStep{
		ContextKey: "proposed",
		Inputs: []map[string]string{
			{"BADGER_RUNS": "recent_runs"},
			{"RUN_ANALYSIS": "run_analysis"},
		},
	}, nil)
	exec.Store.Put("recent_runs", runs)
	exec.Store.Put("run_analysis", &contexts.RunAnalysis{
		SuccessPatterns: contexts.SuccessPatterns{
			TopPerformers: []contexts.TopPerformer{{RunName: "not-in-set"}},
		},
	})

	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	stored, _ := exec.Store.Get(contexts.TypeBadgerRoutines, "proposed")
	out := stored.(*contexts.BadgerRoutines)
	if out.Routines[0].SourceRun != runs.Runs[0].RunName {
		t.Errorf("SourceRun = %q, want fallback to first run", out.Routines[0].SourceRun)
	}
}

func TestProposeRoutinesSkipsAbsentTopPerformer(t *testing.T) {
	// The best-ranked run may come from a different query than the
	// loaded set; the next ranked run that is present wins.
	c := NewProposeRoutines(capability.Dependencies{})
	runs := sampleRuns()

	exec := newExecution(&capability.PlannedStep{
		ContextKey: "proposed",
		Inputs: []map[string]string{
			{"BADGER_RUNS": "recent_runs"},
			{"RUN_ANALYSIS": "run_analysis"},
		},
	}, nil)
	exec.Store.Put("recent_runs", runs)
	exec.Store.Put("run_analysis", &contexts.RunAnalysis{
		SuccessPatterns: contexts.SuccessPatterns{
			TopPerformers: []contexts.TopPerformer{
				{RunName: "not-in-set", ImprovementPct: 400},
				{RunName: "BadgerOpt-2025-01-05-120000", ImprovementPct: 5, Algorithm: "nelder_mead"},
			},
		},
	})

	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	stored, _ := exec.Store.Get(contexts.TypeBadgerRoutines, "proposed")
	out := stored.(*contexts.BadgerRoutines)
	if out.Routines[0].SourceRun != "BadgerOpt-2025-01-05-120000" {
		t.Errorf("SourceRun = %q, want the present second-ranked run", out.Routines[0].SourceRun)
	}
	if out.GenerationMetadata.TopPerformerPct != 5 {
		t.Errorf("TopPerformerPct = %v, want the selected run's improvement", out.GenerationMetadata.TopPerformerPct)
	}
}

func TestProposeRoutinesErrorSeverities(t *testing.T) {
	c := NewProposeRoutines(capability.Dependencies{})

	// Missing inputs cannot be recovered by a retry.
	exec := newExecution(&capability.PlannedStep{
		ContextKey: "proposed",
		Inputs:     []map[string]string{{"BADGER_RUNS": "recent_runs"}},
	}, nil)
	exec.Store.Put("recent_runs", sampleRuns())

	err := c.Execute(context.Background(), exec)
	if err == nil {
		t.Fatal("Execute() should fail without analysis")
	}
	got := c.ClassifyError(err)
	if got.Severity != capability.SeverityCritical {
		t.Errorf("insufficient-context severity = %v, want critical", got.Severity)
	}
	if got.Resolution == "" {
		t.Error("insufficient-context classification should carry a resolution hint")
	}

	if got := c.ClassifyError(errors.New("disk full")); got.Severity != capability.SeverityRetriable {
		t.Errorf("other error severity = %v, want retriable", got.Severity)
	}
}

func TestRespond(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{
		{Content: "The best run improved pulse intensity by 200%."},
	}}
	c := NewRespond(&prompts.OtterResponseBuilder{})

	exec := newExecution(&capability.PlannedStep{
		ContextKey: "final",
		Capability: "respond",
	}, mock)
	exec.Task = "how did the runs go?"
	exec.History = []llm.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	exec.Store.Put("recent_runs", sampleRuns())

	if err := c.Execute(context.Background(), exec); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if exec.FinalResponse == "" {
		t.Fatal("FinalResponse not set")
	}

	req := mock.CapturedRequest()
	if req.Capability != model.CapabilityResponse {
		t.Errorf("model capability = %v, want response", req.Capability)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("got %d messages, want system + 2 history + user", len(req.Messages))
	}
	if !strings.Contains(req.Messages[len(req.Messages)-1].Content, "recent_runs") {
		t.Error("gathered contexts not rendered into the user message")
	}
}

func TestDefaultClassificationIsRetriable(t *testing.T) {
	c := NewExtractRunFilters(capability.Dependencies{})
	got := capability.Classify(c, fmt.Errorf("timeout"))
	if got.Severity != capability.SeverityRetriable {
		t.Errorf("severity = %v, want retriable", got.Severity)
	}
}
