package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/als-computing/otter/app"
	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/llm/testutil"
	"github.com/als-computing/otter/registry"
)

type fakeArchive struct {
	runs     *contexts.BadgerRuns
	failures int
	calls    int
}

func (f *fakeArchive) Name() string                      { return "badger_archive" }
func (f *fakeArchive) Description() string               { return "fake archive" }
func (f *fakeArchive) HealthCheck(context.Context) error { return nil }

func (f *fakeArchive) Query(context.Context, contexts.RunQueryFilters) (*contexts.BadgerRuns, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("archive offline")
	}
	return f.runs, nil
}

func archivedRuns() *contexts.BadgerRuns {
	return &contexts.BadgerRuns{
		Runs: []*contexts.BadgerRun{{
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
			ObjectiveSeries: map[string][]float64{"pulse_intensity": {1.0, 2.0, 3.0}},
		}},
	}
}

func testRegistry(t *testing.T, arch *fakeArchive) *registry.Registry {
	t.Helper()
	reg, err := registry.ExtendFrameworkRegistry(app.RegistryConfig(arch), capability.Dependencies{})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func resp(content string) *llm.Response {
	return &llm.Response{Content: content, Model: "test-model"}
}

const fullPlan = `{
  "steps": [
    {"context_key": "recent_runs", "capability": "query_runs", "task_objective": "get recent runs", "expected_output": "BADGER_RUNS"},
    {"context_key": "run_analysis", "capability": "analyze_runs", "task_objective": "analyze them", "expected_output": "RUN_ANALYSIS",
     "inputs": [{"BADGER_RUNS": "recent_runs"}]},
    {"context_key": "final", "capability": "respond", "task_objective": "answer the user"}
  ],
  "reasoning": "query, analyze, respond"
}`

func TestHandleMessageNonActionable(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(`{"actionable": false, "reason": "greeting"}`),
		resp("Hello! Ask me about your Badger runs."),
	}}
	a := New(testRegistry(t, &fakeArchive{runs: archivedRuns()}), mock, nil)

	result, err := a.HandleMessage(context.Background(), "hi there", nil, nil)
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if result.Response != "Hello! Ask me about your Badger runs." {
		t.Errorf("Response = %q", result.Response)
	}
	if result.StepsRun != 1 {
		t.Errorf("StepsRun = %d, want 1 (respond only)", result.StepsRun)
	}
	if mock.CallCount() != 2 {
		t.Errorf("CallCount = %d, want classifier + respond", mock.CallCount())
	}
}

func TestHandleMessageFullPipeline(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(`{"actionable": true, "reason": "needs run data"}`),
		resp(fullPlan),
		resp("The best run improved pulse intensity by 200%."),
	}}
	a := New(testRegistry(t, &fakeArchive{runs: archivedRuns()}), mock, nil)

	result, err := a.HandleMessage(context.Background(), "how did recent runs go?", nil, nil)
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if result.StepsRun != 3 {
		t.Errorf("StepsRun = %d, want 3", result.StepsRun)
	}
	if !result.Store.Has(contexts.TypeBadgerRuns, "recent_runs") {
		t.Error("BADGER_RUNS context missing")
	}
	if !result.Store.Has(contexts.TypeRunAnalysis, "run_analysis") {
		t.Error("RUN_ANALYSIS context missing")
	}
	if result.Response == "" {
		t.Error("Response empty")
	}
}

func TestHandleMessageEmptyPlanRespondsDirectly(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(`{"actionable": true}`),
		resp(`{"steps": [], "reasoning": "nothing to gather"}`),
		resp("Bayesian Optimization balances exploration and exploitation."),
	}}
	a := New(testRegistry(t, &fakeArchive{runs: archivedRuns()}), mock, nil)

	result, err := a.HandleMessage(context.Background(), "explain BO", nil, nil)
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if result.StepsRun != 1 {
		t.Errorf("StepsRun = %d, want 1", result.StepsRun)
	}
}

func TestHandleMessageUnknownCapabilityReplansOnce(t *testing.T) {
	badPlan := `{"steps": [{"context_key": "x", "capability": "frobnicate"}]}`
	goodPlan := `{"steps": [{"context_key": "final", "capability": "respond"}]}`
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(`{"actionable": true}`),
		resp(badPlan),
		resp(goodPlan),
		resp("Done."),
	}}
	a := New(testRegistry(t, &fakeArchive{runs: archivedRuns()}), mock, nil)

	result, err := a.HandleMessage(context.Background(), "do something", nil, nil)
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if result.Response != "Done." {
		t.Errorf("Response = %q", result.Response)
	}
}

func TestHandleMessageUnknownCapabilityTwiceFails(t *testing.T) {
	badPlan := `{"steps": [{"context_key": "x", "capability": "frobnicate"}]}`
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(`{"actionable": true}`),
		resp(badPlan),
		resp(badPlan),
	}}
	a := New(testRegistry(t, &fakeArchive{runs: archivedRuns()}), mock, nil)

	_, err := a.HandleMessage(context.Background(), "do something", nil, nil)
	var unknown *UnknownCapabilityError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want UnknownCapabilityError", err)
	}
}

func TestPlanRejectsUnsatisfiedRequirements(t *testing.T) {
	// propose_routines before anything gathers runs or analysis.
	misordered := `{"steps": [
	  {"context_key": "proposed", "capability": "propose_routines"},
	  {"context_key": "final", "capability": "respond"}
	]}`
	mock := &testutil.MockClient{Responses: []*llm.Response{resp(misordered)}}
	orch := NewOrchestrator(mock, testRegistry(t, &fakeArchive{runs: archivedRuns()}), nil)

	_, err := orch.Plan(context.Background(), PlanRequest{Task: "propose a routine"})
	var invalid *InvalidPlanError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidPlanError", err)
	}
	if invalid.Capability != "propose_routines" {
		t.Errorf("Capability = %q, want propose_routines", invalid.Capability)
	}
}

func TestPlanAcceptsRequirementsFromStore(t *testing.T) {
	// Contexts already gathered count toward requirements, so replans can
	// build on earlier steps.
	store := contexts.NewStore()
	store.Put("recent_runs", archivedRuns())
	plan := `{"steps": [
	  {"context_key": "run_analysis", "capability": "analyze_runs", "inputs": [{"BADGER_RUNS": "recent_runs"}]},
	  {"context_key": "final", "capability": "respond"}
	]}`
	mock := &testutil.MockClient{Responses: []*llm.Response{resp(plan)}}
	orch := NewOrchestrator(mock, testRegistry(t, &fakeArchive{runs: archivedRuns()}), nil)

	got, err := orch.Plan(context.Background(), PlanRequest{Task: "analyze them", Store: store})
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Errorf("got %d steps, want 2", len(got.Steps))
	}
}

func TestHandleMessageMisorderedPlanReplansOnce(t *testing.T) {
	misordered := `{"steps": [
	  {"context_key": "proposed", "capability": "propose_routines"},
	  {"context_key": "final", "capability": "respond"}
	]}`
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(`{"actionable": true}`),
		resp(misordered),
		resp(fullPlan),
		resp("The runs improved steadily."),
	}}
	a := New(testRegistry(t, &fakeArchive{runs: archivedRuns()}), mock, nil)

	result, err := a.HandleMessage(context.Background(), "how did runs go?", nil, nil)
	if err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}
	if result.Response != "The runs improved steadily." {
		t.Errorf("Response = %q", result.Response)
	}
}

func TestExecutorCriticalAborts(t *testing.T) {
	// Empty archive makes query_runs fail critically; the plan aborts
	// without reaching respond.
	arch := &fakeArchive{runs: &contexts.BadgerRuns{}}
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(`{"actionable": true}`),
		resp(fullPlan),
	}}
	a := New(testRegistry(t, arch), mock, nil)

	_, err := a.HandleMessage(context.Background(), "how did runs go?", nil, nil)
	var failed *StepFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want StepFailedError", err)
	}
	if failed.Classification.Severity != capability.SeverityCritical {
		t.Errorf("severity = %v, want critical", failed.Classification.Severity)
	}
	if failed.Classification.UserMessage == "" {
		t.Error("critical failure must carry a user message")
	}
}

func TestExecutorRetriesRetriableFailures(t *testing.T) {
	// First archive call fails, the retry succeeds.
	arch := &fakeArchive{runs: archivedRuns(), failures: 1}
	reg := testRegistry(t, arch)
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp("All good."),
	}}

	exec := NewExecutor(mock, reg, nil, WithRetryDelay(time.Millisecond))
	plan := &capability.ExecutionPlan{Steps: []capability.PlannedStep{
		{ContextKey: "recent_runs", Capability: "query_runs"},
		{ContextKey: "final", Capability: "respond"},
	}}

	result, err := exec.Execute(context.Background(), plan, "task", nil, nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if arch.calls != 2 {
		t.Errorf("archive calls = %d, want 2 (one failure, one retry)", arch.calls)
	}
	if result.Response != "All good." {
		t.Errorf("Response = %q", result.Response)
	}
}

func TestExecutorRetriesExhaust(t *testing.T) {
	arch := &fakeArchive{runs: archivedRuns(), failures: 10}
	reg := testRegistry(t, arch)
	mock := &testutil.MockClient{}

	exec := NewExecutor(mock, reg, nil, WithRetryDelay(time.Millisecond), WithStepRetries(2))
	plan := &capability.ExecutionPlan{Steps: []capability.PlannedStep{
		{ContextKey: "recent_runs", Capability: "query_runs"},
	}}

	_, err := exec.Execute(context.Background(), plan, "task", nil, nil)
	var failed *StepFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want StepFailedError", err)
	}
	if arch.calls != 3 {
		t.Errorf("archive calls = %d, want initial + 2 retries", arch.calls)
	}
}

// trendSummarizer is a test capability whose missing-input failures ask
// for a new plan instead of aborting.
type trendSummarizer struct{}

func (c *trendSummarizer) Name() string              { return "summarize_trends" }
func (c *trendSummarizer) Description() string       { return "Summarize analysis trends" }
func (c *trendSummarizer) Provides() []contexts.Type { return nil }
func (c *trendSummarizer) Requires() []contexts.Type {
	return []contexts.Type{contexts.TypeRunAnalysis}
}

func (c *trendSummarizer) Execute(ctx context.Context, exec *capability.Execution) error {
	if _, err := exec.Input(contexts.TypeRunAnalysis); err != nil {
		return errors.New("no analysis to summarize")
	}
	return nil
}

func (c *trendSummarizer) ClassifyError(err error) capability.ErrorClassification {
	return capability.ErrorClassification{
		Severity:         capability.SeverityReplanning,
		TechnicalDetails: err.Error(),
	}
}

func TestExecutorReplansOnReplanningSeverity(t *testing.T) {
	// summarize_trends without its analysis input fails with replanning
	// severity; the corrected plan gathers the inputs first.
	arch := &fakeArchive{runs: archivedRuns()}
	cfg := app.RegistryConfig(arch)
	cfg.Capabilities = append(cfg.Capabilities, registry.CapabilityRegistration{
		Name: "summarize_trends",
		Factory: func(capability.Dependencies) (capability.Capability, error) {
			return &trendSummarizer{}, nil
		},
	})
	reg, err := registry.ExtendFrameworkRegistry(cfg, capability.Dependencies{})
	if err != nil {
		t.Fatal(err)
	}

	correctedPlan := `{
	  "steps": [
	    {"context_key": "recent_runs", "capability": "query_runs"},
	    {"context_key": "run_analysis", "capability": "analyze_runs", "inputs": [{"BADGER_RUNS": "recent_runs"}]},
	    {"context_key": "trends", "capability": "summarize_trends", "inputs": [{"RUN_ANALYSIS": "run_analysis"}]},
	    {"context_key": "final", "capability": "respond"}
	  ]
	}`
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(correctedPlan),
		resp("Recent runs are trending upward."),
	}}

	orch := NewOrchestrator(mock, reg, nil)
	exec := NewExecutor(mock, reg, nil, WithPlanner(orch), WithRetryDelay(time.Millisecond))

	badPlan := &capability.ExecutionPlan{Steps: []capability.PlannedStep{
		{ContextKey: "trends", Capability: "summarize_trends"},
		{ContextKey: "final", Capability: "respond"},
	}}

	result, err := exec.Execute(context.Background(), badPlan, "summarize recent trends", nil, nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !result.Replanned {
		t.Error("Replanned should be true")
	}
	if !result.Store.Has(contexts.TypeRunAnalysis, "run_analysis") {
		t.Error("RUN_ANALYSIS context missing after replan")
	}
}

func TestClassifierDegradesToActionable(t *testing.T) {
	mock := &testutil.MockClient{Err: errors.New("model down")}
	c := NewTaskClassifier(mock, nil)
	got := c.Classify(context.Background(), "anything")
	if !got.Actionable {
		t.Error("classifier failure must degrade to actionable")
	}
	if len(got.ActiveCapabilities) != 0 {
		t.Error("a failed classification must not narrow the capability set")
	}
}

func TestClassifierMarksActiveCapabilities(t *testing.T) {
	mock := &testutil.MockClient{Responses: []*llm.Response{
		resp(`{"actionable": false, "active_capabilities": ["query_runs", "analyze_runs"], "reason": "needs run data"}`),
	}}
	reg := testRegistry(t, &fakeArchive{runs: archivedRuns()})
	c := NewTaskClassifier(mock, reg.ClassifierGuides())

	got := c.Classify(context.Background(), "how did last week's runs perform?")
	if len(got.ActiveCapabilities) != 2 || got.ActiveCapabilities[0] != "query_runs" {
		t.Errorf("ActiveCapabilities = %v", got.ActiveCapabilities)
	}
	// Naming active capabilities implies the message needs them.
	if !got.Actionable {
		t.Error("a message with active capabilities must be actionable")
	}

	system := mock.CapturedRequest().Messages[0].Content
	if !strings.Contains(system, `"query_runs"`) {
		t.Error("classifier prompt should name the capabilities it can activate")
	}
}

func TestPlanFiltersGuidesToActiveCapabilities(t *testing.T) {
	plan := `{"steps": [
	  {"context_key": "recent_runs", "capability": "query_runs"},
	  {"context_key": "final", "capability": "respond"}
	]}`
	mock := &testutil.MockClient{Responses: []*llm.Response{resp(plan)}}
	orch := NewOrchestrator(mock, testRegistry(t, &fakeArchive{runs: archivedRuns()}), nil)

	_, err := orch.Plan(context.Background(), PlanRequest{
		Task:               "show recent runs",
		ActiveCapabilities: []string{"query_runs"},
	})
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	system := mock.CapturedRequest().Messages[0].Content
	if !strings.Contains(system, "## query_runs") {
		t.Error("active capability guide missing from planning prompt")
	}
	if !strings.Contains(system, "## respond") {
		t.Error("respond guide must always stay in the planning prompt")
	}
	if strings.Contains(system, "## propose_routines") {
		t.Error("inactive capability guide should be filtered out")
	}
}
