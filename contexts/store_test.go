package contexts

import (
	"testing"
)

func TestStorePutGet(t *testing.T) {
	s := NewStore()

	runs := &BadgerRuns{Runs: []*BadgerRun{{RunName: "scan-042"}}}
	s.Put("recent_runs", runs)

	got, err := s.Get(TypeBadgerRuns, "recent_runs")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.(*BadgerRuns).Runs[0].RunName != "scan-042" {
		t.Errorf("unexpected context: %+v", got)
	}

	if _, err := s.Get(TypeBadgerRuns, "missing"); err == nil {
		t.Error("expected error for missing key")
	}
	if _, err := s.Get(TypeRunAnalysis, "recent_runs"); err == nil {
		t.Error("expected error for wrong type")
	}
}

func TestStoreHasAndKeys(t *testing.T) {
	s := NewStore()
	s.Put("b", &BadgerRuns{})
	s.Put("a", &BadgerRuns{})
	s.Put("analysis", &RunAnalysis{})

	if !s.HasType(TypeBadgerRuns) {
		t.Error("HasType(BADGER_RUNS) = false")
	}
	if s.HasType(TypeBadgerRoutines) {
		t.Error("HasType(BADGER_ROUTINES) = true for empty type")
	}
	if !s.Has(TypeRunAnalysis, "analysis") {
		t.Error("Has(RUN_ANALYSIS, analysis) = false")
	}

	keys := s.Keys(TypeBadgerRuns)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys = %v, want sorted [a b]", keys)
	}

	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
}

func TestStoreUniqueKey(t *testing.T) {
	s := NewStore()

	if got := s.UniqueKey(TypeBadgerRuns, "recent_runs"); got != "recent_runs" {
		t.Errorf("UniqueKey on empty store = %q", got)
	}

	s.Put("recent_runs", &BadgerRuns{})
	if got := s.UniqueKey(TypeBadgerRuns, "recent_runs"); got != "recent_runs_2" {
		t.Errorf("UniqueKey after collision = %q, want recent_runs_2", got)
	}

	s.Put("recent_runs_2", &BadgerRuns{})
	if got := s.UniqueKey(TypeBadgerRuns, "recent_runs"); got != "recent_runs_3" {
		t.Errorf("UniqueKey after two collisions = %q, want recent_runs_3", got)
	}
}

func TestStoreAllOrdering(t *testing.T) {
	s := NewStore()
	s.Put("z", &RunAnalysis{})
	s.Put("runs", &BadgerRuns{})

	entries := s.All()
	if len(entries) != 2 {
		t.Fatalf("All = %d entries, want 2", len(entries))
	}
	// BADGER_RUNS sorts before RUN_ANALYSIS.
	if entries[0].Type != TypeBadgerRuns || entries[1].Type != TypeRunAnalysis {
		t.Errorf("unexpected order: %v, %v", entries[0].Type, entries[1].Type)
	}
}

func TestBadgerRunsFindRun(t *testing.T) {
	runs := &BadgerRuns{Runs: []*BadgerRun{
		{RunName: "a"},
		{RunName: "b"},
	}}

	if got := runs.FindRun("b"); got == nil || got.RunName != "b" {
		t.Errorf("FindRun(b) = %v", got)
	}
	if got := runs.FindRun("missing"); got != nil {
		t.Errorf("FindRun(missing) = %v, want nil", got)
	}
}
