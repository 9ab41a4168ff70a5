package routine

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/als-computing/otter/contexts"
)

func sourceRun() *contexts.BadgerRun {
	return &contexts.BadgerRun{
		RunName:           "BadgerOpt-2025-03-14-093015",
		Beamline:          "cu_hxr",
		BadgerEnvironment: "lcls",
		Algorithm:         "expected_improvement",
		NumEvaluations:    42,
		BadgerVersion:     "1.3.1",
		Variables: []contexts.VariableRange{
			{Name: "QUAD:LTUH:620:BCTRL", Range: [2]float64{-0.01, 0.01}},
			{Name: "QUAD:LTUH:640:BCTRL", Range: [2]float64{-0.012, 0.012}},
		},
		Objectives: []contexts.Objective{
			{Name: "pulse_intensity", Direction: contexts.DirectionMaximize},
		},
	}
}

func TestComposeDefaults(t *testing.T) {
	r, err := Compose(sourceRun(), "")
	if err != nil {
		t.Fatal(err)
	}

	if r.Name != "BadgerOpt-2025-03-14-093015-proposed" {
		t.Errorf("Name = %q", r.Name)
	}
	if !r.RelativeToCurrent {
		t.Error("RelativeToCurrent must default to true")
	}
	if len(r.InitialPointActions) != 1 || r.InitialPointActions[0]["type"] != "add_curr" {
		t.Errorf("InitialPointActions = %v, want [{type: add_curr}]", r.InitialPointActions)
	}
	if r.InitialPoints != nil {
		t.Error("InitialPoints must be nil; initial_point_actions supplies the start")
	}
	if r.Environment.Name != "lcls" {
		t.Errorf("Environment.Name = %q", r.Environment.Name)
	}
	if r.Generator.Name != "expected_improvement" {
		t.Errorf("Generator.Name = %q", r.Generator.Name)
	}
}

func TestComposeNameOverride(t *testing.T) {
	r, err := Compose(sourceRun(), "hxr_intensity_v2")
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "hxr_intensity_v2" {
		t.Errorf("Name = %q, want hxr_intensity_v2", r.Name)
	}
}

func TestVOCSFromRun(t *testing.T) {
	v := VOCSFromRun(sourceRun())

	want := []float64{-0.01, 0.01}
	got := v.Variables["QUAD:LTUH:620:BCTRL"]
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("variable bounds = %v, want %v", got, want)
	}
	if v.Objectives["pulse_intensity"] != "MAXIMIZE" {
		t.Errorf("objective direction = %q", v.Objectives["pulse_intensity"])
	}
	if v.Constraints == nil || v.Constants == nil || v.Observables == nil {
		t.Error("VOCS collections must be present even when empty")
	}
}

func TestComposeRejectsIncompleteRuns(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*contexts.BadgerRun)
	}{
		{"no variables", func(r *contexts.BadgerRun) { r.Variables = nil }},
		{"no objectives", func(r *contexts.BadgerRun) { r.Objectives = nil }},
		{"no environment", func(r *contexts.BadgerRun) { r.BadgerEnvironment = "" }},
		{"no generator", func(r *contexts.BadgerRun) { r.Algorithm = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := sourceRun()
			tt.mutate(run)
			if _, err := Compose(run, ""); err == nil {
				t.Error("Compose() should fail")
			}
		})
	}
}

func TestToYAMLRoundTrip(t *testing.T) {
	r, err := Compose(sourceRun(), "")
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.ToYAML()
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out, "relative_to_current: true") {
		t.Errorf("yaml missing safety default:\n%s", out)
	}
	if !strings.Contains(out, "initial_points: null") {
		t.Errorf("yaml missing explicit null initial_points:\n%s", out)
	}

	var back Routine
	if err := yaml.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("routine yaml does not parse back: %v", err)
	}
	if back.Name != r.Name || back.VOCS.Objectives["pulse_intensity"] != "MAXIMIZE" {
		t.Errorf("round trip lost fields: %+v", back)
	}
}
