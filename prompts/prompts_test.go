package prompts

import (
	"strings"
	"testing"

	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/contexts"
	"github.com/als-computing/otter/llm"
)

func TestGetProviderFallsBackToDefault(t *testing.T) {
	p := GetProvider("no-such-application")
	if p.ApplicationName() != "default" {
		t.Errorf("ApplicationName() = %q, want default", p.ApplicationName())
	}
}

func TestGetProviderOtter(t *testing.T) {
	p := GetProvider("otter")
	if p.ApplicationName() != "otter" {
		t.Errorf("ApplicationName() = %q, want otter", p.ApplicationName())
	}
}

func TestOrchestratorPromptOrdersByPriority(t *testing.T) {
	b := &DefaultOrchestratorBuilder{}
	prompt := b.BuildSystemPrompt([]GuideEntry{
		{CapabilityName: "respond", Guide: &capability.OrchestratorGuide{
			Instructions: "Generate the final answer.",
			Priority:     100,
		}},
		{CapabilityName: "query_runs", Guide: &capability.OrchestratorGuide{
			Instructions: "Query the archive.",
			Priority:     10,
		}},
	})

	qi := strings.Index(prompt, "## query_runs")
	ri := strings.Index(prompt, "## respond")
	if qi < 0 || ri < 0 {
		t.Fatalf("prompt missing capability sections:\n%s", prompt)
	}
	if qi > ri {
		t.Error("query_runs (priority 10) should appear before respond (priority 100)")
	}
}

func TestOtterResponseBuilderRendersRoutinesAsYAML(t *testing.T) {
	b := &OtterResponseBuilder{}
	routines := &contexts.BadgerRoutines{
		Routines: []contexts.ProposedRoutine{{
			Name:        "hxr_pulse_intensity_v2",
			YAMLContent: "name: hxr_pulse_intensity_v2\nalgorithm: expected_improvement\n",
			SourceRun:   "BadgerOpt-2025-03-14-093015",
		}},
		GenerationMetadata: contexts.GenerationMetadata{
			SourceRuns: []string{"BadgerOpt-2025-03-14-093015"},
		},
	}

	msgs := b.BuildMessages("propose a routine", []contexts.Entry{
		{Key: "PROPOSED_ROUTINES", Context: routines},
	}, nil)

	user := msgs[len(msgs)-1]
	if user.Role != "user" {
		t.Fatalf("last message role = %q, want user", user.Role)
	}
	if !strings.Contains(user.Content, "```yaml\nname: hxr_pulse_intensity_v2") {
		t.Errorf("routine YAML not rendered as code block:\n%s", user.Content)
	}
	if !strings.Contains(user.Content, "based on BadgerOpt-2025-03-14-093015") {
		t.Error("source run attribution missing")
	}
}

func TestOtterSystemInstructionsIncludeBOGuidance(t *testing.T) {
	b := &OtterResponseBuilder{}
	sys := b.SystemInstructions("summarize runs")
	for _, want := range []string{"BEST value", "Initial sampling", "MINIMIZE"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system instructions missing %q", want)
		}
	}
}

func TestDefaultBuildMessagesIncludesHistory(t *testing.T) {
	b := &DefaultResponseBuilder{}
	history := []llm.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	msgs := b.BuildMessages("new question", nil, history)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Content != "earlier question" {
		t.Error("message ordering wrong")
	}
}
