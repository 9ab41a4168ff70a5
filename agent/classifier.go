// Package agent runs the message pipeline: classify the task, plan a
// capability sequence, execute it, and produce the final response.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/model"
	"github.com/als-computing/otter/registry"
)

// Classification is the task classifier's verdict on one user message.
type Classification struct {
	// Actionable is true when the message needs data-gathering
	// capabilities. Greetings and general questions go straight to
	// respond.
	Actionable bool `json:"actionable"`

	// ActiveCapabilities names the capabilities relevant to the message.
	// The orchestrator plans from their guides only. Empty means the
	// classifier could not narrow the set and every guide stays in play.
	ActiveCapabilities []string `json:"active_capabilities,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// TaskClassifier decides which capabilities a message activates, using
// a fast model and the capabilities' classifier guides.
type TaskClassifier struct {
	llm    llm.Completer
	guides []registry.ClassifierEntry
}

// NewTaskClassifier builds a classifier over the given guides.
func NewTaskClassifier(client llm.Completer, guides []registry.ClassifierEntry) *TaskClassifier {
	return &TaskClassifier{llm: client, guides: guides}
}

// Classify labels a user message. Classification failures degrade to
// actionable with no capability narrowing so a broken classifier never
// blocks real work.
func (c *TaskClassifier) Classify(ctx context.Context, task string) Classification {
	resp, err := c.llm.Complete(ctx, llm.Request{
		Capability: model.CapabilityClassifier,
		Messages: []llm.Message{
			{Role: "system", Content: c.systemPrompt()},
			{Role: "user", Content: task},
		},
	})
	if err != nil {
		return Classification{Actionable: true, Reason: fmt.Sprintf("classifier unavailable: %v", err)}
	}

	raw := llm.ExtractJSON(resp.Content)
	if raw == "" {
		return Classification{Actionable: true, Reason: "classifier returned no JSON"}
	}
	var out Classification
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Classification{Actionable: true, Reason: fmt.Sprintf("unparseable classification: %v", err)}
	}
	// A message that activates capabilities is actionable regardless of
	// what the model put in the boolean.
	if len(out.ActiveCapabilities) > 0 {
		out.Actionable = true
	}
	return out
}

func (c *TaskClassifier) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You decide which capabilities a user message needs before it " +
		"can be answered. Respond with a single JSON object: " +
		`{"actionable": true|false, "active_capabilities": ["<name>", ...], "reason": "<one line>"}.` + "\n\n" +
		"List every capability below whose description matches the message. " +
		"actionable=false with an empty list for greetings, thanks, and " +
		"questions answerable from general knowledge alone.\n")

	for _, entry := range c.guides {
		if entry.Guide == nil {
			continue
		}
		fmt.Fprintf(&sb, "\nCapability %q: %s\n", entry.CapabilityName, entry.Guide.Instructions)
		for _, ex := range entry.Guide.Examples {
			fmt.Fprintf(&sb, "- %q -> active=%t (%s)\n", ex.Query, ex.Result, ex.Reason)
		}
	}
	return sb.String()
}
