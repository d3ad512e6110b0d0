// Package resolve suggests resolution steps for a classified ticket from the
// resolutions of similar historical tickets.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/psds-microservice/ticket-intake-service/internal/extract"
	"github.com/psds-microservice/ticket-intake-service/internal/llm"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"go.uber.org/zap"
)

const (
	maxReferences = 5
	maxSteps      = 15
	maxRunes      = 4000
)

const promptTemplate = `You are an IT support resolution engineer. Write a technical, step-by-step resolution for a new support ticket.

Ticket title: %q
Ticket description: %q
Main issue: %q
Affected system: %q
%s
Instructions:
1. Focus only on the described issue.
2. Give about 10 concrete steps, with commands or configuration paths where they help.

Respond with JSON only: {"steps": ["Step 1: ...", "Step 2: ..."]}`

// Reference is a resolved historical ticket offered to the model as an example.
type Reference struct {
	Title      string
	Resolution string
}

// Generator writes suggested resolutions. A nil completer only reuses the best
// reference's resolution.
type Generator struct {
	llm llm.Completer
	log *zap.Logger
}

func NewGenerator(completer llm.Completer, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{llm: completer, log: log}
}

// Suggest never fails. It returns the resolution text and its source: model.SourceLLM
// for generated steps, model.SourceSimilarity when the best reference is reused, or
// empty strings when there is nothing to offer. refs are expected best first.
func (g *Generator) Suggest(ctx context.Context, title, description string, meta extract.Metadata, refs []Reference) (string, string) {
	refs = usable(refs)
	if g.llm != nil {
		out, err := g.llm.Complete(ctx, prompt(title, description, meta, refs))
		if err != nil {
			g.log.Warn("resolve: language model failed, reusing similar ticket", zap.Error(err))
		} else if text := parseSteps(out); text != "" {
			return text, model.SourceLLM
		} else {
			g.log.Warn("resolve: malformed model output, reusing similar ticket", zap.Int("output_len", len(out)))
		}
	}
	if len(refs) == 0 {
		return "", ""
	}
	return clip(refs[0].Resolution), model.SourceSimilarity
}

func usable(refs []Reference) []Reference {
	var out []Reference
	for _, r := range refs {
		if strings.TrimSpace(r.Resolution) == "" {
			continue
		}
		out = append(out, r)
		if len(out) == maxReferences {
			break
		}
	}
	return out
}

func prompt(title, description string, meta extract.Metadata, refs []Reference) string {
	var b strings.Builder
	if len(refs) > 0 {
		b.WriteString("\nResolved similar tickets:\n")
		for i, r := range refs {
			fmt.Fprintf(&b, "%d. %s\n   Resolution: %s\n", i+1, r.Title, strings.TrimSpace(r.Resolution))
		}
	}
	return fmt.Sprintf(promptTemplate, title, description, meta.MainIssue, meta.AffectedSystem, b.String())
}

type rawSteps struct {
	Steps      json.RawMessage `json:"steps"`
	Resolution json.RawMessage `json:"resolution"`
}

type rawStep struct {
	Step        json.RawMessage `json:"step"`
	Description string          `json:"description"`
	Text        string          `json:"text"`
}

// parseSteps turns model output into numbered lines. Output without a JSON object is
// taken as plain text.
func parseSteps(out string) string {
	body, err := extract.JSONObject(out)
	if err != nil {
		return clip(out)
	}
	var raw rawSteps
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return ""
	}
	var steps []string
	var list []string
	var objs []rawStep
	switch {
	case json.Unmarshal(raw.Steps, &list) == nil && len(list) > 0:
		steps = list
	case json.Unmarshal(raw.Steps, &objs) == nil && len(objs) > 0:
		for _, o := range objs {
			text := o.Description
			if text == "" {
				text = o.Text
			}
			steps = append(steps, text)
		}
	default:
		var s string
		if json.Unmarshal(raw.Resolution, &s) == nil {
			return clip(s)
		}
		return ""
	}

	var lines []string
	for _, s := range steps {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if len(lines) == maxSteps {
			break
		}
		if !strings.HasPrefix(strings.ToLower(s), "step ") {
			s = fmt.Sprintf("Step %d: %s", len(lines)+1, s)
		}
		lines = append(lines, s)
	}
	return clip(strings.Join(lines, "\n"))
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:maxRunes]))
}
