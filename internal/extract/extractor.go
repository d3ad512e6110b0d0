package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/psds-microservice/ticket-intake-service/internal/llm"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/taxonomy"
	"go.uber.org/zap"
)

const promptTemplate = `Analyze the following IT support ticket and extract metadata as a single JSON object.

Ticket title: %q
Ticket description: %q

Urgency guidelines:
- "Critical": system down, security breach, data loss, business-critical functions unavailable
- "High": major functionality impaired, multiple users affected, workarounds difficult
- "Medium": single user affected, workarounds available
- "Low": minor or cosmetic issues, feature requests, general questions

Respond with JSON only, using exactly these keys:
{
  "main_issue": "the main problem described",
  "affected_system": "system or application affected",
  "urgency_level": "one of %s",
  "error_messages": ["exact error texts, codes or failure symptoms"],
  "technical_keywords": ["technical", "terms"],
  "user_actions": "what the user was doing when the issue occurred",
  "resolution_indicators": "likely resolution approach"
}`

// Extractor produces Metadata for a ticket. A nil completer always uses the heuristic.
type Extractor struct {
	llm llm.Completer
	tax *taxonomy.Taxonomy
	log *zap.Logger
}

func NewExtractor(completer llm.Completer, tax *taxonomy.Taxonomy, log *zap.Logger) *Extractor {
	return &Extractor{llm: completer, tax: tax, log: log}
}

// Extract never fails: model errors and malformed output fall back to Heuristic.
// The second result names the path used (model.SourceLLM or model.SourceHeuristic).
func (e *Extractor) Extract(ctx context.Context, title, description string) (Metadata, string) {
	if e.llm == nil {
		return Heuristic(title, description, e.tax), model.SourceHeuristic
	}
	prompt := fmt.Sprintf(promptTemplate, title, description,
		strings.Join(e.tax.Picklists[taxonomy.FieldPriority], ", "))
	out, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		e.log.Warn("extract: language model failed, using heuristic", zap.Error(err))
		return Heuristic(title, description, e.tax), model.SourceHeuristic
	}
	m, err := Parse(out, e.tax)
	if err != nil || m.Empty() {
		e.log.Warn("extract: malformed model output, using heuristic", zap.Error(err), zap.Int("output_len", len(out)))
		return Heuristic(title, description, e.tax), model.SourceHeuristic
	}
	if m.MainIssue == "" {
		m.MainIssue = clip(title, 500)
	}
	return m, model.SourceLLM
}

var quoted = regexp.MustCompile(`"([^"]{3,200})"|'([^']{3,200})'`)

// Heuristic builds Metadata without a model: the title is the main issue, quoted
// fragments are error messages and rule keywords found in the text are technical keywords.
func Heuristic(title, description string, tax *taxonomy.Taxonomy) Metadata {
	text := strings.ToLower(title + " " + description)
	m := Metadata{MainIssue: title}
	for _, g := range quoted.FindAllStringSubmatch(description, -1) {
		if g[1] != "" {
			m.ErrorMessages = append(m.ErrorMessages, g[1])
		} else {
			m.ErrorMessages = append(m.ErrorMessages, g[2])
		}
	}
	for _, r := range tax.Rules {
		for _, kw := range r.Keywords {
			kw = strings.ToLower(kw)
			if ContainsTerm(text, kw) {
				m.TechnicalKeywords = append(m.TechnicalKeywords, kw)
			}
		}
	}
	return Normalize(m, tax)
}

// ContainsTerm reports whether term occurs in text on word boundaries.
// Both arguments are expected lower-cased.
func ContainsTerm(text, term string) bool {
	if term == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(text[from:], term)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(term)
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
