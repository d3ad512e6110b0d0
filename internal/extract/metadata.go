// Package extract turns free ticket text into validated Metadata, either through the
// language model or through a keyword heuristic when the model is unavailable.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/psds-microservice/ticket-intake-service/internal/taxonomy"
)

// Metadata is the normalized result of extraction. Every field is optional.
type Metadata struct {
	MainIssue            string   `json:"main_issue,omitempty"`
	AffectedSystem       string   `json:"affected_system,omitempty"`
	UrgencyLevel         string   `json:"urgency_level,omitempty"`
	ErrorMessages        []string `json:"error_messages,omitempty"`
	TechnicalKeywords    []string `json:"technical_keywords,omitempty"`
	UserActions          string   `json:"user_actions,omitempty"`
	ResolutionIndicators string   `json:"resolution_indicators,omitempty"`
}

// Text joins every field into one lower-cased string for keyword matching.
func (m Metadata) Text() string {
	parts := []string{m.MainIssue, m.AffectedSystem, m.UserActions, m.ResolutionIndicators}
	parts = append(parts, m.ErrorMessages...)
	parts = append(parts, m.TechnicalKeywords...)
	return strings.ToLower(strings.Join(parts, " "))
}

func (m Metadata) Empty() bool {
	return m.MainIssue == "" && m.AffectedSystem == "" && m.UrgencyLevel == "" &&
		len(m.ErrorMessages) == 0 && len(m.TechnicalKeywords) == 0 &&
		m.UserActions == "" && m.ResolutionIndicators == ""
}

// rawMetadata accepts the loose shapes models actually return: lists may come as
// comma-separated strings and scalars may come as lists.
type rawMetadata struct {
	MainIssue            json.RawMessage `json:"main_issue"`
	AffectedSystem       json.RawMessage `json:"affected_system"`
	UrgencyLevel         json.RawMessage `json:"urgency_level"`
	ErrorMessages        json.RawMessage `json:"error_messages"`
	TechnicalKeywords    json.RawMessage `json:"technical_keywords"`
	UserActions          json.RawMessage `json:"user_actions"`
	ResolutionIndicators json.RawMessage `json:"resolution_indicators"`
}

var errNoJSON = errors.New("extract: no JSON object in model output")

// Parse extracts the first JSON object from model output (code fences and prose around
// it are ignored) and normalizes it against the taxonomy.
func Parse(out string, tax *taxonomy.Taxonomy) (Metadata, error) {
	body, err := JSONObject(out)
	if err != nil {
		return Metadata{}, err
	}
	var raw rawMetadata
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Metadata{}, fmt.Errorf("extract: decode model output: %w", err)
	}
	m := Metadata{
		MainIssue:            flexString(raw.MainIssue),
		AffectedSystem:       flexString(raw.AffectedSystem),
		UrgencyLevel:         flexString(raw.UrgencyLevel),
		ErrorMessages:        flexList(raw.ErrorMessages),
		TechnicalKeywords:    flexList(raw.TechnicalKeywords),
		UserActions:          flexString(raw.UserActions),
		ResolutionIndicators: flexString(raw.ResolutionIndicators),
	}
	return Normalize(m, tax), nil
}

// Normalize trims every field, maps the urgency onto the priority picklist (dropping
// unknown values) and de-duplicates keywords.
func Normalize(m Metadata, tax *taxonomy.Taxonomy) Metadata {
	m.MainIssue = clip(m.MainIssue, 500)
	m.AffectedSystem = clip(m.AffectedSystem, 200)
	m.UserActions = clip(m.UserActions, 500)
	m.ResolutionIndicators = clip(m.ResolutionIndicators, 500)
	if u, ok := tax.Normalize(taxonomy.FieldPriority, m.UrgencyLevel); ok {
		m.UrgencyLevel = u
	} else {
		m.UrgencyLevel = ""
	}
	m.ErrorMessages = dedupe(m.ErrorMessages, false)
	m.TechnicalKeywords = dedupe(m.TechnicalKeywords, true)
	return m
}

// JSONObject returns the outermost {...} span of model output with code fences removed.
func JSONObject(out string) (string, error) {
	body := stripFences(out)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return "", errNoJSON
	}
	return body[start : end+1], nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func flexString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

func flexList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.Split(s, ",")
	}
	return nil
}

func dedupe(in []string, lower bool) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, v := range in {
		v = clip(v, 200)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if lower {
		sort.Strings(out)
	}
	return out
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "n/a") {
		return ""
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
