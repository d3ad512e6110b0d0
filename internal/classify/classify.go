// Package classify assigns picklist labels to a ticket from similar-ticket evidence,
// keyword rules and safe defaults, evaluated in that order per field.
package classify

import (
	"math"
	"strings"

	"github.com/psds-microservice/ticket-intake-service/internal/extract"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/taxonomy"
)

const DefaultMinShare = 0.4

// Evidence is one similar historical ticket with its similarity score.
type Evidence struct {
	ID     uint64
	Labels model.Classification
	Score  float64
}

type Input struct {
	Title       string
	Description string
	Metadata    extract.Metadata
	Similar     []Evidence
}

// Decision is the outcome for one field.
type Decision struct {
	Label      string  `json:"label"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

type Result struct {
	Classification model.Classification
	// Confidence is the minimum over the voted fields.
	Confidence    float64
	LowConfidence bool
	// Source is the weakest strategy that decided any field.
	Source string
	Fields map[taxonomy.Field]Decision
}

// Strategy decides a field or declines.
type Strategy interface {
	Name() string
	Decide(f taxonomy.Field, in Input) (label string, confidence float64, ok bool)
}

// Voted are the fields decided by strategies. The status label is always the
// taxonomy default for a new ticket.
var Voted = []taxonomy.Field{
	taxonomy.FieldIssueType,
	taxonomy.FieldSubIssueType,
	taxonomy.FieldCategory,
	taxonomy.FieldTicketType,
	taxonomy.FieldPriority,
}

type Engine struct {
	tax        *taxonomy.Taxonomy
	strategies []Strategy
}

// New builds the vote -> rules -> defaults chain.
func New(tax *taxonomy.Taxonomy, minShare float64) *Engine {
	if minShare <= 0 || minShare > 1 {
		minShare = DefaultMinShare
	}
	return &Engine{
		tax: tax,
		strategies: []Strategy{
			&Vote{tax: tax, minShare: minShare},
			&Rules{tax: tax},
			&Defaults{tax: tax},
		},
	}
}

// Classify is deterministic: equal inputs give equal results.
func (e *Engine) Classify(in Input) Result {
	res := Result{
		Classification: e.tax.DefaultClassification(),
		Confidence:     1,
		Source:         model.SourceSimilarity,
		Fields:         make(map[taxonomy.Field]Decision, len(taxonomy.Fields)),
	}
	for _, f := range Voted {
		d := e.decide(f, in)
		f.Set(&res.Classification, d.Label)
		res.Fields[f] = d
		res.Confidence = math.Min(res.Confidence, d.Confidence)
		if rank(d.Source) > rank(res.Source) {
			res.Source = d.Source
		}
		if d.Source == model.SourceDefaults {
			res.LowConfidence = true
		}
	}
	res.Fields[taxonomy.FieldStatus] = Decision{
		Label:  e.tax.Default(taxonomy.FieldStatus),
		Source: model.SourceDefaults,
	}
	return res
}

func (e *Engine) decide(f taxonomy.Field, in Input) Decision {
	for _, s := range e.strategies {
		if label, conf, ok := s.Decide(f, in); ok {
			return Decision{Label: label, Source: s.Name(), Confidence: conf}
		}
	}
	// Defaults always decides; kept for a custom chain without it.
	return Decision{Label: e.tax.Default(f), Source: model.SourceDefaults}
}

func rank(source string) int {
	switch source {
	case model.SourceSimilarity:
		return 0
	case model.SourceRules:
		return 1
	}
	return 2
}

// Vote is a similarity-weighted majority over the evidence labels.
type Vote struct {
	tax      *taxonomy.Taxonomy
	minShare float64
}

func (v *Vote) Name() string { return model.SourceSimilarity }

func (v *Vote) Decide(f taxonomy.Field, in Input) (string, float64, bool) {
	weights := make(map[string]float64)
	var total float64
	for _, ev := range in.Similar {
		label, ok := v.tax.Normalize(f, f.Get(ev.Labels))
		if !ok {
			continue
		}
		w := math.Max(ev.Score, 0)
		weights[label] += w
		total += w
	}
	if total <= 0 {
		return "", 0, false
	}
	var best string
	var bestW float64
	for label, w := range weights {
		if w > bestW || (w == bestW && label < best) {
			best, bestW = label, w
		}
	}
	share := bestW / total
	if share < v.minShare {
		return "", 0, false
	}
	return best, share, true
}

const rulesConfidence = 0.5

// Rules matches taxonomy keyword rules against the ticket text and metadata. For
// priority the extracted urgency level wins when it is a picklist value.
type Rules struct {
	tax *taxonomy.Taxonomy
}

func (r *Rules) Name() string { return model.SourceRules }

func (r *Rules) Decide(f taxonomy.Field, in Input) (string, float64, bool) {
	if f == taxonomy.FieldPriority && in.Metadata.UrgencyLevel != "" {
		if label, ok := r.tax.Normalize(f, in.Metadata.UrgencyLevel); ok {
			return label, rulesConfidence, true
		}
	}
	text := strings.ToLower(in.Title + " " + in.Description + " " + in.Metadata.Text())
	var best string
	bestHits := 0
	for _, rule := range r.tax.RulesFor(f) {
		hits := 0
		for _, kw := range rule.Keywords {
			if extract.ContainsTerm(text, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = rule.Label, hits
		}
	}
	if bestHits == 0 {
		return "", 0, false
	}
	label, _ := r.tax.Normalize(f, best)
	return label, rulesConfidence, true
}

// Defaults always decides with the taxonomy default and zero confidence.
type Defaults struct {
	tax *taxonomy.Taxonomy
}

func (d *Defaults) Name() string { return model.SourceDefaults }

func (d *Defaults) Decide(f taxonomy.Field, _ Input) (string, float64, bool) {
	return d.tax.Default(f), 0, true
}
