// Package taxonomy loads the fixed picklists, the static skill-requirement mapping and the
// keyword rules shared by classification and assignment.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Field names a categorical classification field.
type Field string

const (
	FieldIssueType    Field = "issue_type"
	FieldSubIssueType Field = "sub_issue_type"
	FieldCategory     Field = "category"
	FieldTicketType   Field = "ticket_type"
	FieldPriority     Field = "priority"
	FieldStatus       Field = "status"
)

// Fields lists every classification field in a fixed order.
var Fields = []Field{FieldIssueType, FieldSubIssueType, FieldCategory, FieldTicketType, FieldPriority, FieldStatus}

func (f Field) Get(c model.Classification) string {
	switch f {
	case FieldIssueType:
		return c.IssueType
	case FieldSubIssueType:
		return c.SubIssueType
	case FieldCategory:
		return c.Category
	case FieldTicketType:
		return c.TicketType
	case FieldPriority:
		return c.Priority
	case FieldStatus:
		return c.StatusLabel
	}
	return ""
}

func (f Field) Set(c *model.Classification, v string) {
	switch f {
	case FieldIssueType:
		c.IssueType = v
	case FieldSubIssueType:
		c.SubIssueType = v
	case FieldCategory:
		c.Category = v
	case FieldTicketType:
		c.TicketType = v
	case FieldPriority:
		c.Priority = v
	case FieldStatus:
		c.StatusLabel = v
	}
}

type Rule struct {
	Field    Field    `yaml:"field"`
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
}

type Taxonomy struct {
	Picklists     map[Field][]string            `yaml:"picklists"`
	Defaults      map[Field]string              `yaml:"defaults"`
	Skills        map[Field]map[string][]string `yaml:"skills"`
	FallbackTiers []string                      `yaml:"fallback_tiers"`
	Rules         []Rule                        `yaml:"rules"`

	index map[Field]map[string]string
}

// Default returns the embedded taxonomy.
func Default() *Taxonomy {
	t, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("taxonomy: embedded default: %v", err))
	}
	return t
}

// Load reads a taxonomy file; an empty path returns Default.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("taxonomy: parse: %w", err)
	}
	if err := t.init(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Taxonomy) init() error {
	t.index = make(map[Field]map[string]string, len(Fields))
	for _, f := range Fields {
		labels := t.Picklists[f]
		if len(labels) == 0 {
			return fmt.Errorf("taxonomy: picklist %q is empty", f)
		}
		idx := make(map[string]string, len(labels))
		for _, l := range labels {
			idx[strings.ToLower(strings.TrimSpace(l))] = l
		}
		t.index[f] = idx
		def, ok := t.Normalize(f, t.Defaults[f])
		if !ok {
			return fmt.Errorf("taxonomy: default %q for %q is not in the picklist", t.Defaults[f], f)
		}
		t.Defaults[f] = def
	}
	for i, r := range t.Rules {
		if _, ok := t.Normalize(r.Field, r.Label); !ok {
			return fmt.Errorf("taxonomy: rule %d: label %q is not in picklist %q", i, r.Label, r.Field)
		}
	}
	return nil
}

// Normalize maps a label to its canonical picklist spelling, case-insensitively.
func (t *Taxonomy) Normalize(f Field, label string) (string, bool) {
	v, ok := t.index[f][strings.ToLower(strings.TrimSpace(label))]
	return v, ok
}

func (t *Taxonomy) Default(f Field) string {
	return t.Defaults[f]
}

// DefaultClassification returns the safe defaults for every field.
func (t *Taxonomy) DefaultClassification() model.Classification {
	var c model.Classification
	for _, f := range Fields {
		f.Set(&c, t.Defaults[f])
	}
	return c
}

// RequiredSkills derives the skill set a ticket needs from its classification.
// The result is de-duplicated and sorted.
func (t *Taxonomy) RequiredSkills(c model.Classification) []string {
	seen := make(map[string]string)
	for _, f := range []Field{FieldCategory, FieldSubIssueType, FieldPriority} {
		for _, s := range t.Skills[f][f.Get(c)] {
			key := strings.ToLower(s)
			if _, ok := seen[key]; !ok {
				seen[key] = s
			}
		}
	}
	out := make([]string, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// FallbackTier reports whether a role tier may receive best-effort assignments.
func (t *Taxonomy) FallbackTier(tier string) bool {
	for _, ft := range t.FallbackTiers {
		if strings.EqualFold(ft, tier) {
			return true
		}
	}
	return false
}

// RulesFor returns the keyword rules of one field in file order.
func (t *Taxonomy) RulesFor(f Field) []Rule {
	var out []Rule
	for _, r := range t.Rules {
		if r.Field == f {
			out = append(out, r)
		}
	}
	return out
}
