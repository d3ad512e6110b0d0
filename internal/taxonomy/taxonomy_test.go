package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTaxonomy(t *testing.T) {
	tx := Default()

	c := tx.DefaultClassification()
	assert.True(t, c.Complete())
	assert.Equal(t, "Incident", c.TicketType)
	assert.Equal(t, "Medium", c.Priority)
	assert.Equal(t, "Open", c.StatusLabel)
	assert.Equal(t, []string{"senior", "lead"}, tx.FallbackTiers)
}

func TestNormalizeIsCaseInsensitive(t *testing.T) {
	tx := Default()

	got, ok := tx.Normalize(FieldCategory, "  email/communication ")
	require.True(t, ok)
	assert.Equal(t, "Email/Communication", got)

	_, ok = tx.Normalize(FieldPriority, "Urgent")
	assert.False(t, ok)
}

func TestRequiredSkills(t *testing.T) {
	tx := Default()

	skills := tx.RequiredSkills(model.Classification{
		Category:     "Network",
		SubIssueType: "VPN",
		Priority:     "High",
	})
	assert.Equal(t, []string{"Network", "Remote Access", "Urgent Support", "VPN"}, skills)

	assert.Empty(t, tx.RequiredSkills(model.Classification{Category: "Not Mentioned", SubIssueType: "General", Priority: "Low"}))
}

func TestFieldGetSet(t *testing.T) {
	var c model.Classification
	for _, f := range Fields {
		f.Set(&c, string(f)+"-value")
	}
	for _, f := range Fields {
		assert.Equal(t, string(f)+"-value", f.Get(c))
	}
}

func TestLoadRejectsUnknownDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	data := []byte(`
picklists:
  issue_type: [Incident]
  sub_issue_type: [General]
  category: [Hardware]
  ticket_type: [Incident]
  priority: [Medium]
  status: [Open]
defaults:
  issue_type: Incident
  sub_issue_type: General
  category: Network
  ticket_type: Incident
  priority: Medium
  status: Open
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category")
}

func TestRulesFor(t *testing.T) {
	tx := Default()
	rules := tx.RulesFor(FieldPriority)
	require.NotEmpty(t, rules)
	assert.Equal(t, "Critical", rules[0].Label)
}
