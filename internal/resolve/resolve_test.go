package resolve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/psds-microservice/ticket-intake-service/internal/extract"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeCompleter struct {
	out    string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.out, f.err
}

func vpnRefs() []Reference {
	return []Reference{
		{Title: "VPN drops hourly", Resolution: "Reinstalled GlobalProtect 6.1 and reset the tunnel MTU."},
		{Title: "Printer offline", Resolution: ""},
		{Title: "VPN slow", Resolution: "Switched the gateway to the nearest region."},
	}
}

func TestSuggestFromStepList(t *testing.T) {
	llm := &fakeCompleter{out: "```json\n{\"steps\": [\"Step 1: Check the gateway\", \"Reinstall the client\", \"\"]}\n```"}
	g := NewGenerator(llm, zap.NewNop())

	text, src := g.Suggest(context.Background(), "VPN down", "drops every hour",
		extract.Metadata{MainIssue: "VPN drops", AffectedSystem: "GlobalProtect"}, vpnRefs())

	assert.Equal(t, model.SourceLLM, src)
	assert.Equal(t, "Step 1: Check the gateway\nStep 2: Reinstall the client", text)
	assert.Contains(t, llm.prompt, "Reinstalled GlobalProtect 6.1")
	assert.Contains(t, llm.prompt, "Switched the gateway")
	assert.NotContains(t, llm.prompt, "Printer offline")
}

func TestSuggestFromStepObjects(t *testing.T) {
	llm := &fakeCompleter{out: `{"steps": [{"step": 1, "description": "Restart the agent"}, {"step": 2, "text": "Reconnect"}]}`}
	text, src := NewGenerator(llm, nil).Suggest(context.Background(), "t", "d", extract.Metadata{}, nil)

	assert.Equal(t, model.SourceLLM, src)
	assert.Equal(t, "Step 1: Restart the agent\nStep 2: Reconnect", text)
}

func TestSuggestAcceptsResolutionStringAndPlainText(t *testing.T) {
	text, _ := NewGenerator(&fakeCompleter{out: `{"resolution": "Reset the password."}`}, nil).
		Suggest(context.Background(), "t", "d", extract.Metadata{}, nil)
	assert.Equal(t, "Reset the password.", text)

	text, src := NewGenerator(&fakeCompleter{out: "  Reboot the router.  "}, nil).
		Suggest(context.Background(), "t", "d", extract.Metadata{}, nil)
	assert.Equal(t, "Reboot the router.", text)
	assert.Equal(t, model.SourceLLM, src)
}

func TestSuggestCapsSteps(t *testing.T) {
	steps := make([]string, 40)
	for i := range steps {
		steps[i] = `"do it"`
	}
	llm := &fakeCompleter{out: `{"steps": [` + strings.Join(steps, ",") + `]}`}
	text, _ := NewGenerator(llm, nil).Suggest(context.Background(), "t", "d", extract.Metadata{}, nil)

	lines := strings.Split(text, "\n")
	assert.Len(t, lines, maxSteps)
	assert.Equal(t, "Step 15: do it", lines[14])
}

func TestSuggestFallsBackToBestReference(t *testing.T) {
	refs := vpnRefs()

	text, src := NewGenerator(&fakeCompleter{err: errors.New("quota exceeded")}, zap.NewNop()).
		Suggest(context.Background(), "t", "d", extract.Metadata{}, refs)
	assert.Equal(t, model.SourceSimilarity, src)
	assert.Equal(t, refs[0].Resolution, text)

	text, src = NewGenerator(&fakeCompleter{out: `{"steps": []}`}, zap.NewNop()).
		Suggest(context.Background(), "t", "d", extract.Metadata{}, refs)
	assert.Equal(t, model.SourceSimilarity, src)
	assert.Equal(t, refs[0].Resolution, text)

	// the first reference without a resolution is skipped
	text, _ = NewGenerator(nil, nil).Suggest(context.Background(), "t", "d", extract.Metadata{}, refs[1:])
	assert.Equal(t, refs[2].Resolution, text)
}

func TestSuggestWithNothingToOffer(t *testing.T) {
	text, src := NewGenerator(nil, nil).Suggest(context.Background(), "t", "d", extract.Metadata{},
		[]Reference{{Title: "x", Resolution: "  "}})
	assert.Empty(t, text)
	assert.Empty(t, src)
}
