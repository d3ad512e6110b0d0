// Package similarity ranks historical tickets by embedding similarity to new ticket text.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/llm"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"go.uber.org/zap"
)

const (
	DefaultK = 15
	MaxK     = 50
)

// Match is one historical ticket with its cosine similarity to the query.
type Match struct {
	Ticket model.HistoricalTicket `json:"ticket"`
	Score  float64                `json:"score"`
}

// Index answers nearest-neighbour queries over historical tickets.
type Index interface {
	Nearest(ctx context.Context, query []float32, k int) ([]Match, error)
}

type Engine struct {
	embedder llm.Embedder
	index    Index
	defaultK int
	log      *zap.Logger
}

// NewEngine returns an engine; a nil embedder makes every query fail with
// errs.ErrRetrievalUnavailable.
func NewEngine(embedder llm.Embedder, index Index, defaultK int, log *zap.Logger) *Engine {
	if defaultK <= 0 || defaultK > MaxK {
		defaultK = DefaultK
	}
	return &Engine{embedder: embedder, index: index, defaultK: defaultK, log: log}
}

// ClampK maps k onto [1, MaxK] with def for non-positive values.
func ClampK(k, def int) int {
	if k <= 0 {
		return def
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// FindSimilar returns up to k matches ordered by score descending, then id ascending.
func (e *Engine) FindSimilar(ctx context.Context, text string, k int) ([]Match, error) {
	k = ClampK(k, e.defaultK)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.Invalid("text", "must not be empty")
	}
	if e.embedder == nil || e.index == nil {
		return nil, fmt.Errorf("%w: no embedding backend configured", errs.ErrRetrievalUnavailable)
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", errs.ErrRetrievalUnavailable, err)
	}
	matches, err := e.index.Nearest(ctx, vec, k)
	if err != nil {
		if errors.Is(err, errs.ErrRetrievalUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrRetrievalUnavailable, err)
	}
	e.log.Debug("similarity: query done", zap.Int("k", k), zap.Int("matches", len(matches)))
	return matches, nil
}

// Cosine returns the cosine similarity of two equal-length vectors; zero vectors score 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("similarity: dimension mismatch %d != %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Rank sorts matches by score descending with ascending id as the tie-break and
// truncates to k.
func Rank(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Ticket.ID < matches[j].Ticket.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
