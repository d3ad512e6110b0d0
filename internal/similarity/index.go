package similarity

import (
	"context"
	"fmt"

	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/llm"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const scanBatch = 500

// GormIndex scans the historical_tickets table and scores every stored embedding.
type GormIndex struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewGormIndex(db *gorm.DB, log *zap.Logger) *GormIndex {
	return &GormIndex{db: db, log: log}
}

func (x *GormIndex) Nearest(ctx context.Context, query []float32, k int) ([]Match, error) {
	var (
		batch   []model.HistoricalTicket
		out     []Match
		skipped int
	)
	res := x.db.WithContext(ctx).
		Where("embedding IS NOT NULL").
		FindInBatches(&batch, scanBatch, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				vec, err := batch[i].Vector()
				if err != nil || len(vec) == 0 {
					skipped++
					continue
				}
				score, err := Cosine(query, vec)
				if err != nil {
					skipped++
					continue
				}
				h := batch[i]
				h.Embedding = nil
				out = append(out, Match{Ticket: h, Score: score})
			}
			out = Rank(out, k)
			return nil
		})
	if res.Error != nil {
		return nil, fmt.Errorf("%w: scan historical tickets: %v", errs.ErrRetrievalUnavailable, res.Error)
	}
	if skipped > 0 {
		x.log.Debug("similarity: skipped historical tickets", zap.Int("skipped", skipped))
	}
	return Rank(out, k), nil
}

// Backfill embeds historical tickets that have no embedding yet, with at most
// concurrency embedding calls in flight. It returns the number of tickets updated.
func Backfill(ctx context.Context, db *gorm.DB, embedder llm.Embedder, concurrency int, log *zap.Logger) (int, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	var pending []model.HistoricalTicket
	if err := db.WithContext(ctx).Where("embedding IS NULL").Order("id").Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("list historical tickets: %w", err)
	}
	log.Info("index-history: tickets without embeddings", zap.Int("count", len(pending)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range pending {
		h := &pending[i]
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, h.Text())
			if err != nil {
				return fmt.Errorf("embed historical ticket %d: %w", h.ID, err)
			}
			if err := h.SetVector(vec); err != nil {
				return err
			}
			return db.WithContext(gctx).Model(&model.HistoricalTicket{}).
				Where("id = ?", h.ID).
				Update("embedding", h.Embedding).Error
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(pending), nil
}
