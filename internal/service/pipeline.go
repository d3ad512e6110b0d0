package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/ticket-intake-service/internal/assign"
	"github.com/psds-microservice/ticket-intake-service/internal/classify"
	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/lifecycle"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/notify"
	"github.com/psds-microservice/ticket-intake-service/internal/resolve"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tickets touched more recently than this are assumed to be still in flight in their request.
const pendingGrace = time.Minute

// TechnicianRef is the public view of an assigned technician.
type TechnicianRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	RoleTier string `json:"role_tier"`
}

// ProcessResult: итог обработки тикета конвейером.
type ProcessResult struct {
	TicketNumber        string               `json:"ticket_number"`
	Status              model.TicketStatus   `json:"status"`
	Classification      model.Classification `json:"classification"`
	Confidence          float64              `json:"confidence"`
	LowConfidence       bool                 `json:"low_confidence"`
	AssignedTechnician  *TechnicianRef       `json:"assigned_technician"`
	BestEffort          bool                 `json:"best_effort"`
	SimilarTicketsFound int                  `json:"similar_tickets_found"`
	RetrievalDegraded   bool                 `json:"retrieval_degraded"`
	AssignmentPending   bool                 `json:"assignment_pending"`
	SuggestedResolution string               `json:"suggested_resolution,omitempty"`
}

// CreateAndProcess creates the ticket and runs extract, search, classify and assign.
// Each stage is persisted when it completes, so a failure or cancellation leaves the
// ticket at its last completed stage for Resume or RetryPending.
func (s *TicketService) CreateAndProcess(ctx context.Context, in CreateInput) (*ProcessResult, error) {
	t, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.log.Info("pipeline: ticket created", zap.String("ticket_number", t.Number), zap.String("user_id", t.UserID))
	s.events.ProduceTicketEvent(ctx, "ticket.created", ticketEventPayload(t))
	s.notifier.Notify(ctx, t.UserID, notify.TemplateTicketCreated, map[string]interface{}{
		"ticket_number": t.Number,
		"title":         t.Title,
	})

	t, err = s.process(ctx, t, "")
	if err != nil {
		return nil, err
	}
	return s.result(ctx, t)
}

// Resume continues a ticket from its current stage. Tickets past assignment are
// returned unchanged.
func (s *TicketService) Resume(ctx context.Context, number string) (*ProcessResult, error) {
	t, err := s.GetTicket(ctx, number)
	if err != nil {
		return nil, err
	}
	if lifecycle.Awaiting(t.Status) {
		exclude, err := s.excludedFor(ctx, t)
		if err != nil {
			return nil, err
		}
		if t, err = s.process(ctx, t, exclude); err != nil {
			return nil, err
		}
	}
	return s.result(ctx, t)
}

// RetryPending resumes up to limit tickets waiting for classification or assignment and
// returns how many of them ended up assigned.
func (s *TicketService) RetryPending(ctx context.Context, limit int) (int, error) {
	var pending []model.Ticket
	cutoff := s.now().Add(-pendingGrace)
	err := s.db.WithContext(ctx).
		Where("(status IN ? AND updated_at < ?) OR (status = ? AND created_at < ?)",
			[]model.TicketStatus{model.TicketStatusClassified, model.TicketStatusReopened}, cutoff,
			model.TicketStatusNew, cutoff).
		Order("id").
		Limit(ClampLimit(limit)).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("list pending tickets: %w", err)
	}
	assigned := 0
	for i := range pending {
		if ctx.Err() != nil {
			return assigned, ctx.Err()
		}
		t := &pending[i]
		exclude, err := s.excludedFor(ctx, t)
		if err != nil {
			return assigned, err
		}
		t, err = s.process(ctx, t, exclude)
		if err != nil {
			s.log.Warn("pipeline: retry failed", zap.String("ticket_number", pending[i].Number), zap.Error(err))
			continue
		}
		if t.Status == model.TicketStatusAssigned {
			assigned++
		}
	}
	if len(pending) > 0 {
		s.log.Info("pipeline: retried pending tickets", zap.Int("pending", len(pending)), zap.Int("assigned", assigned))
	}
	return assigned, nil
}

// process runs the stages still due for t and returns the reloaded ticket.
func (s *TicketService) process(ctx context.Context, t *model.Ticket, exclude string) (*model.Ticket, error) {
	var err error
	if t.Status == model.TicketStatusNew {
		if t, err = s.classifyStage(ctx, t); err != nil {
			return nil, err
		}
	}
	if t.Status == model.TicketStatusClassified || t.Status == model.TicketStatusReopened {
		if t, err = s.assignStage(ctx, t, exclude); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (s *TicketService) classifyStage(ctx context.Context, t *model.Ticket) (*model.Ticket, error) {
	meta, extractionSource := s.extract.Extract(ctx, t.Title, t.Description)

	degraded := false
	var evidence []classify.Evidence
	var refs []resolve.Reference
	matches, err := s.FindSimilar(ctx, strings.TrimSpace(t.Title+"\n"+t.Description), s.k)
	if err != nil {
		degraded = true
		if !errors.Is(err, errs.ErrRetrievalUnavailable) {
			err = fmt.Errorf("%w: %v", errs.ErrRetrievalUnavailable, err)
		}
		s.log.Warn("pipeline: similarity search degraded", zap.String("ticket_number", t.Number), zap.Error(err))
	}
	for _, m := range matches {
		evidence = append(evidence, classify.Evidence{ID: m.Ticket.ID, Labels: m.Ticket.Classification, Score: m.Score})
		refs = append(refs, resolve.Reference{Title: m.Ticket.Title, Resolution: m.Ticket.Resolution})
	}

	res := s.classify.Classify(classify.Input{
		Title:       t.Title,
		Description: t.Description,
		Metadata:    meta,
		Similar:     evidence,
	})
	suggestion, suggestionSource := s.resolve.Suggest(ctx, t.Title, t.Description, meta, refs)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := assign.LockTicket(tx, t.ID)
		if err != nil {
			return err
		}
		if err := lifecycle.Check(cur.Status, model.TicketStatusClassified); err != nil {
			return err
		}
		c := res.Classification
		return tx.Model(&model.Ticket{}).Where("id = ?", t.ID).Updates(map[string]interface{}{
			"issue_type":            c.IssueType,
			"sub_issue_type":        c.SubIssueType,
			"category":              c.Category,
			"ticket_type":           c.TicketType,
			"priority":              c.Priority,
			"status_label":          c.StatusLabel,
			"confidence":            res.Confidence,
			"low_confidence":        res.LowConfidence,
			"extraction_source":     extractionSource,
			"retrieval_degraded":    degraded,
			"classification_source": res.Source,
			"metadata":              datatypes.JSON(metaJSON),
			"similar_tickets_found": len(matches),
			"suggested_resolution":  suggestion,
			"resolution_source":     suggestionSource,
			"status":                model.TicketStatusClassified,
			"classified_at":         now,
			"updated_at":            now,
		}).Error
	})
	if errors.Is(err, errs.ErrInvalidTransition) {
		// классифицирован параллельно (retry worker): продолжаем с текущего состояния
		cur, rerr := s.reload(ctx, t.ID)
		if rerr != nil {
			return nil, rerr
		}
		if cur.Status != model.TicketStatusNew {
			s.log.Info("pipeline: ticket classified concurrently",
				zap.String("ticket_number", cur.Number), zap.String("status", string(cur.Status)))
			return cur, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("persist classification: %w", err)
	}
	t, err = s.reload(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("pipeline: ticket classified",
		zap.String("ticket_number", t.Number),
		zap.String("priority", t.Classification.Priority),
		zap.String("category", t.Classification.Category),
		zap.Float64("confidence", t.Confidence),
		zap.String("source", t.ClassificationSource),
		zap.Bool("retrieval_degraded", degraded))
	s.events.ProduceTicketEvent(ctx, "ticket.classified", ticketEventPayload(t))
	return t, nil
}

// assignStage leaves the ticket queued when no technician is available. A ticket that
// another caller assigned in the meantime is returned as is, without a second event.
func (s *TicketService) assignStage(ctx context.Context, t *model.Ticket, exclude string) (*model.Ticket, error) {
	a, err := s.assign.Assign(ctx, t.ID, exclude)
	if errors.Is(err, errs.ErrInvalidTransition) {
		cur, rerr := s.reload(ctx, t.ID)
		if rerr != nil {
			return nil, rerr
		}
		if !lifecycle.Awaiting(cur.Status) {
			s.log.Info("pipeline: ticket assigned concurrently",
				zap.String("ticket_number", cur.Number), zap.String("status", string(cur.Status)))
			return cur, nil
		}
	}
	if err != nil && !errors.Is(err, errs.ErrNoTechnicianAvailable) {
		return nil, fmt.Errorf("assign ticket %s: %w", t.Number, err)
	}
	t, rerr := s.reload(ctx, t.ID)
	if rerr != nil {
		return nil, rerr
	}
	if a == nil {
		return t, nil
	}
	s.events.ProduceTicketEvent(ctx, "ticket.assigned", ticketEventPayload(t))
	recipient := a.Technician.Email
	if recipient == "" {
		recipient = a.Technician.ID
	}
	s.notifier.Notify(ctx, recipient, notify.TemplateTicketAssigned, map[string]interface{}{
		"ticket_number": t.Number,
		"title":         t.Title,
		"priority":      t.Classification.Priority,
		"best_effort":   a.BestEffort,
		"due_date":      t.DueDate,
	})
	return t, nil
}

// excludedFor returns the technician a reopened ticket must not go back to.
func (s *TicketService) excludedFor(ctx context.Context, t *model.Ticket) (string, error) {
	if t.Status != model.TicketStatusReopened {
		return "", nil
	}
	var fb model.Feedback
	err := s.db.WithContext(ctx).
		Where("ticket_id = ? AND reopened = ?", t.ID, true).
		Order("id DESC").
		Take(&fb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load reopen feedback: %w", err)
	}
	if fb.PreviousTechnicianID == nil {
		return "", nil
	}
	return *fb.PreviousTechnicianID, nil
}

func (s *TicketService) result(ctx context.Context, t *model.Ticket) (*ProcessResult, error) {
	r := &ProcessResult{
		TicketNumber:        t.Number,
		Status:              t.Status,
		Classification:      t.Classification,
		Confidence:          t.Confidence,
		LowConfidence:       t.LowConfidence,
		BestEffort:          t.BestEffort,
		SimilarTicketsFound: t.SimilarTicketsFound,
		RetrievalDegraded:   t.RetrievalDegraded,
		AssignmentPending:   lifecycle.Awaiting(t.Status),
		SuggestedResolution: t.SuggestedResolution,
	}
	if t.AssignedTechnicianID != nil {
		tech, err := s.technician(ctx, *t.AssignedTechnicianID)
		if err != nil {
			return nil, err
		}
		r.AssignedTechnician = &TechnicianRef{ID: tech.ID, Name: tech.Name, Email: tech.Email, RoleTier: tech.RoleTier}
	}
	return r, nil
}
