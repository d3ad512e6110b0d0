package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/ticket-intake-service/internal/assign"
	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/lifecycle"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FeedbackInput: отзыв пользователя о решении тикета.
type FeedbackInput struct {
	IsResolved bool
	Reason     string
	UserID     string
}

type FeedbackResult struct {
	TicketNumber  string             `json:"ticket_number"`
	Status        model.TicketStatus `json:"status"`
	Reopened      bool               `json:"reopened"`
	NewAssignment *TechnicianRef     `json:"new_assignment,omitempty"`
}

// RecordFeedback stores the user's verdict. Positive feedback closes a resolved ticket.
// Negative feedback on a resolved or closed ticket reopens it, releases the previous
// technician and reassigns to anyone else; with nobody available it stays reopened.
func (s *TicketService) RecordFeedback(ctx context.Context, number string, in FeedbackInput) (*FeedbackResult, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if len(in.Reason) > 4000 {
		return nil, errs.Invalid("reason", "must be at most 4000 characters")
	}
	t, err := s.GetTicket(ctx, number)
	if err != nil {
		return nil, err
	}

	var previous string
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := assign.LockTicket(tx, t.ID)
		if err != nil {
			return err
		}
		fb := model.Feedback{
			TicketID:   cur.ID,
			UserID:     in.UserID,
			IsResolved: in.IsResolved,
			Reason:     in.Reason,
			CreatedAt:  now,
		}
		if fb.UserID == "" {
			fb.UserID = cur.UserID
		}
		if in.IsResolved {
			switch cur.Status {
			case model.TicketStatusResolved:
				if err := s.closeTicket(tx, cur, now); err != nil {
					return err
				}
			case model.TicketStatusClosed:
			default:
				return &errs.TransitionError{From: string(cur.Status), To: string(model.TicketStatusClosed)}
			}
			return tx.Create(&fb).Error
		}

		if err := lifecycle.Check(cur.Status, model.TicketStatusReopened); err != nil {
			return err
		}
		ev, err := assign.Release(tx, cur.ID, model.AssignmentStatusReassigned, now)
		if err != nil {
			return err
		}
		switch {
		case ev != nil:
			previous = ev.TechnicianID
		case cur.AssignedTechnicianID != nil:
			previous = *cur.AssignedTechnicianID
		}
		if err := tx.Model(&model.Ticket{}).Where("id = ?", cur.ID).Updates(map[string]interface{}{
			"status":                 model.TicketStatusReopened,
			"assigned_technician_id": nil,
			"best_effort":            false,
			"assignment_source":      "",
			"reopen_count":           gorm.Expr("reopen_count + 1"),
			"resolved_at":            nil,
			"closed_at":              nil,
			"updated_at":             now,
		}).Error; err != nil {
			return fmt.Errorf("reopen ticket: %w", err)
		}
		fb.Reopened = true
		if previous != "" {
			fb.PreviousTechnicianID = &previous
		}
		return tx.Create(&fb).Error
	})
	if err != nil {
		return nil, err
	}

	if in.IsResolved {
		if t, err = s.reload(ctx, t.ID); err != nil {
			return nil, err
		}
		s.events.ProduceTicketEvent(ctx, "ticket.status_changed", ticketEventPayload(t))
		return &FeedbackResult{TicketNumber: t.Number, Status: t.Status}, nil
	}

	t, err = s.reload(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("feedback: ticket reopened",
		zap.String("ticket_number", t.Number),
		zap.String("previous_technician_id", previous),
		zap.String("reason", in.Reason))
	s.events.ProduceTicketEvent(ctx, "ticket.reopened", ticketEventPayload(t))
	s.notifier.Notify(ctx, t.UserID, notify.TemplateTicketReopened, map[string]interface{}{
		"ticket_number": t.Number,
		"reason":        in.Reason,
	})

	t, err = s.assignStage(ctx, t, previous)
	if err != nil {
		return nil, err
	}
	res := &FeedbackResult{TicketNumber: t.Number, Status: t.Status, Reopened: true}
	if t.AssignedTechnicianID != nil {
		tech, err := s.technician(ctx, *t.AssignedTechnicianID)
		if err != nil {
			return nil, err
		}
		res.NewAssignment = &TechnicianRef{ID: tech.ID, Name: tech.Name, Email: tech.Email, RoleTier: tech.RoleTier}
	}
	return res, nil
}

// UpdateStatus applies a technician action: in_progress, resolved or closed. Other
// statuses are reached only through the pipeline or feedback.
func (s *TicketService) UpdateStatus(ctx context.Context, number string, status model.TicketStatus) (*model.Ticket, error) {
	switch status {
	case model.TicketStatusInProgress, model.TicketStatusResolved, model.TicketStatusClosed:
	default:
		return nil, errs.Invalid("status", "must be one of in_progress, resolved, closed")
	}
	t, err := s.GetTicket(ctx, number)
	if err != nil {
		return nil, err
	}
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := assign.LockTicket(tx, t.ID)
		if err != nil {
			return err
		}
		if err := lifecycle.Check(cur.Status, status); err != nil {
			return err
		}
		switch status {
		case model.TicketStatusResolved:
			if err := assign.MarkResolved(tx, cur.ID); err != nil {
				return fmt.Errorf("mark assignment resolved: %w", err)
			}
			return tx.Model(&model.Ticket{}).Where("id = ?", cur.ID).Updates(map[string]interface{}{
				"status":      status,
				"resolved_at": now,
				"updated_at":  now,
			}).Error
		case model.TicketStatusClosed:
			return s.closeTicket(tx, cur, now)
		}
		return tx.Model(&model.Ticket{}).Where("id = ?", cur.ID).Updates(map[string]interface{}{
			"status":     status,
			"updated_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	t, err = s.reload(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("ticket: status changed", zap.String("ticket_number", t.Number), zap.String("status", string(t.Status)))
	s.events.ProduceTicketEvent(ctx, "ticket.status_changed", ticketEventPayload(t))
	return t, nil
}

// closeTicket moves a resolved ticket to closed and releases its technician.
func (s *TicketService) closeTicket(tx *gorm.DB, cur *model.Ticket, now time.Time) error {
	if err := lifecycle.Check(cur.Status, model.TicketStatusClosed); err != nil {
		return err
	}
	if _, err := assign.Release(tx, cur.ID, model.AssignmentStatusResolved, now); err != nil {
		return err
	}
	return tx.Model(&model.Ticket{}).Where("id = ?", cur.ID).Updates(map[string]interface{}{
		"status":     model.TicketStatusClosed,
		"closed_at":  now,
		"updated_at": now,
	}).Error
}

// CloseStaleResolved closes tickets resolved longer than olderThan ago without feedback.
func (s *TicketService) CloseStaleResolved(ctx context.Context, olderThan time.Duration) (int, error) {
	var stale []model.Ticket
	if err := s.db.WithContext(ctx).
		Where("status = ? AND resolved_at < ?", model.TicketStatusResolved, s.now().Add(-olderThan)).
		Order("id").
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("list resolved tickets: %w", err)
	}
	closed := 0
	for i := range stale {
		if _, err := s.UpdateStatus(ctx, stale[i].Number, model.TicketStatusClosed); err != nil {
			s.log.Warn("ticket: auto-close failed", zap.String("ticket_number", stale[i].Number), zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}
