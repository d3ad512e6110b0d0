package assign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/lifecycle"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/taxonomy"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Assignment is the result of a successful Assign.
type Assignment struct {
	Event      model.AssignmentEvent `json:"event"`
	Technician model.Technician      `json:"technician"`
	BestEffort bool                  `json:"best_effort"`
}

type Engine struct {
	db      *gorm.DB
	tax     *taxonomy.Taxonomy
	log     *zap.Logger
	now     func() time.Time
	backoff func() retry.Backoff
}

type Option func(*Engine)

// WithClock replaces the wall clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetries sets how many times a conflicting transaction is retried.
func WithRetries(n uint64, base time.Duration) Option {
	return func(e *Engine) {
		e.backoff = func() retry.Backoff {
			return retry.WithMaxRetries(n, retry.NewExponential(base))
		}
	}
}

func NewEngine(db *gorm.DB, tax *taxonomy.Taxonomy, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:  db,
		tax: tax,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
	WithRetries(3, 10*time.Millisecond)(e)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Assign picks a technician for the ticket, never exclude, and records the assignment
// in one transaction. When nobody is available the ticket is left in its current status
// with assignment_source "pending" and errs.ErrNoTechnicianAvailable is returned.
func (e *Engine) Assign(ctx context.Context, ticketID uint64, exclude string) (*Assignment, error) {
	var out *Assignment
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		a, err := e.assignOnce(ctx, ticketID, exclude)
		if err != nil {
			if IsConflict(err) {
				e.log.Debug("assign: conflict, retrying", zap.Uint64("ticket_id", ticketID), zap.Error(err))
				return retry.RetryableError(fmt.Errorf("%w: %v", errs.ErrConcurrencyConflict, err))
			}
			return err
		}
		out = a
		return nil
	})
	if errors.Is(err, errs.ErrNoTechnicianAvailable) {
		if qerr := e.markPending(ctx, ticketID); qerr != nil {
			return nil, qerr
		}
		e.log.Info("assign: no technician available, ticket queued",
			zap.Uint64("ticket_id", ticketID), zap.String("excluded", exclude))
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	e.log.Info("assign: ticket assigned",
		zap.Uint64("ticket_id", ticketID),
		zap.String("technician_id", out.Technician.ID),
		zap.Bool("best_effort", out.BestEffort))
	return out, nil
}

func (e *Engine) assignOnce(ctx context.Context, ticketID uint64, exclude string) (*Assignment, error) {
	var out *Assignment
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := LockTicket(tx, ticketID)
		if err != nil {
			return err
		}
		if err := lifecycle.Check(t.Status, model.TicketStatusAssigned); err != nil {
			return err
		}
		active, err := ActiveEvent(tx, t.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("assign: ticket %s already has open assignment %d", t.Number, active.ID)
		}

		// Technician rows are locked in id order so concurrent assignments cannot deadlock.
		var techs []model.Technician
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("availability = ?", model.AvailabilityAvailable).
			Order("id").
			Find(&techs).Error; err != nil {
			return fmt.Errorf("load technicians: %w", err)
		}
		required := e.tax.RequiredSkills(t.Classification)
		sel, err := Select(techs, required, exclude, e.tax)
		if err != nil {
			return err
		}

		now := e.now()
		tech := sel.Technician
		if err := tx.Model(&model.Technician{}).Where("id = ?", tech.ID).Updates(map[string]interface{}{
			"workload":       gorm.Expr("workload + 1"),
			"assigned_total": gorm.Expr("assigned_total + 1"),
			"updated_at":     now,
		}).Error; err != nil {
			return fmt.Errorf("increment workload: %w", err)
		}
		tech.Workload++
		tech.AssignedTotal++

		source := model.SourceSkillMatch
		reason := "skill match: " + strings.Join(sel.MatchedSkills, ", ")
		if sel.BestEffort {
			source = model.SourceFallback
			reason = "fallback tier " + tech.RoleTier + ", required: " + strings.Join(required, ", ")
		}
		if exclude != "" {
			reason += "; excluded " + exclude
		}
		ev := model.AssignmentEvent{
			TicketID:      t.ID,
			TechnicianID:  tech.ID,
			AssignedAt:    now,
			Status:        model.AssignmentStatusAssigned,
			BestEffort:    sel.BestEffort,
			MatchedSkills: strings.Join(sel.MatchedSkills, ","),
			Reason:        reason,
		}
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("create assignment event: %w", err)
		}
		if err := tx.Model(&model.Ticket{}).Where("id = ?", t.ID).Updates(map[string]interface{}{
			"status":                 model.TicketStatusAssigned,
			"assigned_technician_id": tech.ID,
			"best_effort":            sel.BestEffort,
			"assignment_source":      source,
			"assigned_at":            now,
			"updated_at":             now,
		}).Error; err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		out = &Assignment{Event: ev, Technician: tech, BestEffort: sel.BestEffort}
		return nil
	})
	return out, err
}

func (e *Engine) markPending(ctx context.Context, ticketID uint64) error {
	err := e.db.WithContext(ctx).Model(&model.Ticket{}).Where("id = ?", ticketID).Updates(map[string]interface{}{
		"assignment_attempts": gorm.Expr("assignment_attempts + 1"),
		"assignment_source":   model.SourcePending,
		"updated_at":          e.now(),
	}).Error
	if err != nil {
		return fmt.Errorf("mark assignment pending: %w", err)
	}
	return nil
}

// LockTicket reads the ticket row for update.
func LockTicket(tx *gorm.DB, ticketID uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, ticketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ActiveEvent returns the ticket's assignment event with no unassigned_at, or nil.
func ActiveEvent(tx *gorm.DB, ticketID uint64) (*model.AssignmentEvent, error) {
	var ev model.AssignmentEvent
	err := tx.Where("ticket_id = ? AND unassigned_at IS NULL", ticketID).Order("id DESC").Take(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active assignment: %w", err)
	}
	return &ev, nil
}

// MarkResolved flags the open event as resolved; it stays open until the ticket closes.
func MarkResolved(tx *gorm.DB, ticketID uint64) error {
	return tx.Model(&model.AssignmentEvent{}).
		Where("ticket_id = ? AND unassigned_at IS NULL", ticketID).
		Update("status", model.AssignmentStatusResolved).Error
}

// Release closes the open event with status and decrements the technician's workload.
// Closing as resolved also counts a solved ticket. It returns nil when nothing was open.
func Release(tx *gorm.DB, ticketID uint64, status model.AssignmentStatus, at time.Time) (*model.AssignmentEvent, error) {
	ev, err := ActiveEvent(tx, ticketID)
	if err != nil || ev == nil {
		return nil, err
	}
	if err := tx.Model(&model.AssignmentEvent{}).Where("id = ?", ev.ID).Updates(map[string]interface{}{
		"unassigned_at": at,
		"status":        status,
	}).Error; err != nil {
		return nil, fmt.Errorf("close assignment event: %w", err)
	}
	changes := map[string]interface{}{
		"workload":   gorm.Expr("CASE WHEN workload > 0 THEN workload - 1 ELSE 0 END"),
		"updated_at": at,
	}
	if status == model.AssignmentStatusResolved {
		changes["solved_tickets"] = gorm.Expr("solved_tickets + 1")
	}
	if err := tx.Model(&model.Technician{}).Where("id = ?", ev.TechnicianID).Updates(changes).Error; err != nil {
		return nil, fmt.Errorf("decrement workload: %w", err)
	}
	ev.UnassignedAt = &at
	ev.Status = status
	return ev, nil
}

// IsConflict reports serialization failures and deadlocks that are safe to retry.
func IsConflict(err error) bool {
	if errors.Is(err, errs.ErrConcurrencyConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
