package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/psds-microservice/ticket-intake-service/internal/assign"
	"github.com/psds-microservice/ticket-intake-service/internal/classify"
	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/extract"
	"github.com/psds-microservice/ticket-intake-service/internal/kafka"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/notify"
	"github.com/psds-microservice/ticket-intake-service/internal/resolve"
	"github.com/psds-microservice/ticket-intake-service/internal/similarity"
	"github.com/psds-microservice/ticket-intake-service/internal/taxonomy"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 1000

	maxNumberAttempts = 100
	numberLayout      = "20060102.150405"
	dueDateLayout     = "2006-01-02 15:04:05"
)

// TicketServicer — интерфейс для HTTP-хендлеров (Dependency Inversion).
type TicketServicer interface {
	CreateAndProcess(ctx context.Context, in CreateInput) (*ProcessResult, error)
	GetTicket(ctx context.Context, number string) (*model.Ticket, error)
	ListTickets(ctx context.Context, filter model.TicketFilter, limit, offset int) ([]model.Ticket, int64, error)
	UpdateStatus(ctx context.Context, number string, status model.TicketStatus) (*model.Ticket, error)
	RecordFeedback(ctx context.Context, number string, in FeedbackInput) (*FeedbackResult, error)
	Resume(ctx context.Context, number string) (*ProcessResult, error)
	AssignmentHistory(ctx context.Context, number string) ([]model.AssignmentEvent, error)
	ListTechnicians(ctx context.Context) ([]model.Technician, error)
	FindSimilar(ctx context.Context, text string, k int) ([]similarity.Match, error)
}

// MetadataExtractor is satisfied by *extract.Extractor.
type MetadataExtractor interface {
	Extract(ctx context.Context, title, description string) (extract.Metadata, string)
}

// SimilarFinder is satisfied by *similarity.Engine.
type SimilarFinder interface {
	FindSimilar(ctx context.Context, text string, k int) ([]similarity.Match, error)
}

// ResolutionSuggester is satisfied by *resolve.Generator.
type ResolutionSuggester interface {
	Suggest(ctx context.Context, title, description string, meta extract.Metadata, refs []resolve.Reference) (string, string)
}

// Deps: зависимости сервиса тикетов.
type Deps struct {
	DB         *gorm.DB
	Taxonomy   *taxonomy.Taxonomy
	Extractor  MetadataExtractor
	Similarity SimilarFinder
	Classifier *classify.Engine
	Resolver   ResolutionSuggester
	Assigner   *assign.Engine
	Notifier   *notify.Notifier
	Events     kafka.TicketEventProducer
	Logger     *zap.Logger
	// SimilarK is the number of historical tickets used as classification evidence.
	SimilarK int
	Now      func() time.Time
}

type TicketService struct {
	db       *gorm.DB
	tax      *taxonomy.Taxonomy
	extract  MetadataExtractor
	similar  SimilarFinder
	classify *classify.Engine
	resolve  ResolutionSuggester
	assign   *assign.Engine
	notifier *notify.Notifier
	events   kafka.TicketEventProducer
	log      *zap.Logger
	k        int
	now      func() time.Time
}

func NewTicketService(d Deps) *TicketService {
	s := &TicketService{
		db:       d.DB,
		tax:      d.Taxonomy,
		extract:  d.Extractor,
		similar:  d.Similarity,
		classify: d.Classifier,
		resolve:  d.Resolver,
		assign:   d.Assigner,
		notifier: d.Notifier,
		events:   d.Events,
		log:      d.Logger,
		k:        d.SimilarK,
		now:      d.Now,
	}
	if s.tax == nil {
		s.tax = taxonomy.Default()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.extract == nil {
		s.extract = extract.NewExtractor(nil, s.tax, s.log)
	}
	if s.classify == nil {
		s.classify = classify.New(s.tax, classify.DefaultMinShare)
	}
	if s.resolve == nil {
		s.resolve = resolve.NewGenerator(nil, s.log)
	}
	if s.assign == nil {
		s.assign = assign.NewEngine(s.db, s.tax, s.log, assign.WithClock(s.now))
	}
	if s.events == nil {
		s.events = nopEvents{}
	}
	if s.k <= 0 {
		s.k = similarity.DefaultK
	}
	return s
}

type nopEvents struct{}

func (nopEvents) ProduceTicketEvent(context.Context, string, map[string]interface{}) {}

// CreateInput: входные данные для создания тикета.
type CreateInput struct {
	Title       string
	Description string
	UserID      string
	DueDate     *time.Time
}

// ParseDueDate accepts "YYYY-MM-DD HH:MM:SS" (UTC) or RFC 3339. Empty input means no due date.
func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(dueDateLayout, s, time.UTC); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errs.Invalid("due_date", "expected YYYY-MM-DD HH:MM:SS or RFC 3339")
	}
	t = t.UTC()
	return &t, nil
}

func (in *CreateInput) normalize(now time.Time) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.UserID = strings.TrimSpace(in.UserID)
	switch {
	case in.Title == "":
		return errs.Invalid("title", "is required")
	case utf8.RuneCountInString(in.Title) > 255:
		return errs.Invalid("title", "must be at most 255 characters")
	case utf8.RuneCountInString(in.Description) > 20000:
		return errs.Invalid("description", "must be at most 20000 characters")
	case in.UserID == "":
		return errs.Invalid("user_id", "is required")
	case len(in.UserID) > 100:
		return errs.Invalid("user_id", "must be at most 100 characters")
	case in.DueDate != nil && !in.DueDate.After(now):
		return errs.Invalid("due_date", "must be after the creation time")
	}
	return nil
}

// create inserts a New ticket numbered T<date>.<time> of its creation, appending -1, -2, …
// while the number is taken.
func (s *TicketService) create(ctx context.Context, in CreateInput) (*model.Ticket, error) {
	now := s.now()
	if err := in.normalize(now); err != nil {
		return nil, err
	}
	base := "T" + now.Format(numberLayout)
	for i := 0; i < maxNumberAttempts; i++ {
		number := base
		if i > 0 {
			number = fmt.Sprintf("%s-%d", base, i)
		}
		t := &model.Ticket{
			Number:      number,
			Title:       in.Title,
			Description: in.Description,
			UserID:      in.UserID,
			DueDate:     in.DueDate,
			Status:      model.TicketStatusNew,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := s.db.WithContext(ctx).Create(t).Error
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("create ticket: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", errs.ErrDuplicateTicketNumber, base)
}

func (s *TicketService) GetTicket(ctx context.Context, number string) (*model.Ticket, error) {
	return s.getByNumber(s.db.WithContext(ctx), number)
}

func (s *TicketService) getByNumber(db *gorm.DB, number string) (*model.Ticket, error) {
	var t model.Ticket
	if err := db.Where("number = ?", strings.TrimSpace(number)).Take(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TicketService) reload(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func (s *TicketService) ListTickets(ctx context.Context, filter model.TicketFilter, limit, offset int) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		tx = tx.Where("priority = ?", filter.Priority)
	}
	if filter.IssueType != "" {
		tx = tx.Where("issue_type = ?", filter.IssueType)
	}
	if filter.Category != "" {
		tx = tx.Where("category = ?", filter.Category)
	}
	if filter.UserID != "" {
		tx = tx.Where("user_id = ?", filter.UserID)
	}
	if filter.TechnicianID != "" {
		tx = tx.Where("assigned_technician_id = ?", filter.TechnicianID)
	}
	// Count total before pagination
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	tx = tx.Limit(ClampLimit(limit))
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	if err := tx.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *TicketService) AssignmentHistory(ctx context.Context, number string) ([]model.AssignmentEvent, error) {
	t, err := s.GetTicket(ctx, number)
	if err != nil {
		return nil, err
	}
	var events []model.AssignmentEvent
	if err := s.db.WithContext(ctx).Where("ticket_id = ?", t.ID).Order("assigned_at").Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *TicketService) ListTechnicians(ctx context.Context) ([]model.Technician, error) {
	var techs []model.Technician
	if err := s.db.WithContext(ctx).Order("id").Find(&techs).Error; err != nil {
		return nil, err
	}
	return techs, nil
}

func (s *TicketService) FindSimilar(ctx context.Context, text string, k int) ([]similarity.Match, error) {
	if s.similar == nil {
		return nil, fmt.Errorf("%w: similarity search is not configured", errs.ErrRetrievalUnavailable)
	}
	return s.similar.FindSimilar(ctx, text, k)
}

func (s *TicketService) technician(ctx context.Context, id string) (*model.Technician, error) {
	var tech model.Technician
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&tech).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTechnicianNotFound
		}
		return nil, err
	}
	return &tech, nil
}

func ticketEventPayload(t *model.Ticket) map[string]interface{} {
	p := map[string]interface{}{
		"ticket_id":      int64(t.ID),
		"ticket_number":  t.Number,
		"user_id":        t.UserID,
		"title":          t.Title,
		"status":         string(t.Status),
		"priority":       t.Classification.Priority,
		"category":       t.Classification.Category,
		"low_confidence": t.LowConfidence,
		"best_effort":    t.BestEffort,
	}
	if t.AssignedTechnicianID != nil {
		p["technician_id"] = *t.AssignedTechnicianID
	}
	return p
}
