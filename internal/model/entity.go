package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "new"
	TicketStatusClassified TicketStatus = "classified"
	TicketStatusAssigned   TicketStatus = "assigned"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
	TicketStatusReopened   TicketStatus = "reopened"
)

func ParseTicketStatus(s string) (TicketStatus, bool) {
	switch st := TicketStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TicketStatusNew, TicketStatusClassified, TicketStatusAssigned, TicketStatusInProgress,
		TicketStatusResolved, TicketStatusClosed, TicketStatusReopened:
		return st, true
	}
	return "", false
}

type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityOnLeave   Availability = "on_leave"
	AvailabilityAway      Availability = "away"
)

type AssignmentStatus string

const (
	AssignmentStatusAssigned   AssignmentStatus = "assigned"
	AssignmentStatusResolved   AssignmentStatus = "resolved"
	AssignmentStatusReassigned AssignmentStatus = "reassigned"
)

// Stage trace values stored on the ticket.
const (
	SourceLLM       = "llm"
	SourceHeuristic = "heuristic"

	SourceSimilarity = "similarity"
	SourceRules      = "rules"
	SourceDefaults   = "defaults"

	SourceSkillMatch = "skill_match"
	SourceFallback   = "fallback_tier"
	SourcePending    = "pending"
)

// Classification: категориальные поля тикета, значения из фиксированных пиклистов.
type Classification struct {
	IssueType    string `gorm:"type:varchar(64)" json:"issue_type"`
	SubIssueType string `gorm:"type:varchar(64)" json:"sub_issue_type"`
	Category     string `gorm:"type:varchar(64)" json:"category"`
	TicketType   string `gorm:"type:varchar(64)" json:"ticket_type"`
	Priority     string `gorm:"type:varchar(32)" json:"priority"`
	StatusLabel  string `gorm:"type:varchar(32)" json:"status"`
}

func (c Classification) Complete() bool {
	return c.IssueType != "" && c.SubIssueType != "" && c.Category != "" &&
		c.TicketType != "" && c.Priority != "" && c.StatusLabel != ""
}

type Ticket struct {
	ID          uint64     `gorm:"primaryKey" json:"id"`
	Number      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"ticket_number"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	UserID      string     `gorm:"type:varchar(100);index;not null" json:"user_id"`
	DueDate     *time.Time `json:"due_date,omitempty"`

	Classification Classification `gorm:"embedded" json:"classification"`
	Confidence     float64        `json:"confidence"`

	Status               TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	AssignedTechnicianID *string      `gorm:"type:varchar(100);index" json:"assigned_technician_id"`
	LowConfidence        bool         `gorm:"not null;default:false" json:"low_confidence"`
	BestEffort           bool         `gorm:"not null;default:false" json:"best_effort"`

	ExtractionSource     string `gorm:"type:varchar(32)" json:"extraction_source,omitempty"`
	RetrievalDegraded    bool   `gorm:"not null;default:false" json:"retrieval_degraded"`
	ClassificationSource string `gorm:"type:varchar(32)" json:"classification_source,omitempty"`
	AssignmentSource     string `gorm:"type:varchar(32)" json:"assignment_source,omitempty"`

	SuggestedResolution string `gorm:"type:text" json:"suggested_resolution,omitempty"`
	ResolutionSource    string `gorm:"type:varchar(32)" json:"resolution_source,omitempty"`

	Metadata            datatypes.JSON `json:"metadata,omitempty"`
	SimilarTicketsFound int            `gorm:"not null;default:0" json:"similar_tickets_found"`
	AssignmentAttempts  int            `gorm:"not null;default:0" json:"assignment_attempts"`
	ReopenCount         int            `gorm:"not null;default:0" json:"reopen_count"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClassifiedAt *time.Time `json:"classified_at,omitempty"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

type Technician struct {
	ID            string       `gorm:"primaryKey;type:varchar(100)" json:"id"`
	Name          string       `gorm:"type:varchar(255);not null" json:"name"`
	Email         string       `gorm:"type:varchar(255)" json:"email,omitempty"`
	Skills        string       `gorm:"type:text" json:"skills"`
	RoleTier      string       `gorm:"type:varchar(32);not null;default:junior" json:"role_tier"`
	Workload      int          `gorm:"not null;default:0" json:"workload"`
	SolvedTickets int          `gorm:"not null;default:0" json:"solved_tickets"`
	AssignedTotal int          `gorm:"not null;default:0" json:"assigned_total"`
	Availability  Availability `gorm:"type:varchar(32);index;not null;default:available" json:"availability"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SkillSet returns the technician's skills, lower-cased, from the comma-separated column.
func (t *Technician) SkillSet() map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range strings.Split(t.Skills, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

// MatchSkills returns the required skills the technician has, in sorted order.
func (t *Technician) MatchSkills(required []string) []string {
	have := t.SkillSet()
	var matched []string
	for _, r := range required {
		if _, ok := have[strings.ToLower(strings.TrimSpace(r))]; ok {
			matched = append(matched, r)
		}
	}
	sort.Strings(matched)
	return matched
}

type AssignmentEvent struct {
	ID            uint64           `gorm:"primaryKey" json:"id"`
	TicketID      uint64           `gorm:"index;not null" json:"ticket_id"`
	TechnicianID  string           `gorm:"type:varchar(100);index;not null" json:"technician_id"`
	AssignedAt    time.Time        `gorm:"not null" json:"assigned_at"`
	UnassignedAt  *time.Time       `json:"unassigned_at"`
	Status        AssignmentStatus `gorm:"type:varchar(32);not null" json:"status"`
	BestEffort    bool             `gorm:"not null;default:false" json:"best_effort"`
	MatchedSkills string           `gorm:"type:text" json:"matched_skills,omitempty"`
	Reason        string           `gorm:"type:text" json:"reason,omitempty"`
}

// HistoricalTicket: закрытый тикет с предрассчитанным эмбеддингом (только чтение).
type HistoricalTicket struct {
	ID             uint64         `gorm:"primaryKey" json:"id"`
	Number         string         `gorm:"type:varchar(64);uniqueIndex" json:"ticket_number"`
	Title          string         `gorm:"type:text" json:"title"`
	Description    string         `gorm:"type:text" json:"description"`
	Resolution     string         `gorm:"type:text" json:"resolution,omitempty"`
	Classification Classification `gorm:"embedded" json:"classification"`
	Embedding      datatypes.JSON `json:"-"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
}

// Text is the string embedded for both historical and incoming tickets.
func (h *HistoricalTicket) Text() string {
	return strings.TrimSpace(h.Title + " " + h.Description)
}

func (h *HistoricalTicket) Vector() ([]float32, error) {
	if len(h.Embedding) == 0 {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal(h.Embedding, &v); err != nil {
		return nil, fmt.Errorf("historical ticket %d: decode embedding: %w", h.ID, err)
	}
	return v, nil
}

func (h *HistoricalTicket) SetVector(v []float32) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Embedding = datatypes.JSON(b)
	return nil
}

type Feedback struct {
	ID                   uint64    `gorm:"primaryKey" json:"id"`
	TicketID             uint64    `gorm:"index;not null" json:"ticket_id"`
	UserID               string    `gorm:"type:varchar(100)" json:"user_id,omitempty"`
	IsResolved           bool      `gorm:"not null" json:"is_resolved"`
	Reopened             bool      `gorm:"not null;default:false" json:"reopened"`
	Reason               string    `gorm:"type:text" json:"reason,omitempty"`
	PreviousTechnicianID *string   `gorm:"type:varchar(100)" json:"previous_technician_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// TicketFilter: фильтры списка тикетов; пустые поля игнорируются.
type TicketFilter struct {
	Status       TicketStatus
	Priority     string
	IssueType    string
	Category     string
	UserID       string
	TechnicianID string
}

// All returns every persisted entity, for auto-migration in tests and tools.
func All() []interface{} {
	return []interface{}{&Ticket{}, &Technician{}, &AssignmentEvent{}, &HistoricalTicket{}, &Feedback{}}
}
