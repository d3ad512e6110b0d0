package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/service"
	"go.uber.org/zap"
)

type TicketHandler struct {
	svc service.TicketServicer
	log *zap.Logger
}

func NewTicketHandler(svc service.TicketServicer, log *zap.Logger) *TicketHandler {
	return &TicketHandler{svc: svc, log: log}
}

type createTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	UserID      string `json:"user_id"`
	DueDate     string `json:"due_date"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	due, err := service.ParseDueDate(req.DueDate)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.svc.CreateAndProcess(c.Request.Context(), service.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		UserID:      req.UserID,
		DueDate:     due,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *TicketHandler) Get(c *gin.Context) {
	t, err := h.svc.GetTicket(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Resolution returns the suggested resolution steps; resolution is empty when nothing
// could be suggested.
func (h *TicketHandler) Resolution(c *gin.Context) {
	t, err := h.svc.GetTicket(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticket_number": t.Number,
		"title":         t.Title,
		"resolution":    t.SuggestedResolution,
		"source":        t.ResolutionSource,
	})
}

func (h *TicketHandler) List(c *gin.Context) {
	var filter model.TicketFilter
	if v := c.Query("status"); v != "" {
		st, ok := model.ParseTicketStatus(v)
		if !ok {
			h.fail(c, errs.Invalid("status", "unknown status "+strconv.Quote(v)))
			return
		}
		filter.Status = st
	}
	filter.Priority = c.Query("priority")
	filter.IssueType = c.Query("issue_type")
	filter.Category = c.Query("category")
	filter.UserID = c.Query("user_id")
	filter.TechnicianID = c.Query("technician_id")

	limit, err := intQuery(c, "limit")
	if err != nil {
		h.fail(c, err)
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		h.fail(c, err)
		return
	}

	items, total, err := h.svc.ListTickets(c.Request.Context(), filter, limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
		"limit":   service.ClampLimit(limit),
		"offset":  offset,
	})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	st, ok := model.ParseTicketStatus(req.Status)
	if !ok {
		h.fail(c, errs.Invalid("status", "unknown status "+strconv.Quote(req.Status)))
		return
	}
	t, err := h.svc.UpdateStatus(c.Request.Context(), c.Param("number"), st)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type feedbackRequest struct {
	IsResolved *bool  `json:"is_resolved" binding:"required"`
	Reason     string `json:"reason"`
	UserID     string `json:"user_id"`
}

func (h *TicketHandler) Feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: is_resolved is required"})
		return
	}
	res, err := h.svc.RecordFeedback(c.Request.Context(), c.Param("number"), service.FeedbackInput{
		IsResolved: *req.IsResolved,
		Reason:     req.Reason,
		UserID:     req.UserID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *TicketHandler) Retry(c *gin.Context) {
	res, err := h.svc.Resume(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *TicketHandler) Assignments(c *gin.Context) {
	events, err := h.svc.AssignmentHistory(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": events})
}

func (h *TicketHandler) Technicians(c *gin.Context) {
	techs, err := h.svc.ListTechnicians(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"technicians": techs})
}

func (h *TicketHandler) Similar(c *gin.Context) {
	k, err := intQuery(c, "k")
	if err != nil {
		h.fail(c, err)
		return
	}
	matches, err := h.svc.FindSimilar(c.Request.Context(), c.Query("q"), k)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func intQuery(c *gin.Context, name string) (int, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

// fail maps domain errors onto HTTP statuses.
func (h *TicketHandler) fail(c *gin.Context, err error) {
	var ve *errs.ValidationError
	var te *errs.TransitionError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, errs.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
	case errors.Is(err, errs.ErrTechnicianNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "technician not found"})
	case errors.As(err, &te):
		c.JSON(http.StatusConflict, gin.H{"error": te.Error(), "from": te.From, "to": te.To})
	case errors.Is(err, errs.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry later"})
	case errors.Is(err, errs.ErrRetrievalUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "similarity search unavailable"})
	default:
		h.log.Error("http: request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", RequestID(c)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
