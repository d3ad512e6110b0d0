package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/ticket-intake-service/internal/errs"
	"github.com/psds-microservice/ticket-intake-service/internal/model"
	"github.com/psds-microservice/ticket-intake-service/internal/service"
	"github.com/psds-microservice/ticket-intake-service/internal/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeService struct {
	created  service.CreateInput
	filter   model.TicketFilter
	limit    int
	offset   int
	feedback service.FeedbackInput
	status   model.TicketStatus
	err      error
}

func (f *fakeService) CreateAndProcess(_ context.Context, in service.CreateInput) (*service.ProcessResult, error) {
	f.created = in
	if f.err != nil {
		return nil, f.err
	}
	return &service.ProcessResult{TicketNumber: "T20250101.120000", Status: model.TicketStatusAssigned}, nil
}

func (f *fakeService) GetTicket(_ context.Context, number string) (*model.Ticket, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Ticket{
		ID:                  1,
		Number:              number,
		Title:               "VPN down",
		Status:              model.TicketStatusAssigned,
		SuggestedResolution: "Step 1: Restart the VPN agent",
		ResolutionSource:    model.SourceLLM,
	}, nil
}

func (f *fakeService) ListTickets(_ context.Context, filter model.TicketFilter, limit, offset int) ([]model.Ticket, int64, error) {
	f.filter, f.limit, f.offset = filter, limit, offset
	return []model.Ticket{{ID: 1, Number: "T1"}}, 1, f.err
}

func (f *fakeService) UpdateStatus(_ context.Context, number string, status model.TicketStatus) (*model.Ticket, error) {
	f.status = status
	if f.err != nil {
		return nil, f.err
	}
	return &model.Ticket{Number: number, Status: status}, nil
}

func (f *fakeService) RecordFeedback(_ context.Context, number string, in service.FeedbackInput) (*service.FeedbackResult, error) {
	f.feedback = in
	if f.err != nil {
		return nil, f.err
	}
	return &service.FeedbackResult{TicketNumber: number, Status: model.TicketStatusReopened, Reopened: !in.IsResolved}, nil
}

func (f *fakeService) Resume(_ context.Context, number string) (*service.ProcessResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.ProcessResult{TicketNumber: number, AssignmentPending: true}, nil
}

func (f *fakeService) AssignmentHistory(context.Context, string) ([]model.AssignmentEvent, error) {
	return []model.AssignmentEvent{{ID: 1, TechnicianID: "alice"}}, f.err
}

func (f *fakeService) ListTechnicians(context.Context) ([]model.Technician, error) {
	return []model.Technician{{ID: "alice"}}, f.err
}

func (f *fakeService) FindSimilar(_ context.Context, text string, k int) ([]similarity.Match, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []similarity.Match{{Ticket: model.HistoricalTicket{ID: uint64(k)}, Score: 0.9}}, nil
}

func newTestRouter(svc service.TicketServicer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTicketHandler(svc, zap.NewNop())
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	r.POST("/tickets", h.Create)
	r.GET("/tickets", h.List)
	r.GET("/tickets/:number", h.Get)
	r.GET("/tickets/:number/resolution", h.Resolution)
	r.PUT("/tickets/:number/status", h.UpdateStatus)
	r.POST("/tickets/:number/feedback", h.Feedback)
	r.POST("/tickets/:number/retry", h.Retry)
	r.GET("/tickets/:number/assignments", h.Assignments)
	r.GET("/technicians", h.Technicians)
	r.GET("/similar", h.Similar)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreate(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w := do(r, http.MethodPost, "/tickets",
		`{"title":"VPN down","description":"cannot connect","user_id":"u1","due_date":"2025-03-01 10:00:00"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "VPN down", svc.created.Title)
	require.NotNil(t, svc.created.DueDate)
	assert.Equal(t, 2025, svc.created.DueDate.Year())

	var res service.ProcessResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "T20250101.120000", res.TicketNumber)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreate_BadInput(t *testing.T) {
	r := newTestRouter(&fakeService{})

	w := do(r, http.MethodPost, "/tickets", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/tickets", `{"title":"x","description":"y","due_date":"tomorrow"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "due_date")

	r = newTestRouter(&fakeService{err: errs.Invalid("title", "is required")})
	w = do(r, http.MethodPost, "/tickets", `{"description":"y"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"title"`)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{errs.ErrTicketNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", errs.ErrTicketNotFound), http.StatusNotFound},
		{&errs.TransitionError{From: "new", To: "closed"}, http.StatusConflict},
		{errs.ErrConcurrencyConflict, http.StatusConflict},
		{errs.ErrRetrievalUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newTestRouter(&fakeService{err: tc.err})
		w := do(r, http.MethodGet, "/tickets/T1", "")
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
	}
}

func TestResolution(t *testing.T) {
	r := newTestRouter(&fakeService{})

	w := do(r, http.MethodGet, "/tickets/T1/resolution", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{
		"ticket_number": "T1",
		"title":         "VPN down",
		"resolution":    "Step 1: Restart the VPN agent",
		"source":        model.SourceLLM,
	}, body)

	r = newTestRouter(&fakeService{err: errs.ErrTicketNotFound})
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/tickets/T404/resolution", "").Code)
}

func TestList_Filters(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/tickets?status=Assigned&priority=High&technician_id=alice&limit=5000&offset=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.TicketFilter{Status: model.TicketStatusAssigned, Priority: "High", TechnicianID: "alice"}, svc.filter)
	assert.Equal(t, 5000, svc.limit)
	assert.Equal(t, 10, svc.offset)

	var body struct {
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Total)
	assert.Equal(t, service.MaxListLimit, body.Limit)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/tickets?status=pending", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/tickets?limit=-1", "").Code)
}

func TestUpdateStatus(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w := do(r, http.MethodPut, "/tickets/T1/status", `{"status":"resolved"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.TicketStatusResolved, svc.status)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/tickets/T1/status", `{"status":"done"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/tickets/T1/status", `{}`).Code)
}

func TestFeedback(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w := do(r, http.MethodPost, "/tickets/T1/feedback", `{"is_resolved":false,"reason":"still broken"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.feedback.IsResolved)
	assert.Equal(t, "still broken", svc.feedback.Reason)
	assert.Contains(t, w.Body.String(), `"reopened":true`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/tickets/T1/feedback", `{"reason":"x"}`).Code)
}

func TestRetryAndReadEndpoints(t *testing.T) {
	r := newTestRouter(&fakeService{})

	w := do(r, http.MethodPost, "/tickets/T1/retry", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"assignment_pending":true`)

	w = do(r, http.MethodGet, "/tickets/T1/assignments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"technician_id":"alice"`)

	w = do(r, http.MethodGet, "/technicians", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"alice"`)

	w = do(r, http.MethodGet, "/similar?q=vpn&k=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"score":0.9`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/similar?q=vpn&k=x", "").Code)
}

func TestRequestID_Reused(t *testing.T) {
	r := newTestRouter(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/technicians", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler(nil)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	w := do(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), serviceName)

	w = do(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
