package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/ticket-intake-service/api"
	"github.com/psds-microservice/ticket-intake-service/internal/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouter_HealthAndOpenAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(handler.NewTicketHandler(nil, zap.NewNop()), handler.NewHealthHandler(nil), zap.NewNop())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, paths.PathHealth, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, paths.PathSwagger+"/openapi.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, string(api.OpenAPISpec), w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
