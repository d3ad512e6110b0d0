package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/ticket-intake-service/api"
	"github.com/psds-microservice/ticket-intake-service/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

func New(ticketHandler *handler.TicketHandler, healthHandler *handler.HealthHandler, log *zap.Logger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(log))
	r.GET(paths.PathHealth, healthHandler.Health)
	r.GET(paths.PathReady, healthHandler.Ready)
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/tickets", ticketHandler.Create)
		v1.GET("/tickets", ticketHandler.List)
		v1.GET("/tickets/:number", ticketHandler.Get)
		v1.GET("/tickets/:number/resolution", ticketHandler.Resolution)
		v1.PUT("/tickets/:number/status", ticketHandler.UpdateStatus)
		v1.POST("/tickets/:number/feedback", ticketHandler.Feedback)
		v1.POST("/tickets/:number/retry", ticketHandler.Retry)
		v1.GET("/tickets/:number/assignments", ticketHandler.Assignments)
		v1.GET("/technicians", ticketHandler.Technicians)
		v1.GET("/similar", ticketHandler.Similar)
	}

	return r
}
