package api

import (
	"log/slog"
	"net/http"

	_ "smart-demo/bootstrapper/docs" // register generated Swagger spec
	"smart-demo/bootstrapper/internal/bootstrap"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router serving status for the given databases.
// Middleware order:
//  1. Recovery — panic → 500
//  2. OTEL — trace context per request
//  3. RequestLogger — structured request/response logging
//
// No route performs a reset; destructive runs are CLI-only.
func NewRouter(svc bootstrapService, names []bootstrap.DatabaseName, serviceName string) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(slog.Default()))
	engine.Use(Tracing(serviceName))
	engine.Use(RequestLogger(slog.Default()))

	h := &Handler{svc: svc, names: names}

	v1 := engine.Group("/api/v1")
	v1.POST("/bootstrap", h.Bootstrap)

	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/ready", h.Ready)

	engine.GET("/api-docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api-docs/index.html")
	})
	engine.GET("/api-docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
