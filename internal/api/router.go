package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"automation-engine/pkg/metrics"
	"automation-engine/pkg/otel"
	"automation-engine/pkg/rbac"
	"automation-engine/pkg/trace"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerConn is a message broker connection whose liveness gates readiness.
type BrokerConn interface {
	IsConnected() bool
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h *AutomationHandler, jwtSecret string, db Pinger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware(), traceMiddleware(), metricsMiddleware())

	registerHealthRoutes(r, db, nil)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(jwtSecret))
	{
		v1.POST("/automations/trigger", RequirePermission(rbac.PermissionTrigger), h.Trigger)
		v1.DELETE("/automations/:id", RequirePermission(rbac.PermissionDeleteRule), h.DeleteRule)
		v1.POST("/reconcile", RequirePermission(rbac.PermissionReconcileBatch), h.Reconcile)
		v1.POST("/queue/drain", RequirePermission(rbac.PermissionDrainQueue), h.DrainQueue)
	}

	return &Router{Engine: r}
}

// NewWorkerRouter serves health, readiness and metrics for the worker process.
// Readiness also requires the publisher connection to be open.
func NewWorkerRouter(db Pinger, publisher BrokerConn) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), metricsMiddleware())
	registerHealthRoutes(r, db, publisher)
	return &Router{Engine: r}
}

func registerHealthRoutes(r *gin.Engine, db Pinger, broker BrokerConn) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		if broker != nil && !broker.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}

func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName)
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
