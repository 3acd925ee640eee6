package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/client"
	"github.com/RezaEskandarii/gofire-cluster/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// HttpRouteHandler serves the administrative JSON API over a scheduler client.
type HttpRouteHandler struct {
	client       *client.SchedulerClient
	metrics      *metrics.Metrics
	logger       *zap.SugaredLogger
	UserName     string
	PasswordHash string
	Port         uint
}

func NewRouteHandler(
	schedulerClient *client.SchedulerClient,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
	userName string,
	passwordHash string,
	port uint,
) *HttpRouteHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HttpRouteHandler{
		client:       schedulerClient,
		metrics:      m,
		logger:       logger,
		UserName:     userName,
		PasswordHash: passwordHash,
		Port:         port,
	}
}

// Router builds the gin engine with every route registered.
func (handler *HttpRouteHandler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), accessLog(handler.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if handler.metrics != nil {
		router.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	api := router.Group("/api", basicAuth(handler.UserName, handler.PasswordHash))
	{
		api.PUT("/jobs", handler.addJob)
		api.GET("/jobs/:group/:name", handler.getJob)
		api.DELETE("/jobs/:group/:name", handler.deleteJob)
		api.GET("/jobs/:group/:name/triggers", handler.triggersOfJob)

		api.POST("/schedules", handler.scheduleJob)

		api.PUT("/triggers", handler.scheduleTrigger)
		api.GET("/triggers/:group/:name", handler.getTrigger)
		api.DELETE("/triggers/:group/:name", handler.unscheduleTrigger)
		api.POST("/triggers/:group/:name/pause", handler.pauseTrigger)
		api.POST("/triggers/:group/:name/resume", handler.resumeTrigger)
		api.GET("/triggers/:group/:name/history", handler.fireHistory)

		api.POST("/trigger-groups/:group/pause", handler.pauseTriggerGroup)
		api.POST("/trigger-groups/:group/resume", handler.resumeTriggerGroup)
		api.POST("/job-groups/:group/pause", handler.pauseJobGroup)
		api.POST("/job-groups/:group/resume", handler.resumeJobGroup)

		api.GET("/due", handler.dueTriggers)
		api.GET("/nodes", handler.nodes)
		api.GET("/locks", handler.locks)
	}
	return router
}

// Serve listens until ctx is cancelled, then shuts the server down.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", handler.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		printBanner(addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown: %w", err)
		}
		return nil
	}
}

func (handler *HttpRouteHandler) addJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := handler.client.AddJob(c.Request.Context(), req.toJob()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (handler *HttpRouteHandler) getJob(c *gin.Context) {
	job, err := handler.client.GetJob(c.Request.Context(), jobKeyParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (handler *HttpRouteHandler) deleteJob(c *gin.Context) {
	deleted, err := handler.client.DeleteJob(c.Request.Context(), jobKeyParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (handler *HttpRouteHandler) triggersOfJob(c *gin.Context) {
	triggers, err := handler.client.TriggersOfJob(c.Request.Context(), jobKeyParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": triggers})
}

func (handler *HttpRouteHandler) scheduleJob(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	first, err := handler.client.ScheduleJob(c.Request.Context(), req.Job.toJob(), req.Trigger.toTrigger())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"first_fire_time": first})
}

func (handler *HttpRouteHandler) scheduleTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	first, err := handler.client.ScheduleTrigger(c.Request.Context(), req.toTrigger())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"first_fire_time": first})
}

func (handler *HttpRouteHandler) getTrigger(c *gin.Context) {
	trigger, err := handler.client.GetTrigger(c.Request.Context(), triggerKeyParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trigger)
}

func (handler *HttpRouteHandler) unscheduleTrigger(c *gin.Context) {
	deleted, err := handler.client.UnscheduleTrigger(c.Request.Context(), triggerKeyParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (handler *HttpRouteHandler) pauseTrigger(c *gin.Context) {
	changed, err := handler.client.PauseTrigger(c.Request.Context(), triggerKeyParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (handler *HttpRouteHandler) resumeTrigger(c *gin.Context) {
	changed, err := handler.client.ResumeTrigger(c.Request.Context(), triggerKeyParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (handler *HttpRouteHandler) fireHistory(c *gin.Context) {
	history, err := handler.client.FireHistory(c.Request.Context(), triggerKeyParam(c), getPageNumber(c), PageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (handler *HttpRouteHandler) pauseTriggerGroup(c *gin.Context) {
	handler.groupAction(c, handler.client.PauseTriggerGroup)
}

func (handler *HttpRouteHandler) resumeTriggerGroup(c *gin.Context) {
	handler.groupAction(c, handler.client.ResumeTriggerGroup)
}

func (handler *HttpRouteHandler) pauseJobGroup(c *gin.Context) {
	handler.groupAction(c, handler.client.PauseJobGroup)
}

func (handler *HttpRouteHandler) resumeJobGroup(c *gin.Context) {
	handler.groupAction(c, handler.client.ResumeJobGroup)
}

func (handler *HttpRouteHandler) groupAction(c *gin.Context, action func(context.Context, string) (int, error)) {
	changed, err := action(c.Request.Context(), c.Param("group"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (handler *HttpRouteHandler) dueTriggers(c *gin.Context) {
	window := time.Minute
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid window %q", raw)})
			return
		}
		window = parsed
	}
	if window < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window must not be negative"})
		return
	}
	triggers, err := handler.client.DueTriggers(c.Request.Context(), window)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": triggers})
}

func (handler *HttpRouteHandler) nodes(c *gin.Context) {
	nodes, err := handler.client.Nodes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (handler *HttpRouteHandler) locks(c *gin.Context) {
	locks, err := handler.client.Locks(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}
