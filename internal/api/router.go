package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/msouza-dev/flowsync/internal/models"
)

// RuleManager mutates the sync rule registry (write-through to storage).
type RuleManager interface {
	Register(ctx context.Context, rule *models.SyncRule) error
	Unregister(ctx context.Context, id string) error
	Update(ctx context.Context, id string, patch *models.SyncRulePatch) error
}

// RuleReader serves rule reads straight from storage so operators see
// fresh counters, not the routing mirror.
type RuleReader interface {
	List(ctx context.Context) ([]models.SyncRule, error)
	Get(ctx context.Context, id string) (*models.SyncRule, error)
}

// ManualSyncer triggers and optionally awaits operator runs.
type ManualSyncer interface {
	Trigger(ctx context.Context, ruleID string) (string, error)
	Await(ctx context.Context, taskID string) (models.UploadTask, error)
}

// TaskReader exposes upload task state.
type TaskReader interface {
	Get(id string) (models.UploadTask, bool)
	Cancel(id string) error
}

// NewRouter builds the operator-facing API. Handlers are thin JSON glue;
// all behavior lives in the services behind the interfaces.
func NewRouter(rules RuleManager, reader RuleReader, manual ManualSyncer, tasks TaskReader, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &handlers{
		rules:  rules,
		reader: reader,
		manual: manual,
		tasks:  tasks,
		logger: logger,
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/rules", h.createRule)
		v1.GET("/rules", h.listRules)
		v1.GET("/rules/:id", h.getRule)
		v1.PATCH("/rules/:id", h.updateRule)
		v1.DELETE("/rules/:id", h.deleteRule)
		v1.POST("/rules/:id/sync", h.triggerSync)

		v1.GET("/tasks/:id", h.getTask)
		v1.POST("/tasks/:id/cancel", h.cancelTask)
	}

	return router
}
