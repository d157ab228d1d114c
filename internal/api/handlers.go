package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/msouza-dev/flowsync/internal/db"
	"github.com/msouza-dev/flowsync/internal/models"
	"github.com/msouza-dev/flowsync/internal/service"
)

type handlers struct {
	rules  RuleManager
	reader RuleReader
	manual ManualSyncer
	tasks  TaskReader
	logger *slog.Logger
}

type createRuleRequest struct {
	TableName string `json:"table_name" binding:"required"`
	Title     string `json:"title"`
	Enabled   *bool  `json:"enabled"`

	SyncOnInsert bool `json:"sync_on_insert"`
	SyncOnUpdate bool `json:"sync_on_update"`
	SyncOnDelete bool `json:"sync_on_delete"`

	WorkflowIDGeneric string `json:"workflow_id_generic"`
	WorkflowIDInsert  string `json:"workflow_id_insert"`
	WorkflowIDUpdate  string `json:"workflow_id_update"`
	WorkflowIDDelete  string `json:"workflow_id_delete"`

	SelectedFields []string `json:"selected_fields"`
	Endpoint       string   `json:"endpoint"`
	Credential     string   `json:"credential"`
}

// taskResponse adds the derived progress percentage to the task snapshot.
type taskResponse struct {
	models.UploadTask
	Progress int `json:"progress"`
}

func newTaskResponse(task models.UploadTask) taskResponse {
	return taskResponse{UploadTask: task, Progress: task.Progress()}
}

func (h *handlers) createRule(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	status := models.RuleActive
	if !enabled {
		status = models.RuleDisabled
	}

	rule := &models.SyncRule{
		ID:                uuid.NewString(),
		TableName:         req.TableName,
		Title:             req.Title,
		Enabled:           enabled,
		Status:            status,
		SyncOnInsert:      req.SyncOnInsert,
		SyncOnUpdate:      req.SyncOnUpdate,
		SyncOnDelete:      req.SyncOnDelete,
		WorkflowIDGeneric: req.WorkflowIDGeneric,
		WorkflowIDInsert:  req.WorkflowIDInsert,
		WorkflowIDUpdate:  req.WorkflowIDUpdate,
		WorkflowIDDelete:  req.WorkflowIDDelete,
		SelectedFields:    req.SelectedFields,
		Endpoint:          req.Endpoint,
		Credential:        req.Credential,
	}

	if err := h.rules.Register(c.Request.Context(), rule); err != nil {
		h.logger.Error("Rule creation failed", "table", req.TableName, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create rule"})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

func (h *handlers) listRules(c *gin.Context) {
	rules, err := h.reader.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Rule listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *handlers) getRule(c *gin.Context) {
	rule, err := h.reader.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		h.logger.Error("Rule fetch failed", "rule_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch rule"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *handlers) updateRule(c *gin.Context) {
	var patch models.SyncRulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.rules.Update(c.Request.Context(), c.Param("id"), &patch); err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		h.logger.Error("Rule update failed", "rule_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update rule"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) deleteRule(c *gin.Context) {
	if err := h.rules.Unregister(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		h.logger.Error("Rule deletion failed", "rule_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete rule"})
		return
	}
	c.Status(http.StatusNoContent)
}

// triggerSync starts a manual run. With ?wait=true the handler blocks on
// the bounded poll-wait and returns whatever state the task reached; a
// still-running task comes back as-is, not as an error.
func (h *handlers) triggerSync(c *gin.Context) {
	taskID, err := h.manual.Trigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRuleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		case errors.Is(err, service.ErrRuleDisabled):
			c.JSON(http.StatusConflict, gin.H{"error": "rule is disabled"})
		default:
			h.logger.Error("Manual sync trigger failed", "rule_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger sync"})
		}
		return
	}

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
		return
	}

	task, err := h.manual.Await(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(task))
}

func (h *handlers) getTask(c *gin.Context) {
	task, ok := h.tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(task))
}

func (h *handlers) cancelTask(c *gin.Context) {
	if err := h.tasks.Cancel(c.Param("id")); err != nil {
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, service.ErrTaskTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "task already finished"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel task"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}
