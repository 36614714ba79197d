package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation-engine/internal/service/automation"
	"automation-engine/pkg/logger"
)

type Triggerer interface {
	Process(ctx context.Context, req automation.TriggerRequest) (automation.TriggerResult, error)
}

type BatchReconciler interface {
	Reconcile(ctx context.Context, req automation.ReconcileRequest) (automation.ReconcileResult, error)
}

type QueueDrainer interface {
	Tick(ctx context.Context) (automation.DrainResult, error)
}

type RuleDeleter interface {
	DeleteRule(ctx context.Context, orgID, ruleID uuid.UUID) error
}

type AutomationHandler struct {
	triggers   Triggerer
	reconciler BatchReconciler
	drainer    QueueDrainer
	rules      RuleDeleter
	logger     *zap.Logger
}

func NewAutomationHandler(
	triggers Triggerer,
	reconciler BatchReconciler,
	drainer QueueDrainer,
	rules RuleDeleter,
	logger *zap.Logger,
) *AutomationHandler {
	return &AutomationHandler{
		triggers:   triggers,
		reconciler: reconciler,
		drainer:    drainer,
		rules:      rules,
		logger:     logger,
	}
}

// Trigger handles POST /api/v1/automations/trigger
func (h *AutomationHandler) Trigger(c *gin.Context) {
	var req automation.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if _, err := req.Event(); err != nil {
		h.writeError(c, "trigger", err)
		return
	}
	if !authorizeOrganization(c, req.OrganizationID) {
		return
	}

	res, err := h.triggers.Process(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "trigger", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reconcile handles POST /api/v1/reconcile
func (h *AutomationHandler) Reconcile(c *gin.Context) {
	var req automation.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if _, _, err := req.IDs(); err != nil {
		h.writeError(c, "reconcile", err)
		return
	}
	if !authorizeOrganization(c, req.OrganizationID) {
		return
	}

	res, err := h.reconciler.Reconcile(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "reconcile", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DrainQueue handles POST /api/v1/queue/drain
func (h *AutomationHandler) DrainQueue(c *gin.Context) {
	res, err := h.drainer.Tick(c.Request.Context())
	if err != nil {
		h.writeError(c, "drain", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteRule handles DELETE /api/v1/automations/:id
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid automation id"})
		return
	}
	orgID, err := uuid.Parse(c.GetString(ctxOrgID))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "token has no organization"})
		return
	}

	if err := h.rules.DeleteRule(c.Request.Context(), orgID, ruleID); err != nil {
		h.writeError(c, "delete_rule", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AutomationHandler) writeError(c *gin.Context, op string, err error) {
	var ve *automation.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, automation.ErrBatchNotFound), errors.Is(err, automation.ErrRuleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrRuleInUse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrProviderNotSet):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, automation.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.WithTrace(c.Request.Context(), h.logger).Error("Request failed",
			zap.String("op", op),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
