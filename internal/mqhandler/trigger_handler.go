package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "automation-engine/contracts/mq"
	"automation-engine/internal/service/automation"
	"automation-engine/pkg/logger"
	"automation-engine/pkg/trace"
	"automation-engine/pkg/util"
)

const (
	handlerName = "automation_trigger"
	maxRetries  = 5
)

type Deduper interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, reason string) error
}

type Trigger interface {
	Process(ctx context.Context, req automation.TriggerRequest) (automation.TriggerResult, error)
}

// TriggerHandler feeds automation.trigger messages into the engine.
type TriggerHandler struct {
	trigger      Trigger
	deduper      Deduper
	retryCounter RetryCounter
	dlq          DeadLetterPublisher
	logger       *zap.Logger
}

func NewTriggerHandler(
	trigger Trigger,
	deduper Deduper,
	retryCounter RetryCounter,
	dlq DeadLetterPublisher,
	logger *zap.Logger,
) *TriggerHandler {
	return &TriggerHandler{
		trigger:      trigger,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlq:          dlq,
		logger:       logger,
	}
}

// Handle returns nil to ack and an error to nack with requeue.
func (h *TriggerHandler) Handle(ctx context.Context, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in TriggerHandler", zap.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var p mqcontracts.TriggerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.logger.Error("Invalid trigger payload, sending to DLQ", zap.Error(err))
		h.deadLetter(ctx, data, "bad_payload: "+err.Error())
		return nil
	}

	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("event_id", p.EventID),
		zap.String("trigger_type", p.TriggerType),
		zap.String("organization_id", p.OrganizationID),
	)

	// 有 event_id 才去重
	if p.EventID != "" && !h.deduper.AcquireOnce(ctx, handlerName, p.EventID) {
		log.Info("Duplicate trigger event skipped")
		return nil
	}

	res, err := h.trigger.Process(ctx, automation.TriggerRequest{
		EventID:        p.EventID,
		TriggerType:    p.TriggerType,
		OrganizationID: p.OrganizationID,
		Record:         p.Record,
		OldRecord:      p.OldRecord,
	})
	retryKey := util.FormatRetryKey(handlerName, messageKey(p, data))

	if err == nil {
		_ = h.retryCounter.Reset(ctx, retryKey)
		log.Info("Trigger event processed",
			zap.Int("triggered", res.Triggered),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("enqueued", res.Enqueued),
		)
		return nil
	}

	if automation.IsValidationError(err) {
		log.Warn("Rejected invalid trigger event", zap.Error(err))
		return nil
	}

	if p.EventID != "" {
		h.deduper.Release(ctx, handlerName, p.EventID)
	}

	retryable, errType := util.IsRetryableError(err)
	retryCount, cerr := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		log.Warn("Retry counter unavailable", zap.Error(cerr))
	}
	log.Error("Trigger event failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("retry", retryCount),
		zap.Error(err),
	)

	if !util.ShouldRetry(retryCount, maxRetries, retryable) {
		h.deadLetter(ctx, data, fmt.Sprintf("%s: %v", errType, err))
		_ = h.retryCounter.Reset(ctx, retryKey)
		return nil
	}
	return err
}

func (h *TriggerHandler) deadLetter(ctx context.Context, data []byte, reason string) {
	if err := h.dlq.PublishToDLQ(ctx, mqcontracts.RoutingKeyAutomationTrigger, data, reason); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.String("reason", reason), zap.Error(err))
	}
}

// messageKey identifies a message for retry counting even without an event id.
func messageKey(p mqcontracts.TriggerPayload, data []byte) string {
	if p.EventID != "" {
		return p.EventID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, data).String()
}
