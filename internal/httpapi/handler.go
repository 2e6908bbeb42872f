package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"contextbus/internal/constants"
	"contextbus/internal/dlq"
	"contextbus/internal/logger"
	"contextbus/internal/publish"
	"contextbus/internal/schema"
	"contextbus/internal/security"
	buserrors "contextbus/pkg/errors"
	"contextbus/pkg/models"
)

// Publisher is the accept pipeline as the ingress surface sees it.
type Publisher interface {
	Publish(ctx context.Context, env *models.MessageEnvelope) (*publish.Receipt, error)
}

// DLQBrowser exposes the tenant-scoped dead letter operations.
type DLQBrowser interface {
	List(ctx context.Context, tenantID string, filter dlq.Filter) ([]dlq.Entry, error)
	Get(ctx context.Context, tenantID, messageID string) (dlq.Entry, error)
	Replay(ctx context.Context, tenantID, messageID string) (*publish.Receipt, error)
}

type Handler struct {
	publisher        Publisher
	dlq              DLQBrowser
	schemas          *schema.Registry
	verifier         security.Verifier
	requireSignature bool
	logger           logger.Logger
}

func NewHandler(publisher Publisher, dlqBrowser DLQBrowser, schemas *schema.Registry, verifier security.Verifier, requireSignature bool, log logger.Logger) *Handler {
	return &Handler{
		publisher:        publisher,
		dlq:              dlqBrowser,
		schemas:          schemas,
		verifier:         verifier,
		requireSignature: requireSignature,
		logger:           log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	{
		v1.POST("/messages", h.PublishMessage)

		dlqGroup := v1.Group("/dlq")
		{
			dlqGroup.GET("", h.ListDeadLetters)
			dlqGroup.GET("/:message_id", h.GetDeadLetter)
			dlqGroup.POST("/:message_id/replay", h.ReplayDeadLetter)
		}

		schemas := v1.Group("/schemas")
		{
			schemas.POST("", h.RegisterSchema)
			schemas.GET("/:event_type/:version", h.GetSchema)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error",
		"error", err,
		"path", c.Request.URL.Path,
	)

	if d, ok := buserrors.RetryAfter(err); ok {
		c.Header(constants.HeaderRetryAfter, strconv.Itoa(int(d.Seconds())))
	}
	c.JSON(buserrors.ToHTTPStatus(err), buserrors.ToErrorResponse(err))
}

// PublishMessage accepts one envelope. Signature verification runs over
// the raw body before it is decoded, so a tampered envelope never
// reaches the pipeline.
func (h *Handler) PublishMessage(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, models.MaxEnvelopeBytes+1))
	if err != nil {
		h.handleError(c, buserrors.ErrValidation.WithCause(err))
		return
	}
	if len(body) > models.MaxEnvelopeBytes {
		h.handleError(c, buserrors.ErrPayloadTooLarge.WithDetail("limit_bytes", models.MaxEnvelopeBytes))
		return
	}

	if h.requireSignature {
		signature := c.GetHeader(constants.HeaderSignature)
		if signature == "" || h.verifier == nil || !h.verifier.Verify(body, signature) {
			h.handleError(c, buserrors.ErrUnauthorized)
			return
		}
	}

	var env models.MessageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.handleError(c, buserrors.ErrValidation.WithField("envelope").WithCause(err))
		return
	}

	// The tenant header is the routing identity; it must agree with the
	// envelope so a producer cannot publish into another tenant's stream.
	tenantID, ok := h.tenantFrom(c)
	if !ok {
		return
	}
	if env.TenantID != tenantID {
		h.handleError(c, buserrors.ErrValidation.WithField("tenant_id").
			WithDetail("reason", "tenant header does not match envelope"))
		return
	}

	receipt, err := h.publisher.Publish(c.Request.Context(), &env)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header(constants.HeaderMessageID, receipt.MessageID)
	c.Header(constants.HeaderTraceID, env.TraceID)
	c.JSON(http.StatusAccepted, receipt)
}

func (h *Handler) ListDeadLetters(c *gin.Context) {
	tenantID, ok := h.tenantFrom(c)
	if !ok {
		return
	}

	filter := dlq.Filter{
		EventType:  c.Query("event_type"),
		ConsumerID: c.Query("consumer_id"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.handleError(c, buserrors.ErrValidation.WithField("since").WithCause(err))
			return
		}
		filter.Since = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			h.handleError(c, buserrors.ErrValidation.WithField("limit").WithCause(err))
			return
		}
		filter.Limit = n
	}

	entries, err := h.dlq.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *Handler) GetDeadLetter(c *gin.Context) {
	tenantID, ok := h.tenantFrom(c)
	if !ok {
		return
	}

	entry, err := h.dlq.Get(c.Request.Context(), tenantID, c.Param("message_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) ReplayDeadLetter(c *gin.Context) {
	tenantID, ok := h.tenantFrom(c)
	if !ok {
		return
	}

	receipt, err := h.dlq.Replay(c.Request.Context(), tenantID, c.Param("message_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header(constants.HeaderMessageID, receipt.MessageID)
	c.JSON(http.StatusAccepted, receipt)
}

type registerSchemaRequest struct {
	EventType string                      `json:"event_type"`
	Version   string                      `json:"version"`
	Fields    map[string]schema.FieldSpec `json:"fields"`
}

func (h *Handler) RegisterSchema(c *gin.Context) {
	var req registerSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, buserrors.ErrValidation.WithCause(err))
		return
	}

	if err := h.schemas.Register(req.EventType, req.Version, schema.Schema{Fields: req.Fields}); err != nil {
		h.handleError(c, buserrors.ErrValidation.WithCause(err))
		return
	}

	h.logger.InfowCtx(c.Request.Context(), "Schema registered",
		"event_type", req.EventType,
		"version", req.Version,
	)
	c.JSON(http.StatusCreated, gin.H{"event_type": req.EventType, "version": req.Version})
}

func (h *Handler) GetSchema(c *gin.Context) {
	eventType := c.Param("event_type")
	version := c.Param("version")

	s, ok := h.schemas.Lookup(eventType, version)
	if !ok {
		h.handleError(c, buserrors.ErrNotFound.
			WithDetail("event_type", eventType).
			WithDetail("version", version))
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) tenantFrom(c *gin.Context) (string, bool) {
	tenantID := c.GetHeader(constants.HeaderTenantID)
	if tenantID == "" {
		h.handleError(c, buserrors.ErrValidation.WithField(constants.HeaderTenantID).
			WithDetail("reason", "tenant header is required"))
		return "", false
	}
	return tenantID, true
}
