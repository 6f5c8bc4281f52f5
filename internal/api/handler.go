package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/actor"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/apperrors"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/assignment"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/batch"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/scoring"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/validator"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

const (
	HeaderActorID   = "X-Actor-Id"
	HeaderRequestID = "X-Request-Id"

	maxBodyBytes = 1 << 20
)

type Scorer interface {
	ScoreLead(ctx context.Context, leadID string, opts scoring.ScoreOptions) (*scoring.LeadScore, error)
}

type Assigner interface {
	AssignLead(ctx context.Context, leadID string, opts assignment.AssignOptions) (*assignment.Outcome, error)
	ManualAssign(ctx context.Context, req assignment.ManualAssignRequest) (*assignment.Outcome, error)
}

type BatchRunner interface {
	ScoreMany(ctx context.Context, leadIDs []string, opts scoring.ScoreOptions) batch.ScoreBatchResult
	AssignMany(ctx context.Context, leadIDs []string, opts assignment.AssignOptions) batch.AssignBatchResult
}

type SettingsWriter interface {
	Set(ctx context.Context, key string, enabled bool, actorID string) error
}

// RuleInvalidator drops cached rules so the next read reloads them.
type RuleInvalidator interface {
	Invalidate()
}

// Handler serves the /v1 API.
type Handler struct {
	scorer   Scorer
	assigner Assigner
	batch    BatchRunner
	settings SettingsWriter
	rules    RuleInvalidator
}

func NewHandler(scorer Scorer, assigner Assigner, batch BatchRunner, settings SettingsWriter, rules RuleInvalidator) *Handler {
	return &Handler{scorer: scorer, assigner: assigner, batch: batch, settings: settings, rules: rules}
}

type ScoreRequest struct {
	UseML             bool `json:"use_ml"`
	RefreshEnrichment bool `json:"refresh_enrichment"`
}

type AssignRequest struct {
	Force bool `json:"force"`
}

type OwnerRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type ScoreBatchRequest struct {
	LeadIDs           []string `json:"lead_ids" validate:"required,min=1,max=1000,dive,required"`
	UseML             bool     `json:"use_ml"`
	RefreshEnrichment bool     `json:"refresh_enrichment"`
}

type AssignBatchRequest struct {
	LeadIDs []string `json:"lead_ids" validate:"required,min=1,max=1000,dive,required"`
	Force   bool     `json:"force"`
}

type SettingRequest struct {
	Key     string `json:"key" validate:"setting_key"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

// Routes builds the gin engine serving the API.
func (h *Handler) Routes() *gin.Engine {
	engine := gin.New()
	engine.Use(RequestContext(), Recovery())

	v1 := engine.Group("/v1")
	leads := v1.Group("/leads")
	leads.POST("/:id/score", h.scoreLead)
	leads.POST("/:id/assign", h.assignLead)
	leads.PUT("/:id/owner", h.setOwner)
	leads.POST("/score-batch", h.scoreBatch)
	leads.POST("/assign-batch", h.assignBatch)
	v1.PUT("/settings/:key", h.setSetting)
	v1.POST("/rules/invalidate", h.invalidateRules)
	return engine
}

func (h *Handler) scoreLead(c *gin.Context) {
	var req ScoreRequest
	if err := bindOptional(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	res, err := h.scorer.ScoreLead(ctx, c.Param("id"), scoring.ScoreOptions{
		UseML:             req.UseML,
		RefreshEnrichment: req.RefreshEnrichment,
		ScoredBy:          actor.OrSystem(ctx),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) assignLead(c *gin.Context) {
	var req AssignRequest
	if err := bindOptional(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	out, err := h.assigner.AssignLead(ctx, c.Param("id"), assignment.AssignOptions{
		Force:   req.Force,
		ActorID: actor.OrSystem(ctx),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) setOwner(c *gin.Context) {
	var req OwnerRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	out, err := h.assigner.ManualAssign(ctx, assignment.ManualAssignRequest{
		LeadID:  c.Param("id"),
		UserID:  req.UserID,
		ActorID: actor.OrSystem(ctx),
		Reason:  req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) scoreBatch(c *gin.Context) {
	var req ScoreBatchRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, h.batch.ScoreMany(ctx, req.LeadIDs, scoring.ScoreOptions{
		UseML:             req.UseML,
		RefreshEnrichment: req.RefreshEnrichment,
		ScoredBy:          actor.OrSystem(ctx),
	}))
}

func (h *Handler) assignBatch(c *gin.Context) {
	var req AssignBatchRequest
	if err := bind(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, h.batch.AssignMany(ctx, req.LeadIDs, assignment.AssignOptions{
		Force:   req.Force,
		ActorID: actor.OrSystem(ctx),
	}))
}

func (h *Handler) setSetting(c *gin.Context) {
	var req SettingRequest
	if err := bindBody(c, &req, false); err != nil {
		writeError(c, err)
		return
	}
	req.Key = c.Param("key")
	if err := validator.Validate(req); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.settings.Set(ctx, req.Key, *req.Enabled, actor.OrSystem(ctx)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": req.Key, "enabled": *req.Enabled})
}

func (h *Handler) invalidateRules(c *gin.Context) {
	h.rules.Invalidate()
	logger.FromContext(c.Request.Context()).Info("Rule cache invalidated")
	c.Status(http.StatusNoContent)
}

// bind reads and validates a required JSON body.
func bind(c *gin.Context, dst interface{}) error {
	if err := bindBody(c, dst, false); err != nil {
		return err
	}
	return validator.Validate(dst)
}

// bindOptional accepts an empty body and leaves dst at its zero value.
func bindOptional(c *gin.Context, dst interface{}) error {
	if err := bindBody(c, dst, true); err != nil {
		return err
	}
	return validator.Validate(dst)
}

func bindBody(c *gin.Context, dst interface{}, allowEmpty bool) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	err := c.ShouldBindJSON(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: request body is required", apperrors.ErrBadRequest)
	default:
		return fmt.Errorf("%w: invalid JSON body: %w", apperrors.ErrBadRequest, err)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case apperrors.IsValidationError(err), apperrors.IsBadRequestError(err):
		return http.StatusBadRequest
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound
	case apperrors.IsConflictError(err), apperrors.IsDuplicateError(err):
		return http.StatusConflict
	case apperrors.IsTimeoutError(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case apperrors.IsUnavailableError(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	log := logger.FromContext(c.Request.Context()).With(zap.String("path", c.Request.URL.Path), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.Error(err))
		if status == http.StatusInternalServerError {
			err = errors.New("internal server error")
		}
	} else {
		log.Info("Request rejected", zap.Error(err))
	}
	c.AbortWithStatusJSON(status, utils.ErrorResponse{Error: err.Error()})
}

// RequestContext carries the caller's actor and request ids into the request
// context, echoes the request id and logs each request at debug.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := actor.WithRequestID(c.Request.Context(), requestID)
		if actorID := c.GetHeader(HeaderActorID); actorID != "" {
			ctx = actor.WithActorID(ctx, actorID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, requestID)

		start := time.Now()
		c.Next()

		logger.FromContext(ctx).Debug("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Recovery turns handler panics into a masked 500.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.FromContext(c.Request.Context()).Error("[panic] Recovered in HTTP handler", zap.Any("panic", recovered), zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, utils.ErrorResponse{Error: "internal server error"})
	})
}
