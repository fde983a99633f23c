package handlers

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
)

// StatusSource reports the driver's view of each kind.
type StatusSource interface {
	Status() []pipeline.KindStatus
}

// WatermarkReader reads committed watermarks.
type WatermarkReader interface {
	Get(ctx context.Context, kind models.Kind) (time.Time, error)
}

// WatermarkHandler exposes sync progress.
type WatermarkHandler struct {
	status     StatusSource
	watermarks WatermarkReader
	logger     ectologger.Logger
}

func NewWatermarkHandler(status StatusSource, watermarks WatermarkReader, logger ectologger.Logger) *WatermarkHandler {
	return &WatermarkHandler{
		status:     status,
		watermarks: watermarks,
		logger:     logger,
	}
}

// WatermarkResponse joins the committed watermark with the driver state.
type WatermarkResponse struct {
	Kind          models.Kind    `json:"kind"`
	Watermark     *time.Time     `json:"watermark"`
	Stage         pipeline.Stage `json:"stage"`
	LastStartedAt *time.Time     `json:"last_started_at,omitempty"`
	LastSuccessAt *time.Time     `json:"last_success_at,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

type WatermarkListResponse struct {
	Kinds []WatermarkResponse `json:"kinds"`
}

// List returns every kind in sync order
// GET /api/v1/watermarks
func (h *WatermarkHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	statuses := h.status.Status()
	out := make([]WatermarkResponse, 0, len(statuses))
	for _, s := range statuses {
		resp, err := h.describe(ctx, s)
		if err != nil {
			return err
		}
		out = append(out, resp)
	}

	return SuccessResponse(c, WatermarkListResponse{Kinds: out})
}

// Get returns one kind
// GET /api/v1/watermarks/:kind
func (h *WatermarkHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		return NotFound(err.Error())
	}

	for _, s := range h.status.Status() {
		if s.Kind != kind {
			continue
		}
		resp, err := h.describe(ctx, s)
		if err != nil {
			return err
		}
		return SuccessResponse(c, resp)
	}
	return NotFound("kind " + kind.String() + " is not synced by this process")
}

func (h *WatermarkHandler) describe(ctx context.Context, s pipeline.KindStatus) (WatermarkResponse, error) {
	resp := WatermarkResponse{
		Kind:          s.Kind,
		Stage:         s.Stage,
		LastStartedAt: s.LastStartedAt,
		LastSuccessAt: s.LastSuccessAt,
		LastError:     s.LastError,
	}

	ts, err := h.watermarks.Get(ctx, s.Kind)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("kind", s.Kind).Error("Failed to read watermark")
		return resp, InternalError("failed to read watermark")
	}
	if !ts.IsZero() {
		resp.Watermark = &ts
	}
	return resp, nil
}

// RegisterRoutes mounts the watermark routes.
func (h *WatermarkHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/watermarks")
	g.GET("", h.List)
	g.GET("/:kind", h.Get)
}
