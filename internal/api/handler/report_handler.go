package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apimw "github.com/academic360/notification-worker/internal/api/middleware"
	"github.com/academic360/notification-worker/internal/domain"
	"github.com/academic360/notification-worker/internal/service"
)

// ReportHandler serves read-only views of the delivery queue.
type ReportHandler struct {
	svc    *service.ReportService
	logger *zap.Logger
}

func NewReportHandler(svc *service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, logger: logger}
}

// Queue handles GET /api/v1/queue
//
// @Summary  EMAIL queue depth snapshot
// @Tags     queue
// @Produce  json
// @Success  200  {object}  service.QueueSnapshot
// @Router   /api/v1/queue [get]
func (h *ReportHandler) Queue(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.QueueDepth(r.Context())
	if err != nil {
		h.logger.Error("queue depth failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Failed handles GET /api/v1/notifications/failed
//
// @Summary  Recently failed notifications
// @Tags     notifications
// @Produce  json
// @Param    limit  query     int  false  "Max rows (1-100, default 20)"
// @Success  200    {object}  map[string]any
// @Failure  422    {object}  map[string]string
// @Router   /api/v1/notifications/failed [get]
func (h *ReportHandler) Failed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n == 0 {
			mapError(w, domain.ErrInvalidLimit)
			return
		}
		limit = n
	}

	failed, err := h.svc.RecentFailures(r.Context(), limit)
	if err != nil {
		h.logger.Warn("list failed notifications",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  failed,
		"count": len(failed),
	})
}
