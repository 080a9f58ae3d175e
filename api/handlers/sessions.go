package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/gateway"
	"github.com/syranol/inference-gateway/types"
)

// SessionFinder 按请求 ID 查询已结束会话的报告
type SessionFinder interface {
	Find(ctx context.Context, requestID string) (*gateway.Report, error)
}

// SessionHandler 会话报告查询处理器
type SessionHandler struct {
	finder SessionFinder
	logger *zap.Logger
}

// NewSessionHandler 创建会话查询处理器
func NewSessionHandler(finder SessionFinder, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		finder: finder,
		logger: logger.With(zap.String("handler", "sessions")),
	}
}

// HandleGet 处理 /v1/sessions/{request_id}
// @Summary 查询会话报告
// @Tags 会话
// @Produce json
// @Param request_id path string true "请求 ID"
// @Success 200 {object} Response "会话报告"
// @Failure 404 {object} Response "会话不存在"
// @Security ApiKeyAuth
// @Router /v1/sessions/{request_id} [get]
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	if requestID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "request_id is required", h.logger)
		return
	}

	report, err := h.finder.Find(r.Context(), requestID)
	if err != nil {
		if types.IsErrorCode(err, types.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "session not found", nil)
			return
		}
		WriteError(w, types.NewError(types.ErrInternalError, "session lookup failed").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, report)
}
