package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/api"
	"github.com/syranol/inference-gateway/config"
	"github.com/syranol/inference-gateway/gateway"
	"github.com/syranol/inference-gateway/internal/ctxkeys"
	"github.com/syranol/inference-gateway/types"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// Streamer 运行一次网关会话，*gateway.Orchestrator 实现该接口
type Streamer interface {
	Stream(ctx context.Context, requestID string, req *api.GatewayRequest, sink gateway.EventSink) (*gateway.Report, error)
}

// ModelsFunc 返回当前生效的模型策略；热重载后立即生效
type ModelsFunc func() config.ModelsConfig

// StaticModels 返回固定模型策略
func StaticModels(m config.ModelsConfig) ModelsFunc {
	return func() config.ModelsConfig { return m }
}

// ChatHandler 聊天接口处理器
type ChatHandler struct {
	streamer  Streamer
	models    ModelsFunc
	wsOrigins []string
	logger    *zap.Logger
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(streamer Streamer, models ModelsFunc, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if models == nil {
		models = StaticModels(config.ModelsConfig{})
	}
	return &ChatHandler{
		streamer: streamer,
		models:   models,
		logger:   logger.With(zap.String("handler", "chat")),
	}
}

// decodeGatewayRequest 解码并校验请求，应用模型策略。
// 返回 nil 表示已写出拒绝响应。
func (h *ChatHandler) decodeGatewayRequest(w http.ResponseWriter, r *http.Request) *api.GatewayRequest {
	if !ValidateContentType(w, r, h.logger) {
		return nil
	}

	var req api.GatewayRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil
	}
	if err := h.checkRequest(&req); err != nil {
		var detail *detailError
		if errors.As(err, &detail) {
			WriteDetail(w, http.StatusBadRequest, detail.msg)
			return nil
		}
		WriteError(w, toAPIError(err), h.logger)
		return nil
	}
	return &req
}

// detailError 对应 {"detail": ...} 形式的拒绝
type detailError struct{ msg string }

func (e *detailError) Error() string { return e.msg }

const (
	detailModelNotAllowed = "Model not allowed"
	detailStreamRequired  = "stream=true is required"
)

// checkRequest 校验请求结构与策略，并补齐默认摘要模型
func (h *ChatHandler) checkRequest(req *api.GatewayRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	policy := h.models()
	if !policy.Allowed(req.Model) {
		return &detailError{msg: detailModelNotAllowed}
	}
	if !req.StreamEnabled() {
		return &detailError{msg: detailStreamRequired}
	}
	if req.SummaryModel == "" {
		req.SummaryModel = policy.SummaryDefault
	}
	return nil
}

// HandleStream 处理流式网关请求
// @Summary 推理拆分流式聊天
// @Description 返回 summary.prompt、summary.reasoning、output.delta、output.done 事件流
// @Tags 聊天
// @Accept json
// @Produce text/event-stream
// @Param request body api.GatewayRequest true "网关请求"
// @Success 200 {string} string "SSE 事件流"
// @Failure 400 {object} DetailResponse "模型不允许或未开启流式"
// @Security ApiKeyAuth
// @Router /v1/chat/completions [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	req := h.decodeGatewayRequest(w, r)
	if req == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	requestID := requestIDFor(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher}
	ctx := ctxkeys.WithModel(r.Context(), req.Model)
	if _, err := h.streamer.Stream(ctx, requestID, req, sink); err != nil {
		// 客户端断开是常态，只记 debug
		h.logger.Debug("stream ended early",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// requestIDFor 复用中间件生成的请求 ID，否则新建
func requestIDFor(ctx context.Context) string {
	if id, ok := ctxkeys.RequestID(ctx); ok {
		return id
	}
	return gateway.NewRequestID()
}

// sseSink 把事件编码为 SSE 帧并逐帧 flush
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(ctx context.Context, e api.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := api.EncodeSSE(e)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// toAPIError 把任意错误归一为 *types.Error
func toAPIError(err error) *types.Error {
	var apiErr *types.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err)
}
