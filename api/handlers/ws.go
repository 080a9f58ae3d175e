package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/syranol/inference-gateway/api"
	"github.com/syranol/inference-gateway/internal/ctxkeys"
)

// wsRequestTimeout 连接建立后等待首条请求消息的时限
const wsRequestTimeout = 30 * time.Second

// WithOriginPatterns 设置 WebSocket 允许的跨域来源（websocket.AcceptOptions.OriginPatterns）
func (h *ChatHandler) WithOriginPatterns(patterns ...string) *ChatHandler {
	h.wsOrigins = append(h.wsOrigins[:0], patterns...)
	return h
}

// HandleWebSocket 处理 WebSocket 网关请求
// @Summary 推理拆分 WebSocket 聊天
// @Description 客户端发送一条 GatewayRequest，服务端逐事件返回 {"event","data"} JSON 帧后正常关闭
// @Tags 聊天
// @Router /v1/chat/ws [get]
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.wsOrigins,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	readCtx, cancel := context.WithTimeout(r.Context(), wsRequestTimeout)
	typ, data, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		h.logger.Debug("websocket request not received", zap.Error(err))
		return
	}
	if typ != websocket.MessageText {
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON text message")
		return
	}

	var req api.GatewayRequest
	if err := json.Unmarshal(data, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid JSON body")
		return
	}
	if err := h.checkRequest(&req); err != nil {
		var detail *detailError
		if errors.As(err, &detail) {
			conn.Close(websocket.StatusPolicyViolation, detail.msg)
			return
		}
		conn.Close(websocket.StatusPolicyViolation, toAPIError(err).Message)
		return
	}

	// 之后不再读取业务消息；CloseRead 处理控制帧并在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	ctx = ctxkeys.WithModel(ctx, req.Model)
	requestID := requestIDFor(r.Context())

	sink := &wsSink{conn: conn}
	if _, err := h.streamer.Stream(ctx, requestID, &req, sink); err != nil {
		h.logger.Debug("websocket stream ended early",
			zap.String("request_id", requestID),
			zap.Error(err))
		return
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

// wsSink 每个事件写一条文本消息
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, e api.Event) error {
	frame, err := api.EncodeFrame(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, frame)
}
