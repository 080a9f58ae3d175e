package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// readyTimeout 就绪检查整体时限
const readyTimeout = 5 * time.Second

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger   *zap.Logger
	upstream Pinger
	checks   []HealthCheck
	mu       sync.RWMutex
}

// Pinger 探测上游可用性，*upstream.Client 实现该接口
type Pinger interface {
	Ping(ctx context.Context) bool
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// LivenessResponse /healthz 响应
type LivenessResponse struct {
	Status string `json:"status"`
	Scope  string `json:"scope"`
}

// UpstreamHealthResponse /upstream-health 响应
type UpstreamHealthResponse struct {
	Status   string `json:"status"` // "ok", "degraded"
	Upstream bool   `json:"upstream"`
}

// ReadinessResponse /ready 响应
type ReadinessResponse struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器；upstream 可为 nil
func NewHealthHandler(upstream Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:   logger.With(zap.String("handler", "health")),
		upstream: upstream,
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealthz 处理 /healthz 请求（存活探针，不触达上游）
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} LivenessResponse
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, LivenessResponse{Status: "ok", Scope: "gateway"})
}

// HandleUpstreamHealth 处理 /upstream-health 请求
// @Summary 上游健康检查
// @Description 上游不可达时返回 degraded，HTTP 状态仍为 200
// @Tags 健康
// @Produce json
// @Success 200 {object} UpstreamHealthResponse
// @Router /upstream-health [get]
func (h *HealthHandler) HandleUpstreamHealth(w http.ResponseWriter, r *http.Request) {
	ok := h.upstream != nil && h.upstream.Ping(r.Context())
	status := "ok"
	if !ok {
		status = "degraded"
		h.logger.Warn("upstream health probe failed")
	}
	WriteJSON(w, http.StatusOK, UpstreamHealthResponse{Status: status, Upstream: ok})
}

// HandleReady 处理 /ready 请求（就绪检查）
// @Summary 准备情况检查
// @Description 并发执行已注册的检查（上游、Redis、数据库）
// @Tags 健康
// @Produce json
// @Success 200 {object} ReadinessResponse "服务已准备就绪"
// @Failure 503 {object} ReadinessResponse "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(gctx)
			latency := time.Since(start)

			results[i] = CheckResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Message = err.Error()
				h.logger.Warn("health check failed",
					zap.String("check", check.Name()),
					zap.Error(err),
					zap.Duration("latency", latency))
			}
			// 单项失败不取消其余检查
			return nil
		})
	}
	_ = g.Wait()

	status := ReadinessResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
		if results[i].Status != "pass" {
			status.Status = "unhealthy"
		}
	}

	if status.Status != "healthy" {
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// CheckFunc 把函数适配为 HealthCheck
type CheckFunc struct {
	name  string
	check func(ctx context.Context) error
}

// NewCheck 创建命名检查（数据库、Redis 等的 Ping）
func NewCheck(name string, check func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, check: check}
}

func (c *CheckFunc) Name() string { return c.name }

func (c *CheckFunc) Check(ctx context.Context) error { return c.check(ctx) }

// UpstreamCheck 把 Pinger 适配为就绪检查
func UpstreamCheck(p Pinger) HealthCheck {
	return NewCheck("upstream", func(ctx context.Context) error {
		if !p.Ping(ctx) {
			return errUpstreamUnreachable
		}
		return nil
	})
}

var errUpstreamUnreachable = errors.New("upstream unreachable")
