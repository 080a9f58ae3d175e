package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// summaryCacheType 指标中的缓存类型标签
const summaryCacheType = "summary"

// HitRecorder 记录命中与未命中，*metrics.Collector 实现该接口
type HitRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// SummaryCache 把 Manager 适配为 gateway.SummaryCache。
// Redis 故障按未命中处理，只记录日志，不影响会话。
type SummaryCache struct {
	m        *Manager
	ttl      time.Duration
	recorder HitRecorder
	logger   *zap.Logger
}

// NewSummaryCache 创建摘要缓存；ttl 为 0 时沿用 Manager 默认值，recorder 可为 nil
func NewSummaryCache(m *Manager, ttl time.Duration, recorder HitRecorder) *SummaryCache {
	return &SummaryCache{
		m:        m,
		ttl:      ttl,
		recorder: recorder,
		logger:   m.logger.With(zap.String("cache", summaryCacheType)),
	}
}

// Get 查询已缓存的摘要
func (c *SummaryCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.m.Get(ctx, key)
	switch {
	case err == nil:
		c.hit()
		return val, true
	case IsCacheMiss(err):
		c.miss()
	default:
		c.miss()
		c.logger.Warn("summary cache lookup failed", zap.Error(err))
	}
	return "", false
}

// Set 写入摘要
func (c *SummaryCache) Set(ctx context.Context, key, value string) {
	if err := c.m.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn("summary cache write failed", zap.Error(err))
	}
}

func (c *SummaryCache) hit() {
	if c.recorder != nil {
		c.recorder.RecordCacheHit(summaryCacheType)
	}
}

func (c *SummaryCache) miss() {
	if c.recorder != nil {
		c.recorder.RecordCacheMiss(summaryCacheType)
	}
}
