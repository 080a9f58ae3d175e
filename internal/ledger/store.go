package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/syranol/inference-gateway/gateway"
	"github.com/syranol/inference-gateway/internal/database"
	"github.com/syranol/inference-gateway/types"
)

// =============================================================================
// 📒 会话账本
// =============================================================================

// SessionRecord 一次会话的持久化记录
type SessionRecord struct {
	ID           uint   `gorm:"primaryKey"`
	RequestID    string `gorm:"size:64;uniqueIndex"`
	Model        string `gorm:"size:128;index"`
	SummaryModel string `gorm:"size:128"`
	StartedAt    time.Time
	DurationMS   int64

	PromptSummaryStatus    string `gorm:"size:16"`
	ReasoningSummaryStatus string `gorm:"size:16"`

	NativeReasoning bool
	TagsSeen        bool
	ReasoningChars  int
	OutputFragments int
	OutputChars     int

	StreamError string `gorm:"type:text"`
	Outcome     string `gorm:"size:32;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 表名
func (SessionRecord) TableName() string {
	return "gateway_sessions"
}

func recordFromReport(r *gateway.Report) *SessionRecord {
	return &SessionRecord{
		RequestID:              r.RequestID,
		Model:                  r.Model,
		SummaryModel:           r.SummaryModel,
		StartedAt:              r.StartedAt,
		DurationMS:             r.Duration.Milliseconds(),
		PromptSummaryStatus:    r.PromptSummaryStatus,
		ReasoningSummaryStatus: r.ReasoningSummaryStatus,
		NativeReasoning:        r.NativeReasoning,
		TagsSeen:               r.TagsSeen,
		ReasoningChars:         r.ReasoningChars,
		OutputFragments:        r.OutputFragments,
		OutputChars:            r.OutputChars,
		StreamError:            r.StreamError,
		Outcome:                r.Outcome,
	}
}

// Report 还原为会话报告
func (rec *SessionRecord) Report() *gateway.Report {
	return &gateway.Report{
		RequestID:              rec.RequestID,
		Model:                  rec.Model,
		SummaryModel:           rec.SummaryModel,
		StartedAt:              rec.StartedAt,
		Duration:               time.Duration(rec.DurationMS) * time.Millisecond,
		PromptSummaryStatus:    rec.PromptSummaryStatus,
		ReasoningSummaryStatus: rec.ReasoningSummaryStatus,
		NativeReasoning:        rec.NativeReasoning,
		TagsSeen:               rec.TagsSeen,
		ReasoningChars:         rec.ReasoningChars,
		OutputFragments:        rec.OutputFragments,
		OutputChars:            rec.OutputChars,
		StreamError:            rec.StreamError,
		Outcome:                rec.Outcome,
	}
}

// QueryRecorder 记录写入耗时，*metrics.Collector 实现该接口
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Store 会话账本。实现 gateway.Observer，会话结束后写入一条记录；
// 同一 request_id 重复出现时覆盖旧记录。
type Store struct {
	pool         *database.PoolManager
	recorder     QueryRecorder
	writeTimeout time.Duration
	maxRetries   int
	logger       *zap.Logger
}

// Option 配置 Store
type Option func(*Store)

// WithQueryRecorder 设置耗时上报
func WithQueryRecorder(r QueryRecorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithWriteTimeout 设置单次写入超时
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) { s.writeTimeout = d }
}

// NewStore 创建账本并迁移表结构
func NewStore(pool *database.PoolManager, logger *zap.Logger, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		pool:         pool,
		writeTimeout: 5 * time.Second,
		maxRetries:   3,
		logger:       logger.With(zap.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := pool.DB().AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate session ledger: %w", err)
	}
	return s, nil
}

// ObserveSession 写入会话记录。失败只记日志。
func (s *Store) ObserveSession(ctx context.Context, report *gateway.Report) {
	if report == nil || report.RequestID == "" {
		return
	}
	if err := s.Save(ctx, report); err != nil {
		s.logger.Error("failed to record session",
			zap.String("request_id", report.RequestID),
			zap.Error(err))
	}
}

// Save 写入或覆盖会话记录
func (s *Store) Save(ctx context.Context, report *gateway.Report) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	rec := recordFromReport(report)
	start := time.Now()
	err := s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			UpdateAll: true,
		}).Create(rec).Error
	})
	s.observe("insert", start)
	return err
}

// Find 按 request_id 查询会话报告，不存在时返回 NOT_FOUND 错误
func (s *Store) Find(ctx context.Context, requestID string) (*gateway.Report, error) {
	var rec SessionRecord
	start := time.Now()
	err := s.pool.DB().WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&rec).Error
	s.observe("select", start)

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", requestID, err)
	}
	return rec.Report(), nil
}

func (s *Store) observe(op string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordDBQuery(s.pool.DB().Dialector.Name(), op, time.Since(start))
	}
}
