// 配置热重载。
//
// 仅 models 段（允许列表、默认摘要模型）在运行时生效，其余段的变更
// 会被记录并提示需要重启。
package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ReloadCallback 配置重载成功后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 持有当前生效配置并在配置文件变化时重新加载
type Reloader struct {
	loader  *Loader
	current atomic.Pointer[Config]
	logger  *zap.Logger

	mu        sync.Mutex
	callbacks []ReloadCallback
	watcher   *FileWatcher
}

// NewReloader 创建 Reloader；initial 为启动时加载的配置
func NewReloader(loader *Loader, initial *Config, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reloader{
		loader: loader,
		logger: logger.With(zap.String("component", "config_reloader")),
	}
	r.current.Store(initial)
	return r
}

// Current 返回当前生效配置，调用方不得修改
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Reload 重新加载配置；校验失败时保留旧配置
func (r *Reloader) Reload() error {
	loaded, err := r.loader.Load()
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	old := r.Current()
	next := *old
	next.Models = loaded.Models

	for _, section := range restartOnlySections(old, loaded) {
		r.logger.Warn("config section changed, restart required to apply",
			zap.String("section", section))
	}

	if reflect.DeepEqual(old.Models, next.Models) {
		r.logger.Debug("config reloaded, no runtime changes")
		return nil
	}

	r.current.Store(&next)
	r.logger.Info("config reloaded",
		zap.Strings("allowed_models", next.Models.Allow),
		zap.String("summary_default", next.Models.SummaryDefault))

	r.mu.Lock()
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		r.notifySafe(cb, old, &next)
	}
	return nil
}

func (r *Reloader) notifySafe(cb ReloadCallback, old, next *Config) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reload callback panicked", zap.Any("panic", rec))
		}
	}()
	cb(old, next)
}

// Start 监听配置文件；未指定配置文件时什么也不做
func (r *Reloader) Start(ctx context.Context, opts ...WatcherOption) error {
	path := r.loader.ConfigPath()
	if path == "" {
		return nil
	}

	opts = append([]WatcherOption{WithWatcherLogger(r.logger)}, opts...)
	w, err := NewFileWatcher(path, opts...)
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	w.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config", zap.String("path", evt.Path))
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("config reload failed, keeping current config", zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	return nil
}

// Stop 停止监听
func (r *Reloader) Stop() {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func restartOnlySections(old, loaded *Config) []string {
	var changed []string
	pairs := []struct {
		name     string
		old, new any
	}{
		{"server", old.Server, loaded.Server},
		{"upstream", old.Upstream, loaded.Upstream},
		{"reasoning", old.Reasoning, loaded.Reasoning},
		{"redis", old.Redis, loaded.Redis},
		{"database", old.Database, loaded.Database},
		{"log", old.Log, loaded.Log},
		{"telemetry", old.Telemetry, loaded.Telemetry},
	}
	for _, p := range pairs {
		if !reflect.DeepEqual(p.old, p.new) {
			changed = append(changed, p.name)
		}
	}
	return changed
}
