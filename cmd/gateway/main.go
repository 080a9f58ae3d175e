// =============================================================================
// Inference Gateway 主入口
// =============================================================================
// 推理网关：把上游的原始流拆成 提示词摘要 → 推理摘要 → 最终回答 三段事件
//
// 使用方法:
//
//	gateway serve                         # 启动服务
//	gateway serve --config config.yaml    # 指定配置文件（支持热更新 models 段）
//	gateway chat --message "why?"         # SSE 客户端
//	gateway mock-upstream --addr :8001    # 脚本化上游，本地联调用
//	gateway health                        # 健康检查
//	gateway version                       # 显示版本信息
// =============================================================================

// @title Inference Gateway API
// @version 1.0.0
// @description Streams a prompt summary, a reasoning summary and the final answer of an OpenAI-compatible model as ordered events.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/syranol/inference-gateway/config"
	"github.com/syranol/inference-gateway/internal/server"
	"github.com/syranol/inference-gateway/internal/telemetry"
	"github.com/syranol/inference-gateway/internal/tlsutil"
	"github.com/syranol/inference-gateway/internal/upstreamtest"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "chat":
		err = runChat(os.Args[2:], os.Stdout)
	case "mock-upstream":
		err = runMockUpstream(os.Args[2:])
	case "health":
		err = runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting inference gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(config.NewReloader(loader, cfg, logger), providers, logger)
	if err := srv.Start(ctx); err != nil {
		srv.Shutdown()
		return err
	}

	srv.WaitForShutdown(ctx)
	logger.Info("inference gateway stopped")
	return nil
}

// =============================================================================
// 🧪 mock-upstream 命令
// =============================================================================

func runMockUpstream(args []string) error {
	fs := flag.NewFlagSet("mock-upstream", flag.ExitOnError)
	addr := fs.String("addr", ":8001", "Listen address")
	chunkDelay := fs.Duration("chunk-delay", 10*time.Millisecond, "Delay between stream deltas")
	completeDelay := fs.Duration("complete-delay", 0, "Delay before summary responses")
	_ = fs.Parse(args)

	logger := initLogger(config.LogConfig{Level: "info", Format: "console", OutputPaths: []string{"stderr"}})
	defer func() { _ = logger.Sync() }()

	up := upstreamtest.New()
	up.ChunkDelay = *chunkDelay
	up.CompleteDelay = *completeDelay

	cfg := server.DefaultConfig()
	cfg.Name = "mock-upstream"
	cfg.Addr = *addr
	cfg.ShutdownTimeout = 5 * time.Second
	m := server.NewManager(up, cfg, logger)
	if err := m.Start(); err != nil {
		return err
	}
	logger.Info("mock upstream listening", zap.String("addr", m.Addr()))

	m.WaitForShutdown(context.Background())
	return m.Shutdown(context.Background())
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8000", "Server address")
	upstream := fs.Bool("upstream", false, "Also require the upstream to be reachable")
	_ = fs.Parse(args)

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	path := "/healthz"
	if *upstream {
		path = "/ready"
	}
	resp, err := client.Get(*addr + path)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("health check failed: status " + resp.Status)
	}

	fmt.Println("OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("Inference Gateway %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Inference Gateway - reasoning/answer split for streaming LLM output

Usage:
  gateway <command> [options]

Commands:
  serve          Start the gateway
  chat           Send one prompt and print the three sections
  mock-upstream  Run a scripted OpenAI-compatible upstream
  health         Check server health
  version        Show version information
  help           Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'chat':
  --url <url>        Gateway endpoint (default http://localhost:8000/v1/chat/completions)
  --model <name>     Model to request
  --message <text>   User message
  --api-key <key>    Sent as X-API-Key
  --debug            Print the request payload

Examples:
  gateway serve --config /etc/gateway/config.yaml
  gateway mock-upstream --addr :8001
  gateway chat --message "Why is the sky blue?"
  gateway health --addr http://localhost:8000 --upstream`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
