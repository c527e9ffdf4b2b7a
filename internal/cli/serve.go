package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/logger"
	"github.com/life2you_mini/bridgesync/internal/services"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service until SIGINT/SIGTERM",
		Long: `Start one agent per configured bridge, the health monitor, the recovery
orchestrator, maintenance jobs and the read-only HTTP API.

Example:
  bridgesync serve --config config/config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	// 加载配置
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 初始化日志
	l, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	log := l.Logger
	defer func() { _ = log.Sync() }()
	log.Info("加载配置成功", zap.String("配置文件", path), zap.Int("bridges", len(cfg.Bridges)))

	// 创建上下文，用于处理信号
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	service, err := services.NewBridgeSyncService(ctx, cfg, log)
	if err != nil {
		log.Error("创建服务失败", zap.Error(err))
		return err
	}

	if err := service.Start(); err != nil {
		log.Error("启动服务失败", zap.Error(err))
		return err
	}
	log.Info("服务已启动", zap.String("addr", cfg.Server.Addr))

	// 等待终止信号
	sig := <-signalChan
	log.Info("接收到信号，准备关闭服务", zap.String("signal", sig.String()))

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := service.Stop(shutdownCtx); err != nil {
		log.Error("服务关闭失败", zap.Error(err))
		return err
	}

	log.Info("服务已优雅关闭")
	return nil
}
