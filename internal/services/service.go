package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/alerts"
	"github.com/life2you_mini/bridgesync/internal/api"
	"github.com/life2you_mini/bridgesync/internal/bridge"
	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/maintenance"
	"github.com/life2you_mini/bridgesync/internal/metadata"
	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/monitor"
	"github.com/life2you_mini/bridgesync/internal/recovery"
	"github.com/life2you_mini/bridgesync/internal/storage"
	"github.com/life2you_mini/bridgesync/internal/terminal"
	"github.com/life2you_mini/bridgesync/internal/views"
)

// 默认关闭等待时间
const defaultShutdownTimeout = 5 * time.Second

// BridgeSyncService 桥接同步与健康监控服务
type BridgeSyncService struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	logger *zap.Logger

	store        storage.Storage
	meta         *metadata.Store
	agents       []*bridge.Agent
	monitor      *monitor.HealthMonitor
	alerts       *alerts.Sink
	orchestrator *recovery.Orchestrator
	scheduler    *maintenance.Runner
	server       *http.Server

	wg sync.WaitGroup
}

// NewBridgeSyncService 创建服务并完成所有组件装配
func NewBridgeSyncService(parentCtx context.Context, cfg *config.Config, logger *zap.Logger) (*BridgeSyncService, error) {
	ctx, cancel := context.WithCancel(parentCtx)

	// 初始化同步存储
	store, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("初始化同步存储失败: %w", err)
	}

	s := &BridgeSyncService{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
	if err := s.assemble(); err != nil {
		s.closeStores()
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *BridgeSyncService) assemble() error {
	cfg, logger := s.cfg, s.logger

	// 元数据库，启动时检查单一数据源约束
	if cfg.Metadata.Enabled {
		meta, err := metadata.Open(cfg.Metadata, logger)
		if err != nil {
			return fmt.Errorf("初始化元数据库失败: %w", err)
		}
		s.meta = meta
		if cfg.Metadata.Driver == metadata.DriverSQLite {
			if err := meta.Migrate(s.ctx); err != nil {
				return fmt.Errorf("初始化元数据表失败: %w", err)
			}
		}
		if err := meta.VerifySSOT(s.ctx); err != nil {
			return err
		}
	}

	// 终端与桥接代理
	registry, err := terminal.CreateRegistry(cfg.Bridges, logger)
	if err != nil {
		return err
	}
	// 停止时周期最多再运行一半关闭期限，留出时间关闭存储
	drain := s.shutdownTimeout() / 2
	for _, b := range cfg.Bridges {
		term, _ := registry.Get(b.ID)
		agent := bridge.NewAgent(b, term, s.store, logger)
		agent.SetDrainTimeout(drain)
		s.agents = append(s.agents, agent)
	}

	// 健康监控与告警
	s.alerts = alerts.NewSink(s.store, logger)
	s.monitor = monitor.NewHealthMonitor(cfg.Registry(), s.store, s.alerts, logger, cfg.Monitor.StalenessThreshold)
	s.monitor.SetCheckInterval(cfg.Monitor.CheckInterval)

	// 自动恢复
	restarter, err := recovery.NewRestarter(cfg.Recovery, logger)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(cfg.Bridges))
	for _, b := range cfg.Bridges {
		ids = append(ids, b.ID)
	}
	s.orchestrator = recovery.NewOrchestrator(ids, restarter, s.monitor, recovery.OptionsFromConfig(cfg.Recovery), logger)
	s.monitor.SetListener(s.orchestrator)

	// 派生视图
	engine := views.NewEngine(s.store, s.store, s.monitor, logger)
	if s.meta != nil {
		engine.SetObligationSource(s.meta)
		engine.SetManagerDirectory(s.meta)
	}

	// 维护任务
	s.scheduler = maintenance.NewRunner(s.ctx, logger)
	if cfg.Maintenance.PruneSchedule != "" && cfg.Maintenance.AlertRetention > 0 {
		if _, err := s.scheduler.Add("alert_prune", cfg.Maintenance.PruneSchedule,
			maintenance.AlertPruneJob(s.alerts, cfg.Maintenance.AlertRetention)); err != nil {
			return err
		}
	}

	// HTTP接口
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := &api.Handler{
		Store:    s.store,
		Monitor:  s.monitor,
		Alerts:   s.alerts,
		Recovery: s.orchestrator,
		Views:    engine,
		Logger:   logger.With(zap.String("component", "api")),
	}
	if s.meta != nil {
		handler.SSOT = s.meta
	}
	handler.Register(router)

	s.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Start 启动服务
func (s *BridgeSyncService) Start() error {
	s.logger.Info("启动桥接同步服务",
		zap.Int("bridges", len(s.agents)),
		zap.Int("expected_accounts", s.cfg.ExpectedTotal()))

	// 每个桥接一个协程
	for _, agent := range s.agents {
		s.goRun("bridge_agent:"+agent.ID(), agent.Run)
	}

	// 启动健康监控
	s.goRun("health_monitor", s.monitor.Start)

	if err := s.orchestrator.Start(s.ctx); err != nil {
		return err
	}
	s.scheduler.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP服务已启动", zap.String("addr", s.cfg.Server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()
	return nil
}

func (s *BridgeSyncService) goRun(name string, run func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(s.ctx); err != nil {
			s.logger.Error("组件运行失败", zap.String("component", name), zap.Error(err))
		}
	}()
}

// Stop 停止服务，等待各协程结束，超时后直接返回
func (s *BridgeSyncService) Stop(ctx context.Context) error {
	s.logger.Info("停止桥接同步服务")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout())
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("关闭HTTP服务失败", zap.Error(err))
	}

	// 取消服务上下文
	s.cancel()
	s.scheduler.Stop()
	if err := s.orchestrator.Stop(); err != nil {
		s.logger.Error("停止恢复编排器失败", zap.Error(err))
	}

	// 等待服务优雅关闭
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-shutdownCtx.Done():
		err = fmt.Errorf("等待服务关闭超时: %w", shutdownCtx.Err())
		s.logger.Error("关闭超时，以下桥接代理仍在运行", zap.Strings("bridges", s.runningAgents()))
	}

	s.closeStores()
	return err
}

func (s *BridgeSyncService) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

// runningAgents 仍未退出的桥接代理
func (s *BridgeSyncService) runningAgents() []string {
	var out []string
	for _, a := range s.agents {
		if a.IsRunning() {
			out = append(out, a.ID())
		}
	}
	return out
}

func (s *BridgeSyncService) closeStores() {
	// 关闭存储使用独立的上下文
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.store.Close(ctx); err != nil {
		s.logger.Error("关闭同步存储失败", zap.Error(err))
	}
	if s.meta != nil {
		if err := s.meta.Close(); err != nil {
			s.logger.Error("关闭元数据库失败", zap.Error(err))
		}
	}
}

// CheckOnce 执行一次健康评估，不写告警也不触发恢复
func CheckOnce(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]model.BridgeStatus, error) {
	store, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化同步存储失败: %w", err)
	}
	defer func() { _ = store.Close(context.Background()) }()

	m := monitor.NewHealthMonitor(cfg.Registry(), store, alerts.NewSink(store, logger), logger, cfg.Monitor.StalenessThreshold)
	return m.EvaluateAll(ctx), nil
}
