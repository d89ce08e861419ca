package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"ticketintel/internal/config"
	"ticketintel/internal/database"
	"ticketintel/internal/observability"
	"ticketintel/internal/services"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// app 一次命令执行所需的依赖
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	db       *gorm.DB
	store    *services.GormStore
	source   services.TicketSource
	breaker  *services.CircuitBreaker
	rdb      *redis.Client
	locker   services.RunLocker
	notifier services.AlertNotifier

	shutdownTracing func(context.Context) error
}

// wrapSource 包装服务使用的工单存储，测试中用于注入故障
var wrapSource = func(src services.TicketSource) services.TicketSource { return src }

// newApp 加载配置并连接数据库与 Redis
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logrus.StandardLogger()

	a := &app{cfg: cfg, logger: logger}

	// OpenTelemetry 初始化（可选）
	shutdown, err := observability.SetupTracing(ctx, cfg.Monitoring.Tracing)
	if err != nil {
		logger.Warnf("init tracing: %v", err)
	} else {
		a.shutdownTracing = shutdown
	}

	db, err := database.Open(cfg.Database, cfg.Monitoring.Tracing.Enabled)
	if err != nil {
		a.close()
		return nil, services.NewDependencyUnavailable("connect database", err)
	}
	a.db = db
	a.store = services.NewGormStore(db)
	a.source = a.store
	if cfg.Breaker.Enabled {
		a.breaker = services.NewCircuitBreaker(cfg.Breaker)
		a.source = services.NewGuardedSource(a.store, a.breaker)
	}
	a.source = wrapSource(a.source)

	a.locker = services.NoopLocker()
	notifiers := services.MultiNotifier{services.NewLogNotifier(logger)}
	if rdb := database.OpenRedis(ctx, cfg.Redis, logger); rdb != nil {
		a.rdb = rdb
		a.locker = services.NewRedisLocker(rdb, cfg.Redis.LockPrefix, cfg.Redis.LockTTL, logger)
		notifiers = append(notifiers, services.NewRedisNotifier(rdb, cfg.Redis.AlertChannel))
	}
	a.notifier = notifiers
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warnf("close redis: %v", err)
		}
	}
	if a.db != nil {
		database.Close(a.db)
	}
	if a.shutdownTracing != nil {
		_ = a.shutdownTracing(context.Background())
	}
}

func (a *app) suggestionService() *services.SuggestionService {
	return services.NewSuggestionService(a.source, a.cfg.Engine, a.locker, a.logger)
}

func (a *app) clusterService() *services.ClusterService {
	return services.NewClusterService(a.source, a.cfg.Engine, a.locker, a.logger)
}

func (a *app) slaService() *services.SLAService {
	return services.NewSLAService(a.source, a.cfg.Engine, a.locker, a.notifier, a.logger)
}

func (a *app) assignmentService() *services.AssignmentService {
	return services.NewAssignmentService(a.source, a.cfg.Engine, a.locker, a.logger)
}

// withApp 为命令创建 app 并在结束后释放
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// printReport 按 --json 输出 JSON，否则调用 text 输出摘要
func printReport(cmd *cobra.Command, report any, text func()) error {
	if !jsonOutput {
		text()
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// finishRun 先输出报告再返回运行错误，运行中途失败时已提交部分的报告照常输出
func finishRun(cmd *cobra.Command, report any, failures []services.ChunkFailure, runErr error, text func()) error {
	if err := printReport(cmd, report, text); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	return failedChunks(failures)
}

// failedChunks 有失败分块时返回错误，使进程以非零状态退出
func failedChunks(failures []services.ChunkFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("run completed with %d failed chunk(s)", len(failures))
}
