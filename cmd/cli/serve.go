package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ticketintel/internal/handlers"
	"ticketintel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic SLA and suggestion jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, serve)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, a *app) error {
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	if a.cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	suggestions := a.suggestionService()
	sla := a.slaService()
	router := setupRouter(a, suggestions, sla)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	scheduler := services.NewScheduler(sla, suggestions, a.cfg.Engine, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Errorf("Server forced to shutdown: %v", err)
		}
		return nil
	})

	err := g.Wait()
	a.logger.Info("Server exited")
	return err
}

func setupRouter(a *app, suggestions *services.SuggestionService, sla *services.SLAService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	if a.cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(a.cfg.Monitoring.Tracing.ServiceName))
	}

	// redis 为空时不能以带类型的 nil 传入接口
	var rdb redis.UniversalClient
	if a.rdb != nil {
		rdb = a.rdb
	}
	health := handlers.NewHealthHandler(Version, a.store, rdb, a.breaker, a.logger)
	router.GET("/health", health.Health)
	router.GET("/ready", health.Ready)

	if a.cfg.Monitoring.Enabled {
		path := a.cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(otelhttp.NewHandler(promhttp.Handler(), "metrics")))
	}

	engine := handlers.NewEngineHandler(
		suggestions,
		a.clusterService(),
		sla,
		a.assignmentService(),
		a.logger,
	)
	api := router.Group("/api/v1")
	engine.RegisterRoutes(api)

	return router
}
