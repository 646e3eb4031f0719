package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/qubelab/qube-monitor/internal/handler"
	"github.com/qubelab/qube-monitor/internal/repository"
	serialport "github.com/qubelab/qube-monitor/internal/serial"
	"github.com/qubelab/qube-monitor/internal/service"
	"github.com/qubelab/qube-monitor/pkg/config"
	"github.com/qubelab/qube-monitor/pkg/database"
	"github.com/qubelab/qube-monitor/pkg/export"
	"github.com/qubelab/qube-monitor/pkg/logger"
	corsmiddleware "github.com/qubelab/qube-monitor/pkg/middleware/cors"
	reqidmiddleware "github.com/qubelab/qube-monitor/pkg/middleware/requestid"
	"github.com/qubelab/qube-monitor/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	validate := validator.New()

	hub := service.NewHub(logr)
	metrics := service.NewMetricsService()
	eventLog := service.NewEventLog(cfg.Monitor, hub, logr)
	aggregator := service.NewStatusAggregator(cfg.Monitor, eventLog, hub, logr)
	supervisor := service.NewLinkSupervisor(cfg.Serial, serialport.HostOpener{}, aggregator, eventLog, hub, metrics, logr)

	var rosterRepo *repository.RosterRepository
	if cfg.RosterStore.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect roster store", "error", err)
		}
		defer db.Close() //nolint:errcheck
		rosterRepo = repository.NewRosterRepository(db)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := rosterRepo.EnsureSchema(ctx); err != nil {
			cancel()
			logr.Sugar().Fatalw("failed to prepare roster store", "error", err)
		}
		entries, err := rosterRepo.Load(ctx)
		cancel()
		if err != nil {
			logr.Sugar().Fatalw("failed to load roster", "error", err)
		}
		aggregator.SetRoster(entries)
		logr.Sugar().Infow("roster loaded", "students", len(entries))
	}

	var exportStore *storage.LocalStorage
	if cfg.Exports.Enabled {
		exportStore, err = storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
		}
	}

	linkHandler := handler.NewLinkHandler(supervisor, validate)
	boardHandler := handler.NewBoardHandler(aggregator)
	rosterHandler := handler.NewRosterHandler(aggregator, nil, logr)
	if rosterRepo != nil {
		rosterHandler = handler.NewRosterHandler(aggregator, rosterRepo, logr)
	}
	logHandler := handler.NewLogHandler(eventLog, validate, export.NewPDFExporter(), exportStore)
	wsHandler := handler.NewWSHandler(hub, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "link": supervisor.Info()})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", wsHandler.Serve)

	api := r.Group("/api/v1")
	{
		api.GET("/link", linkHandler.Info)
		api.GET("/link/ports", linkHandler.Ports)
		api.POST("/link/connect", linkHandler.Connect)
		api.POST("/link/disconnect", linkHandler.Disconnect)
		api.POST("/link/inject", linkHandler.Inject)

		api.GET("/board", boardHandler.View)
		api.POST("/board/:id/resolve", boardHandler.Resolve)
		api.POST("/board/clear", boardHandler.Clear)

		api.GET("/roster", rosterHandler.Get)
		api.PUT("/roster", rosterHandler.Update)

		api.GET("/log", logHandler.List)
		api.PUT("/log/filters", logHandler.SetFilter)
		api.POST("/log/clear", logHandler.Clear)
		api.GET("/log/export", logHandler.ExportText)
		api.POST("/log/export", logHandler.ExportArtifact)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	supervisor.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown incomplete", "error", err)
	}
}
