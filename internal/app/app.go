package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"unitmon/internal/alerts"
	"unitmon/internal/cache"
	"unitmon/internal/config"
	"unitmon/internal/db"
	"unitmon/internal/health"
	"unitmon/internal/journal"
	"unitmon/internal/metrics"
	"unitmon/internal/netinfo"
	"unitmon/internal/notifier"
	"unitmon/internal/retention"
	"unitmon/internal/systemd"
	"unitmon/internal/web"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	repo      *db.Repository
	alerts    *alerts.Engine
	retention *retention.Service
	web       *web.Server

	httpSrv    *http.Server
	metricsSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := db.Open(cfg.Node.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		return nil, err
	}
	repo := db.NewRepository(sqldb)

	services, err := config.ReadList(cfg.Lists.ServicesFile)
	if err != nil {
		return nil, err
	}
	monitors, err := config.ReadList(cfg.Lists.MonitorsFile)
	if err != nil {
		return nil, err
	}
	logger.Info("watch lists loaded", "services", len(services), "monitors", len(monitors))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	units := systemd.NewClient()
	journalClient := journal.NewClient()
	errCache := cache.New(repo, units, journalClient, logger.With("module", "cache"), cfg.Cache)
	statuses := health.NewService(units, errCache)
	n := notifier.NewTelegram(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID)

	w := web.NewServer(statuses, errCache, services, monitors,
		cfg.Node.ID, cfg.Server.IndexFile, netinfo.OutboundIPv4, cfg.Peer.Timeout.Std(),
		logger.With("module", "web"))

	app := &App{
		cfg:       cfg,
		log:       logger,
		repo:      repo,
		alerts:    alerts.NewEngine(statuses, n, logger.With("module", "alerts"), cfg.Node.ID, services, cfg.Alerts.Cooldown.Std()),
		retention: retention.NewService(repo, services, cfg.Cache.LockStale.Std(), logger.With("module", "retention")),
		web:       w,
	}
	app.httpSrv = &http.Server{Addr: cfg.Server.Addr, Handler: w.Routes()}
	app.metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.Handler()}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.Server.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("http server failed", "err", err)
		}
	}()
	go func() {
		a.log.Info("metrics server listening", "addr", a.cfg.Server.MetricsAddr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", "err", err)
		}
	}()

	alertsTicker := time.NewTicker(a.cfg.Alerts.Interval.Std())
	retentionTicker := time.NewTicker(a.cfg.Retention.Interval.Std())
	defer alertsTicker.Stop()
	defer retentionTicker.Stop()

	// Immediate first run
	a.retention.Run(ctx)
	a.alerts.Evaluate(ctx)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.GracefulTimeout.Std())
			defer cancel()
			_ = a.httpSrv.Shutdown(shutdownCtx)
			_ = a.metricsSrv.Shutdown(shutdownCtx)
			return a.repo.DB().Close()
		case <-alertsTicker.C:
			a.alerts.Evaluate(ctx)
		case <-retentionTicker.C:
			a.retention.Run(ctx)
		}
	}
}
