package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wjorgensen/StreamDroplets/api/routes"
	"github.com/wjorgensen/StreamDroplets/api/service"
	"github.com/wjorgensen/StreamDroplets/cache"
	"github.com/wjorgensen/StreamDroplets/common/httputil"
	"github.com/wjorgensen/StreamDroplets/config"
	"github.com/wjorgensen/StreamDroplets/database"
	"github.com/wjorgensen/StreamDroplets/metrics"
)

const (
	MetricsNamespace = "droplets_api"
	addressParam     = "{address}"
	dateParam        = "{date}"

	HealthPath       = "/healthz"
	BalancesPath     = "/api/v1/balances/"
	IntegrationsPath = "/api/v1/integrations/"
	EventsPath       = "/api/v1/events/"
	SnapshotsPath    = "/api/v1/snapshots/"
)

type API struct {
	log             log.Logger
	router          *chi.Mux
	metricsRegistry *prometheus.Registry
	apiServer       *httputil.HTTPServer
	metricsServer   *httputil.HTTPServer
	db              *database.DB
	stopped         atomic.Bool
}

func chiMetricsMiddleware(rec metrics.HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return metrics.NewHTTPRecordingMiddleware(rec, next)
	}
}

func NewApi(ctx context.Context, log log.Logger, cfg *config.Config) (*API, error) {
	out := &API{log: log, metricsRegistry: metrics.NewRegistry()}
	if err := out.initFromConfig(ctx, cfg); err != nil {
		return nil, errors.Join(err, out.Stop(ctx))
	}
	return out, nil
}

func (a *API) initFromConfig(ctx context.Context, cfg *config.Config) error {
	if err := a.initDB(ctx, cfg.DB); err != nil {
		return fmt.Errorf("failed to init DB: %w", err)
	}
	if err := a.startMetricsServer(cfg.MetricsServer); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	a.initRouter(cfg)
	if err := a.startServer(cfg.HTTPServer); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

func assetDecimals(topology config.Topology) map[string]uint8 {
	decimals := make(map[string]uint8, len(topology.Assets))
	for _, a := range topology.Assets {
		decimals[a.Symbol] = a.Decimals
	}
	return decimals
}

func (a *API) initRouter(cfg *config.Config) {
	var lruCache *cache.LruCache
	if cfg.ApiCacheEnable {
		lruCache = cache.NewLruCache(cfg.CacheConfig)
	}
	svc := service.New(new(service.Validator), a.db.ShareBalances, a.db.IntegrationBalances, a.db.Snapshots,
		a.db.ChainEvents, assetDecimals(cfg.Topology), a.log)
	a.router = NewRouter(a.log, svc, lruCache, metrics.NewPromHTTPRecorder(a.metricsRegistry, MetricsNamespace))
}

// NewRouter mounts every query route. A nil cache disables response caching.
func NewRouter(log log.Logger, svc service.Service, lruCache *cache.LruCache, rec metrics.HTTPRecorder) *chi.Mux {
	apiRouter := chi.NewRouter()
	h := routes.NewRoutes(log, apiRouter, svc, lruCache != nil, lruCache)

	apiRouter.Use(chiMetricsMiddleware(rec))
	apiRouter.Use(middleware.Timeout(time.Second * 12))
	apiRouter.Use(middleware.Recoverer)

	apiRouter.Use(middleware.Heartbeat(HealthPath))

	apiRouter.Get(BalancesPath+addressParam, h.BalancesHandler)
	apiRouter.Get(IntegrationsPath+addressParam, h.IntegrationsHandler)
	apiRouter.Get(EventsPath+addressParam, h.EventsHandler)
	apiRouter.Get(SnapshotsPath+dateParam, h.SnapshotHandler)
	apiRouter.Get(SnapshotsPath+dateParam+"/"+addressParam, h.UserSnapshotHandler)

	return apiRouter
}

func (a *API) initDB(ctx context.Context, cfg config.DBConfig) error {
	db, err := database.NewDB(ctx, a.log, cfg)
	if err != nil {
		a.log.Error("failed to connect to database", "err", err)
		return err
	}
	a.db = db
	return nil
}

func (a *API) Start(ctx context.Context) error {
	return nil
}

func (a *API) Stop(ctx context.Context) error {
	var result error
	if a.apiServer != nil {
		if err := a.apiServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop API server: %w", err))
		}
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to close DB: %w", err))
		}
	}
	a.stopped.Store(true)
	a.log.Info("API service shutdown complete")
	return result
}

func (a *API) startServer(serverConfig config.ServerConfig) error {
	a.log.Debug("API server listening...", "port", serverConfig.Port)
	addr := net.JoinHostPort(serverConfig.Host, strconv.Itoa(serverConfig.Port))
	srv, err := httputil.StartHTTPServer(addr, a.router)
	if err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	a.log.Info("API server started", "addr", srv.Addr().String())
	a.apiServer = srv
	return nil
}

func (a *API) startMetricsServer(metricsConfig config.ServerConfig) error {
	a.log.Debug("starting metrics server...", "port", metricsConfig.Port)
	srv, err := metrics.StartServer(a.metricsRegistry, metricsConfig.Host, metricsConfig.Port)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	a.log.Info("Metrics server started", "addr", srv.Addr().String())
	a.metricsServer = srv
	return nil
}

func (a *API) Stopped() bool {
	return a.stopped.Load()
}
