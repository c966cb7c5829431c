package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/wholesale/internal/health"
	"github.com/vladislavdragonenkov/wholesale/internal/version"
)

// App — собранный процесс торгового ядра.
type App struct {
	cfg    Config
	deps   *runtimeDependencies
	health *healthcheck.Handler
	logger *log.Entry
}

// New проверяет конфигурацию и открывает все зависимости.
func New(ctx context.Context, cfg Config, logger *log.Entry) (*App, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	return &App{cfg: cfg, deps: deps, health: healthHandler, logger: logger}, nil
}

// Services возвращает операции ядра для встраивания и тестов.
func (a *App) Services() Services {
	return a.deps.services
}

// Store возвращает единицу работы хранилища для справочников и служебных утилит.
func (a *App) Store() domain.UnitOfWork {
	return a.deps.uow
}

// Health возвращает агрегатор проверок компонентов.
func (a *App) Health() *healthcheck.Handler {
	return a.health
}

// Close закрывает брокер и хранилища.
func (a *App) Close() error {
	return a.deps.close(a.logger)
}

// Run открывает зависимости, обслуживает запросы до отмены ctx и всё закрывает.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("close dependencies")
		}
	}()

	return a.Run(ctx)
}

// Run запускает gRPC health-сервер, HTTP с метриками и проверками, outbox relay.
func (a *App) Run(ctx context.Context) error {
	logger := a.logger

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var relayWG sync.WaitGroup
	if a.deps.relay != nil {
		relayWG.Add(1)
		go func() {
			defer relayWG.Done()
			a.deps.relay.Run(runCtx)
		}()
		logger.Info("outbox relay started")
	}
	if a.deps.cleaner != nil {
		relayWG.Add(1)
		go func() {
			defer relayWG.Done()
			a.deps.cleaner.Run(runCtx)
		}()
	}

	metricsSrv := startMetricsServer(runCtx, a.cfg.MetricsAddr, logger, a.health)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", a.cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(a.cfg.ShutdownTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	cancel()
	shutdownHTTP(metricsSrv, a.cfg.ShutdownTimeout, logger)
	relayWG.Wait()
	return runErr
}

// startMetricsServer запускает HTTP с /metrics и проверками состояния.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, 5*time.Second, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
