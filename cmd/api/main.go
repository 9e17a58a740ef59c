package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"courseflow/auth"
	"courseflow/config"
	"courseflow/course"
	"courseflow/db"
	"courseflow/health"
	"courseflow/httpapi"
	"courseflow/logging"
	"courseflow/obs"
	"courseflow/orgscope"
	"courseflow/outbox"
	"courseflow/participant"
	"courseflow/queue"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.Environment)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("courseflow stopped with error")
	}
	log.Info().Msg("courseflow stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		ApplicationName: "courseflow-api",
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	sqlDB := db.SQLDB(pool)
	defer sqlDB.Close()

	obs.Init()
	checker := health.NewChecker(log).Add("postgres", pool.Ping)

	scopeRepo := orgscope.NewRepository(sqlDB)
	var (
		units      orgscope.Resolver = scopeRepo
		scopeCache *orgscope.CachedIndex
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		scopeCache = orgscope.NewCachedIndex(scopeRepo, rdb, cfg.UnitCacheTTL, log)
		units = scopeCache
		checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	var publisher outbox.Publisher = outbox.NewLogPublisher(log)
	if cfg.NatsURL != "" {
		nc, err := outbox.ConnectNATS(cfg.NatsURL, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		publisher = nc
		checker.Add("nats", nc.Ping)
	}

	participants := participant.NewDirectory(pool)
	courses := course.NewService(pool, nil, nil, nil, participants, units, log)
	queues := queue.NewService(queue.NewRepository(sqlDB), units, scopeRepo, log)
	authn := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	relay := outbox.NewRelay(pool, nil, publisher, outbox.Options{
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		PollInterval: cfg.OutboxPollInterval,
	}, log)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httpapi.NewHandler(courses, queues, participants, authn, log)
	if scopeCache != nil {
		handler.WithScopeCache(scopeCache)
	}
	router := httpapi.NewRouter(httpapi.RouterOptions{
		Handler:        handler,
		Authn:          authn,
		Readiness:      checker,
		Limiter:        httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         log,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	checker.Register(grpcServer)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return checker.Run(gctx, 5*time.Second)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	return g.Wait()
}
