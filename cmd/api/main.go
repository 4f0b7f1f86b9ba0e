package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/cache"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/config"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/httpapi"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/idempotency"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/policy"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/store/pg"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		obs.Logger().Error("api_exit", "error", obs.Redact(err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.SetBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Endpoint:    cfg.Telemetry.Endpoint,
		Headers:     cfg.Telemetry.Headers,
		Insecure:    cfg.Telemetry.Insecure,
		Required:    cfg.Telemetry.Required,
		Sampler:     cfg.Telemetry.Sampler,
		SamplerArg:  cfg.Telemetry.SamplerArg,
		Timeout:     cfg.Telemetry.Timeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	db, err := pg.Open(cfg.Database.URL, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	model, err := policy.Default()
	if err != nil {
		return err
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.CheckRole(checkCtx, model.TableNames())
	cancel()
	if err != nil {
		return err
	}

	replay, redisUp, err := cache.New(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	log.Info("replay_cache", "redis", redisUp)

	resolver, err := auth.NewJWTResolver(auth.TokenConfig{
		Secret:   []byte(cfg.Auth.Secret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway,
	}, auth.WithCookie(cfg.Auth.CookieName))
	if err != nil {
		return err
	}
	cron, err := auth.NewCronAuthenticator(cfg.Cron.Secret, cfg.Cron.SecretHash)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Deps{
		Sessions: db,
		Resolver: resolver,
		Cron:     cron,
		Guard: idempotency.NewGuard(
			idempotency.WithCache(replay),
			idempotency.WithRetention(cfg.Idempotency.Retention),
		),
		Policy:         model,
		Ready:          db.Ping,
		Version:        version,
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSecond:  cfg.RateLimit.PerSecond,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		InvitationTTL:  cfg.Invitations.TTL,
	})
	if err := api.CheckCoverage(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           telemetry.HTTPMiddleware(cfg.Telemetry.ServiceName)(api.Handler()),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	health := httpapi.NewHealthServer(db.Ping)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}
	go health.Run(ctx, 10*time.Second)

	errc := make(chan error, 2)
	go func() {
		log.Info("http_listen", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	go func() {
		log.Info("grpc_listen", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown_started")
	case err = <-errc:
		log.Error("server_failed", "error", obs.Redact(err.Error()))
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	grpcSrv.GracefulStop()
	log.Info("stopped")
	return err
}
