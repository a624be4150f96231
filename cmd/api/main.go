package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"glgapp.org/internal/auth"
	"glgapp.org/internal/config"
	"glgapp.org/internal/gateway"
	"glgapp.org/internal/httpapi"
	"glgapp.org/internal/obs"
	"glgapp.org/internal/videos"
	"glgapp.org/internal/warehouse"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, obs.TracingConfig{
		ServiceName: "glg-api",
		Version:     version,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	// Warehouse and profile store
	store, err := warehouse.Open(cfg.WarehouseDSN)
	if err != nil {
		log.Fatalf("open warehouse: %v", err)
	}
	profiles := store.DB()
	var profileStore *warehouse.SQLStore
	if cfg.ProfileDSN != "" && cfg.ProfileDSN != cfg.WarehouseDSN {
		profileStore, err = warehouse.Open(cfg.ProfileDSN)
		if err != nil {
			log.Fatalf("open profile store: %v", err)
		}
		profiles = profileStore.DB()
	}
	owners := auth.NewSQLOwnership(profiles)

	verifier, err := auth.NewJWTVerifier(
		auth.WithHMACSecret(cfg.Auth.Secret),
		auth.WithRSAPublicKeyPEM(cfg.Auth.PublicKeyPEM),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
	)
	if err != nil {
		log.Fatalf("token verifier: %v", err)
	}

	dispatcher, err := gateway.New(gateway.Config{
		Store:            store,
		Authorizer:       auth.NewAuthorizer(verifier, owners),
		Tables:           gateway.DefaultTables(cfg.WarehouseSchema),
		Policies:         cfg.Retry.Policies(),
		OfferConcurrency: cfg.OfferConcurrency,
	})
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	// Video listing cache
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	cache := videos.NewCache(ctx, redisClient, cfg.Video.CacheTTL)
	lister := videos.NewLister(nil, cfg.Video.URL, cfg.Video.APIKey, cache)

	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("trusted proxies: %v", err)
	}

	probe := httpapi.ReadyProbe{Warehouse: store, Profiles: owners}
	api := httpapi.New(httpapi.Options{
		Dispatcher:   dispatcher,
		Videos:       lister,
		Verifier:     verifier,
		Ready:        probe,
		Version:      version,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CORSOrigins:  cfg.CORSOrigins,

		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// consistent reads may wait several seconds before answering
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC health
	grpcServer := grpc.NewServer()
	health := httpapi.NewHealthServer(probe)
	health.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go health.Run(ctx, 10*time.Second)
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	obs.Info("starting glg-api", map[string]any{
		"version":   version,
		"http_addr": srv.Addr,
		"grpc_addr": cfg.GRPCAddr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	_ = shutdownTracing(shutdownCtx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if profileStore != nil {
		_ = profileStore.Close()
	}
	_ = store.Close()
	obs.Info("stopped", nil)
}
