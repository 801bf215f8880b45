package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/tracknest/tracknest-auth/internal/adapter/cache"
	oauthadapter "github.com/tracknest/tracknest-auth/internal/adapter/oauth"
	"github.com/tracknest/tracknest-auth/internal/bootstrap"
	"github.com/tracknest/tracknest-auth/internal/config"
	httptransport "github.com/tracknest/tracknest-auth/internal/http"
	"github.com/tracknest/tracknest-auth/internal/http/handler"
	httpmiddleware "github.com/tracknest/tracknest-auth/internal/http/middleware"
	"github.com/tracknest/tracknest-auth/internal/issuer"
	"github.com/tracknest/tracknest-auth/internal/keystore"
	apimiddleware "github.com/tracknest/tracknest-auth/internal/middleware"
	"github.com/tracknest/tracknest-auth/internal/repository"
	"github.com/tracknest/tracknest-auth/internal/server"
	"github.com/tracknest/tracknest-auth/internal/service"
	"github.com/tracknest/tracknest-auth/internal/telemetry"
	"github.com/tracknest/tracknest-auth/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newPrincipalRepository,
			newKeyRepository,
			newRedisClient,
			newOAuthStateStore,
			newProviderClient,
			newRateLimiter,
			newCodec,
			newKeyStore,
			newIssuer,
			newAuthService,
			newOAuthService,
			handler.NewAuthHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newPrincipalRepository(pool *pgxpool.Pool) repository.PrincipalRepository {
	return repository.NewPostgresPrincipalRepo(pool)
}

func newKeyRepository(pool *pgxpool.Pool) repository.KeyRepository {
	return repository.NewPostgresKeyRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newOAuthStateStore(client redis.UniversalClient) repository.OAuthStateStore {
	return cacheadapter.NewRedisStateStore(client)
}

func newProviderClient(cfg config.Config) oauthadapter.ProviderClient {
	return oauthadapter.NewGoogleClient(nil, cfg)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newCodec() *token.Codec {
	return token.NewCodec()
}

func newKeyStore(repo repository.KeyRepository, node *snowflake.Node, logger *zap.Logger) *keystore.KeyStore {
	return keystore.New(repo, node, logger)
}

func newIssuer(keys *keystore.KeyStore, codec *token.Codec, cfg config.Config, logger *zap.Logger) *issuer.Issuer {
	return issuer.New(keys, codec, cfg, logger)
}

func newAuthService(principals repository.PrincipalRepository, keys *keystore.KeyStore, tokenIssuer *issuer.Issuer, codec *token.Codec, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *service.AuthService {
	return service.NewAuthService(principals, keys, tokenIssuer, codec, node, cfg, logger)
}

func newOAuthService(provider oauthadapter.ProviderClient, states repository.OAuthStateStore, principals repository.PrincipalRepository, tokenIssuer *issuer.Issuer, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *service.OAuthService {
	return service.NewOAuthService(provider, states, principals, tokenIssuer, node, cfg, logger)
}

func newAuthMiddleware(authService *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{AuthService: authService}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
