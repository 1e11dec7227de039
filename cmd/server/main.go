package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/shop-session/internal/config"
	"github.com/iliyamo/shop-session/internal/database"
	"github.com/iliyamo/shop-session/internal/handler"
	"github.com/iliyamo/shop-session/internal/logger"
	"github.com/iliyamo/shop-session/internal/middleware"
	"github.com/iliyamo/shop-session/internal/queue"
	"github.com/iliyamo/shop-session/internal/repository"
	"github.com/iliyamo/shop-session/internal/router"
	"github.com/iliyamo/shop-session/internal/service"
	"github.com/iliyamo/shop-session/internal/utils"
)

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		// The logger is not configured yet.
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ----- MySQL -----
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := database.Migrate(mctx, db)
		cancel()
		if err != nil {
			return err
		}
		log.Info("schema migrated")
	}

	// ----- Redis and revocation -----
	rdb, revoked, err := revocationBackend(cfg, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ----- Events -----
	var events service.EventPublisher = queue.Discard{}
	if cfg.Events.Enabled {
		pub := queue.NewPublisher(cfg.Events.URL, log)
		defer pub.Close()
		events = pub
		if cfg.Events.AuditConsumer {
			consumer := queue.NewAuditConsumer(cfg.Events.URL, cfg.Events.AuditLogDir, log)
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("audit consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	// ----- Services -----
	codec, err := utils.NewTokenCodec([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}
	users := repository.NewUserRepo(db)
	auth, err := service.NewAuthService(service.AuthDeps{
		Users:   users,
		Tokens:  repository.NewTokenRepo(db),
		Revoked: revoked,
		Codec:   codec,
		Events:  events,
		Logger:  log,
	}, service.AuthConfig{
		AccessTTL:          cfg.AccessTTL,
		RefreshTTL:         cfg.RefreshTTL,
		RotateRefreshOnUse: cfg.RefreshRotateOnUse,
		BcryptCost:         cfg.BcryptCost,
	})
	if err != nil {
		return err
	}
	carts := service.NewCartService(repository.NewCartRepo(db), repository.NewProductRepo(db), events, log)

	// ----- HTTP -----
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLog(log))

	router.Register(e, router.Deps{
		Auth:          handler.NewAuthHandler(auth, log),
		Cart:          handler.NewCartHandler(carts, log),
		Authenticator: service.NewAuthenticator(codec, revoked, users, nil, log),
		Carts:         carts,
		Cookie:        cfg.CartCookie,
		RateLimit:     middleware.NewTokenBucket(cfg.RateLimit, rdb, log),
		DB:            db,
		Log:           log,
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(sctx)
}

// revocationBackend picks the store for revoked access-token ids.  The
// returned client is nil when Redis is not in use; the rate limiter then
// passes every request through.
func revocationBackend(cfg config.Config, log *zap.Logger) (*redis.Client, service.RevocationStore, error) {
	memory := func() service.RevocationStore {
		return repository.NewMemoryRevocationStore(cfg.AccessTTL, nil)
	}
	if cfg.RevocationBackend == config.RevocationMemory {
		log.Warn("revocations kept in process memory")
		return nil, memory(), nil
	}

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		if cfg.RevocationBackend == config.RevocationRedis {
			return nil, nil, err
		}
		log.Warn("redis unavailable, revocations kept in process memory", zap.Error(err))
		return nil, memory(), nil
	}
	return rdb, repository.NewRedisRevocationStore(rdb, "revoked"), nil
}
