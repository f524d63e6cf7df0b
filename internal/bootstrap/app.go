package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"lovepage-backend/internal/admin"
	googleauth "lovepage-backend/internal/auth"
	"lovepage-backend/internal/consumption"
	"lovepage-backend/internal/entitlement"
	"lovepage-backend/internal/payments"
	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/queue"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/shared/config"
	"lovepage-backend/internal/shared/server"
	"lovepage-backend/internal/shared/storage/db"
	"lovepage-backend/internal/shared/telemetry"
)

// App holds shared dependencies.
type App struct {
	Config       config.Config
	Router       *gin.Engine
	DB           *sql.DB
	Redis        *redis.Client
	Store        quota.Store
	Catalog      *plans.Catalog
	Queue        queue.Client
	Coordinator  *consumption.Coordinator
	Admin        *admin.Service
	PaymentsRepo payments.Repo
	Payments     *payments.Service
	Upgrader     *payments.Upgrader
	GoogleAuth   *googleauth.GoogleService
	Pruner       *quota.Pruner
}

// Build prepares shared dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	app := &App{Config: cfg, Catalog: plans.Default()}
	if err := app.buildStore(ctx); err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Queue = queueClient

	if err := app.buildServices(); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:       cfg,
		Catalog:      app.Catalog,
		Health:       app.Ping,
		PlanOf:       app.planOf,
		Entitlements: consumption.NewHandler(app.Coordinator),
		Admin:        admin.NewHandler(app.Admin),
		Payments:     payments.NewHandler(app.Payments),
		GoogleAuth:   app.GoogleAuth,
	})
	return app, nil
}

func (a *App) planOf(ctx context.Context, accountID string) (string, error) {
	acct, err := a.Store.EnsureAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return acct.PlanID, nil
}

// Ping checks the quota store backend.
func (a *App) Ping(ctx context.Context) error {
	switch {
	case a.DB != nil:
		return a.DB.PingContext(ctx)
	case a.Redis != nil:
		return a.Redis.Ping(ctx).Err()
	default:
		return nil
	}
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}

func (a *App) buildStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.QuotaStore {
	case "redis":
		client, err := quota.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return a.fallback("redis", err)
		}
		a.Redis = client
		a.Store = quota.NewRedisStore(client, "")
		a.PaymentsRepo = payments.NewMemoryRepo()
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			sqlDB, err := buildDB(ctx, cfg)
			if err != nil {
				return err
			}
			a.DB = sqlDB
			a.PaymentsRepo = &payments.SQLRepo{DB: sqlDB}
		}
	case "sql":
		sqlDB, err := buildDB(ctx, cfg)
		if err != nil {
			return a.fallback("sql", err)
		}
		a.DB = sqlDB
		a.Store = quota.NewSQLStore(sqlDB)
		a.PaymentsRepo = &payments.SQLRepo{DB: sqlDB}
	default:
		a.Store = quota.NewMemoryStore()
		a.PaymentsRepo = payments.NewMemoryRepo()
	}
	telemetry.Info("bootstrap.quota_store", map[string]any{"type": cfg.QuotaStore, "env": cfg.Env})
	return nil
}

// fallback swaps in memory stores for dev-like envs when a backend is down.
func (a *App) fallback(kind string, err error) error {
	if !config.IsDevLike(a.Config.Env) {
		return fmt.Errorf("%s quota store: %w", kind, err)
	}
	telemetry.Warn("bootstrap.store_fallback", map[string]any{"type": kind, "error": err.Error()})
	a.Store = quota.NewMemoryStore()
	a.PaymentsRepo = payments.NewMemoryRepo()
	return nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		opts := db.OptionsFromEnv(db.DefaultLambdaOptions())
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		return nil, err
	}

	// Embedded SQLite databases have no separate migrate step.
	if driver, _ := db.DriverFor(cfg.DatabaseURL); driver == db.DriverSQLite {
		if err := db.RunMigrations(ctx, sqlDB, driver); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return sqlDB, nil
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.UpgradeQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.UpgradeQueueURL, cfg.AWSRegion)
}

func (a *App) buildServices() error {
	policy, err := entitlement.ParsePolicy(a.Config.OnUnavailable)
	if err != nil {
		return err
	}

	a.Coordinator = consumption.NewCoordinator(a.Store, entitlement.NewEvaluator(a.Catalog), consumption.Options{
		MaxAttempts:   a.Config.MaxAttempts,
		BaseDelay:     a.Config.RetryBaseDelay,
		OnUnavailable: policy,
	})
	a.Pruner = quota.NewPruner(a.Store, a.Config.OpRetention, a.Config.OpPruneInterval)
	a.Upgrader = payments.NewUpgrader(a.PaymentsRepo, a.Store, a.Catalog)

	a.Payments = payments.NewService(a.PaymentsRepo, a.Upgrader, a.Queue, a.Catalog, a.Config.RazorpayKeySecret)
	a.Admin = admin.NewService(a.Store, a.Catalog, a.Payments)
	a.GoogleAuth = googleauth.NewGoogleService(googleauth.GoogleOptions{
		ClientID:     a.Config.GoogleClientID,
		ClientSecret: a.Config.GoogleClientSecret,
		RedirectURL:  a.Config.GoogleRedirectURL,
		UIRedirect:   a.Config.UIRedirectURL,
		AdminEmails:  a.Config.AdminEmails,
	}, a.Store)

	if a.Coordinator == nil || a.Payments == nil {
		return errors.New("failed to initialize services")
	}
	return nil
}
