package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"authgate/internal/auth"
	"authgate/internal/config"
	"authgate/internal/db"
	"authgate/internal/observability"
)

type Options struct {
	LoadDotEnv bool
	Getenv     func(string) string
	Logger     *observability.Logger
}

type Runtime struct {
	Config  *config.Config
	Handler http.Handler
	Close   func() error
}

// Build loads configuration, opens the pool, applies migrations and returns
// the fully wrapped HTTP handler.
func Build(ctx context.Context, options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}
	getenv := options.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	logger := options.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}

	cfg, err := config.Load(getenv)
	if err != nil {
		return nil, err
	}
	if cfg.SecretGenerated {
		logger.Warn("secret_key_generated", map[string]any{
			"detail": "SECRET_KEY not set; tokens will not survive a restart",
		})
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.AppName); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	service := auth.NewService(
		auth.NewRepository(database),
		auth.NewHasher(cfg.BcryptCost),
		auth.NewTokenIssuer(cfg.SecretKey, cfg.AccessTokenExpiration),
		auth.NewTokenVerifier(cfg.SecretKey),
	)

	if err := service.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	handler := NewRouter(RouterDeps{
		Config:  cfg,
		Service: service,
		Logger:  logger,
		Health:  database,
	})

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterDeps struct {
	Config  *config.Config
	Service *auth.Service
	Logger  *observability.Logger
	Health  Pinger
}

// NewRouter builds the handler tree without doing any I/O.
func NewRouter(deps RouterDeps) http.Handler {
	cfg := deps.Config
	authHandler := auth.NewHandler(deps.Service, deps.Logger)
	guard := auth.NewGuard(deps.Service, cfg.RequireActiveUser)
	prefix := cfg.APIPrefix

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+prefix+"/users/login", authHandler.Login)
	mux.Handle("GET "+prefix+"/users/get_user_info/{identifier}", guard.Middleware(http.HandlerFunc(authHandler.GetUserInfo)))
	mux.Handle("PUT "+prefix+"/users/create_user", guard.Middleware(http.HandlerFunc(authHandler.CreateUser)))
	mux.Handle("PUT "+prefix+"/users/create_user/{$}", guard.Middleware(http.HandlerFunc(authHandler.CreateUser)))
	mux.HandleFunc("GET /health", healthHandler(deps.Health))

	var handler http.Handler = mux
	if cfg.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, cfg.RequestTimeout, `{"error":"request timed out"}`)
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}

	return observability.RecoverMiddleware(deps.Logger, observability.RequestLoggingMiddleware(deps.Logger, handler))
}

func healthHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if pinger != nil {
			if err := pinger.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
