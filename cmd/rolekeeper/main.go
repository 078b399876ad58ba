package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rolekeeper/rolekeeper/cmd/rolekeeper/cli"
	"github.com/rolekeeper/rolekeeper/internal/app"
	"github.com/rolekeeper/rolekeeper/internal/auth"
	"github.com/rolekeeper/rolekeeper/internal/observability"
	"github.com/rolekeeper/rolekeeper/internal/platform/cache"
	"github.com/rolekeeper/rolekeeper/internal/rbac"
	"github.com/rolekeeper/rolekeeper/internal/roles"
	"github.com/rolekeeper/rolekeeper/internal/shared"
	"github.com/rolekeeper/rolekeeper/internal/users"
	"github.com/rolekeeper/rolekeeper/internal/view"
)

const usage = `usage: rolekeeper <command> [flags]

commands:
  serve     run the admin panel (default)
  migrate   apply the database schema
  seed      create the default permissions, roles and accounts
  grants    print a principal's roles and permissions (--email, --json)
  check     decide a capability for a principal (--email, --capability, --owner, --json)
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg, logger, stop)
	case "migrate":
		cfg.PGAutoMigrate = true
		code = migrate(ctx, cfg, logger)
	case "seed":
		code = seed(ctx, cfg, logger)
	case "grants", "check":
		code = inspect(ctx, cfg, logger, command, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger, stop context.CancelFunc) int {
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		return 1
	}
	defer store.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	if cfg.SeedOnStart {
		res, err := rbac.Bootstrap(ctx, store, app.SeedPlan(cfg), logger)
		if err != nil {
			logger.Error("seed on start", slog.Any("error", err))
			return 1
		}
		logger.Info("seed on start", slog.Int("permissions", res.Permissions), slog.Int("roles", res.Roles), slog.Int("principals", res.Principals))
	}

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		return 1
	}

	metrics := observability.NewMetrics()
	rbacService := rbac.NewService(store, rbac.WithLogger(logger), rbac.WithDecisionObserver(metrics))
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	authHandler := auth.NewHandler(logger, auth.NewService(store), templates, sessionManager, csrfManager, cfg.LoginRateLimitPerMinute)
	usersHandler := users.NewHandler(logger, users.NewService(store), templates, csrfManager, rbacMiddleware)
	rolesHandler := roles.NewHandler(logger, roles.NewService(rbacService), templates, csrfManager, rbacMiddleware)
	permissionsHandler := rbac.NewPermissionsHandler(logger, rbacService, templates, csrfManager, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Templates:          templates,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		UsersHandler:       usersHandler,
		RolesHandler:       rolesHandler,
		PermissionsHandler: permissionsHandler,
		APIHandler:         rbac.NewAPIHandler(rbacService, rbacMiddleware),
		Metrics:            metrics,
		HealthChecks: map[string]app.HealthCheck{
			"database": store.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	if cfg.StoreDriver != app.StoreDriverPostgres {
		logger.Error("migrate needs STORE_DRIVER=postgres")
		return 1
	}
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	store.Close()
	return 0
}

func seed(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	if cfg.SeedPassword == "" {
		logger.Error("SEED_PASSWORD must be provided")
		return 1
	}
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		return 1
	}
	defer store.Close()

	res, err := rbac.Bootstrap(ctx, store, app.SeedPlan(cfg), logger)
	if err != nil {
		logger.Error("seed", slog.Any("error", err))
		return 1
	}
	logger.Info("seed complete", slog.Int("permissions", res.Permissions), slog.Int("roles", res.Roles), slog.Int("principals", res.Principals))
	return 0
}

func inspect(ctx context.Context, cfg *app.Config, logger *slog.Logger, command string, args []string) int {
	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	email := flags.String("email", "", "principal email")
	capability := flags.String("capability", "", "capability to check")
	owner := flags.Int64("owner", 0, "owner id of the target resource")
	jsonOutput := flags.Bool("json", false, "print JSON")
	if err := flags.Parse(args); err != nil {
		return cli.ExitError
	}

	if cfg.StoreDriver == app.StoreDriverMemory {
		logger.Error("inspection needs a persistent store")
		return cli.ExitError
	}
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		return cli.ExitError
	}
	defer store.Close()

	inspector, err := cli.NewInspectCLI(rbac.NewService(store, rbac.WithLogger(logger)))
	if err != nil {
		logger.Error("inspect", slog.Any("error", err))
		return cli.ExitError
	}
	if command == "grants" {
		return inspector.GrantsCommand(ctx, cli.GrantsOptions{Email: *email, JSONOutput: *jsonOutput})
	}
	return inspector.CheckCommand(ctx, cli.CheckOptions{Email: *email, Capability: *capability, OwnerID: *owner, JSONOutput: *jsonOutput})
}
