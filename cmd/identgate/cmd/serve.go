package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ident-Gate/Identgate/internal/adapter/inbound/http"
	fileaudit "github.com/Ident-Gate/Identgate/internal/adapter/outbound/audit"
	"github.com/Ident-Gate/Identgate/internal/adapter/outbound/memory"
	"github.com/Ident-Gate/Identgate/internal/adapter/outbound/sqlite"
	"github.com/Ident-Gate/Identgate/internal/config"
	"github.com/Ident-Gate/Identgate/internal/domain/audit"
	"github.com/Ident-Gate/Identgate/internal/domain/policy"
	"github.com/Ident-Gate/Identgate/internal/domain/ratelimit"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
	"github.com/Ident-Gate/Identgate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the Identgate HTTP server.

The server exposes the token endpoints under /auth, SCIM 2.0
provisioning under /scim/v2, and the policy decision point under
/authz. On first startup a starter policies file is written to
POLICIES_PATH and the record store is seeded with demo users.

Examples:
  # Start with environment configuration
  JWT_SECRET=change-me identgate serve

  # Start with a specific config file
  identgate --config /path/to/identgate.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Startup misconfiguration is fatal: Execute exits non-zero.
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("identgate stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== Token service =====
	tokenCfg := token.Config{
		Algorithm: cfg.JWTAlg,
		TTL:       time.Duration(cfg.JWTExpireMinutes) * time.Minute,
	}
	switch cfg.JWTAlg {
	case token.AlgHS256:
		tokenCfg.Secret = []byte(cfg.JWTSecret)
	case token.AlgRS256:
		priv, err := config.KeyMaterial(cfg.JWTPrivateKey)
		if err != nil {
			return fmt.Errorf("loading private key: %w", err)
		}
		pub, err := config.KeyMaterial(cfg.JWTPublicKey)
		if err != nil {
			return fmt.Errorf("loading public key: %w", err)
		}
		tokenCfg.PrivateKeyPEM = priv
		tokenCfg.PublicKeyPEM = pub
	}
	tokens, err := token.NewService(tokenCfg)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	// ===== Record store =====
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open record store at %s: %w", cfg.DBPath, err)
	}
	defer func() { _ = store.Close() }()

	if err := service.SeedRecords(ctx, store, logger); err != nil {
		return fmt.Errorf("failed to seed record store: %w", err)
	}

	// ===== Policy loader and engine =====
	loader := policy.NewLoader(cfg.PoliciesPath, logger)
	engine := policy.NewEngine(loader, logger)
	if err := loader.EnsureDefaultFile(); err != nil {
		return fmt.Errorf("failed to write starter policies: %w", err)
	}
	if err := loader.Load(); err != nil {
		return fmt.Errorf("failed to load policies from %s: %w", cfg.PoliciesPath, err)
	}

	// ===== Audit pipeline =====
	flushInterval, err := time.ParseDuration(cfg.Audit.FlushInterval)
	if err != nil {
		flushInterval = time.Second
		logger.Warn("invalid audit.flush_interval, using default",
			"value", cfg.Audit.FlushInterval, "default", "1s")
	}

	var auditStore audit.Store
	if cfg.Audit.Dir != "" {
		auditStore, err = fileaudit.NewFileStore(fileaudit.FileStoreConfig{Dir: cfg.Audit.Dir}, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit directory %s: %w", cfg.Audit.Dir, err)
		}
	} else {
		auditStore = memory.NewAuditStore()
	}
	defer func() { _ = auditStore.Close() }()

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(flushInterval),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// ===== Services =====
	handler := http.NewHandler(
		service.NewAuthService(store, tokens, service.DefaultClients(), logger),
		service.NewScimUserService(store, logger),
		service.NewScimGroupService(store, store, logger),
		service.NewAuthzService(engine, loader, auditService, logger),
	)

	// ===== Rate limiter =====
	rateLimiter := memory.NewRateLimiter()
	rateLimiter.StartCleanup(ctx)
	defer rateLimiter.Stop()

	serverOpts := []http.Option{
		http.WithAddr(cfg.ListenAddr()),
		http.WithLogger(logger),
		http.WithHealthChecker(http.NewHealthChecker(
			store,
			loader,
			rateLimiter,
			auditService,
			Version,
		)),
	}
	if cfg.RateLimit.Enabled {
		serverOpts = append(serverOpts, http.WithRateLimiter(rateLimiter, ratelimit.Config{
			Rate:   cfg.RateLimit.RatePerMinute,
			Burst:  cfg.RateLimit.Burst,
			Period: time.Minute,
		}))
		logger.Debug("rate limiting enabled",
			"rate_per_minute", cfg.RateLimit.RatePerMinute,
			"burst", cfg.RateLimit.Burst,
		)
	}

	set := loader.Current()
	logger.Info("identgate starting",
		"version", Version,
		"addr", cfg.ListenAddr(),
		"algorithm", cfg.JWTAlg,
		"policies", len(set.Rules),
		"policies_path", cfg.PoliciesPath,
		"db_path", cfg.DBPath,
		"rate_limit", cfg.RateLimit.Enabled,
	)

	server := http.NewServer(handler, tokens, serverOpts...)
	return server.Start(ctx)
}
