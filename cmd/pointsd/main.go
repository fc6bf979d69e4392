package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/httpserver"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/observability"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envPrefix              = "POINTSD"
	flagDatabaseURL        = "database-url"
	flagStore              = "store"
	flagListenAddr         = "listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagAdminSigningKey    = "admin-signing-key"
	flagAdminIssuer        = "admin-issuer"
	flagWebhookSecret      = "webhook-secret"
	flagMatchingWindow     = "matching-window"
	flagLogLevel           = "log-level"
	flagDefaultListLimit   = "default-list-limit"
	flagShutdownTimeout    = "shutdown-timeout"
	defaultDatabaseURL     = "sqlite:///tmp/pointsd.db"
	defaultListenAddr      = ":8080"
	defaultAllowedOrigins  = "http://localhost:8000"
	defaultAdminIssuer     = "pointsd"
	defaultLogLevel        = "info"
	defaultShutdownTimeout = 5 * time.Second
	storeKindGorm          = "gorm"
	storeKindPgx           = "pgx"
)

type runtimeConfig struct {
	DatabaseURL    string
	StoreKind      string
	LogLevel       string
	MatchingWindow time.Duration
	HTTP           httpserver.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pointsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	serve := func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	}
	cmd := &cobra.Command{
		Use:           "pointsd",
		Short:         "Prepaid points ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: serve,
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "sqlite path, sqlite:// or postgres:// URL")
	flags.String(flagStore, storeKindGorm, "store implementation: gorm or pgx (postgres only)")
	flags.String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	flags.String(flagAllowedOrigins, defaultAllowedOrigins, "comma-separated CORS origins")
	flags.String(flagAdminSigningKey, "", "HS256 key for admin bearer tokens")
	flags.String(flagAdminIssuer, defaultAdminIssuer, "expected issuer of admin tokens")
	flags.String(flagWebhookSecret, "", "shared secret expected in X-Webhook-Secret; empty disables the check")
	flags.Duration(flagMatchingWindow, ledger.DefaultMatchingWindow, "how long pending funding requests stay matchable")
	flags.String(flagLogLevel, defaultLogLevel, "log level (debug, info, warn, error)")
	flags.Int(flagDefaultListLimit, ledger.DefaultListLimit, "page size when a list request omits limit")
	flags.Duration(flagShutdownTimeout, defaultShutdownTimeout, "graceful shutdown timeout")

	cmd.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP server (default)", RunE: serve},
		newMigrateCommand(cfg),
		newAdjustCommand(cfg),
		newEntriesCommand(cfg),
	)
	return cmd
}

// loadConfig layers an optional .env file, POINTSD_* environment variables and flags.
func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(settings.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreKind = strings.ToLower(strings.TrimSpace(settings.GetString(flagStore)))
	if cfg.StoreKind == "" {
		cfg.StoreKind = storeKindGorm
	}
	if cfg.StoreKind != storeKindGorm && cfg.StoreKind != storeKindPgx {
		return fmt.Errorf("unsupported store %q", cfg.StoreKind)
	}
	cfg.LogLevel = settings.GetString(flagLogLevel)
	cfg.MatchingWindow = settings.GetDuration(flagMatchingWindow)
	cfg.HTTP = httpserver.Config{
		ListenAddr:       settings.GetString(flagListenAddr),
		AllowedOrigins:   httpserver.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins)),
		AdminSigningKey:  settings.GetString(flagAdminSigningKey),
		AdminIssuer:      settings.GetString(flagAdminIssuer),
		WebhookSecret:    settings.GetString(flagWebhookSecret),
		DefaultListLimit: settings.GetInt(flagDefaultListLimit),
		ShutdownTimeout:  settings.GetDuration(flagShutdownTimeout),
	}
	return nil
}

func newLogger(rawLevel string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(defaultIfBlank(rawLevel, defaultLogLevel))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(level)
	return loggerConfig.Build()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	if err := cfg.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics(nil)
	runtime, err := openRuntime(ctx, cfg, logger, ledger.WithOperationLogger(metrics))
	if err != nil {
		return err
	}
	defer runtime.Close()

	handler := httpserver.NewHandler(runtime.service, logger, cfg.HTTP, runtime.clock)
	router := httpserver.NewRouter(cfg.HTTP, handler, metrics, nil)
	logger.Info("ledger ready",
		zap.String("store", cfg.StoreKind),
		zap.String("driver", runtime.driver),
		zap.Duration("matching_window", runtime.service.MatchingWindow()),
	)
	return httpserver.Run(ctx, cfg.HTTP, router, logger)
}

func defaultIfBlank(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
