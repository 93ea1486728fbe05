package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"grainpay/config"
	"grainpay/core/events"
	"grainpay/core/state"
	"grainpay/native/escrow"
	"grainpay/native/migration"
	"grainpay/native/program"
	"grainpay/observability/logging"
	"grainpay/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GRAINPAY_ENV"))
	logger := logging.Setup("grainpay", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	emitter := events.NewLogEmitter(logger)

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(manager)
	escrowEngine.SetEmitter(emitter)
	escrowEngine.SetVault(config.MustAddress(cfg.VaultAddress).Array())
	escrowEngine.SetPayoutKey(config.MustAddress(cfg.PayoutKey).Array())
	escrowEngine.SetAllowUnboundRelease(cfg.AllowUnboundRelease)

	programEngine := program.NewEngine()
	programEngine.SetState(manager)
	programEngine.SetEmitter(emitter)
	programEngine.SetVault(config.MustAddress(cfg.VaultAddress).Array())

	migrationEngine := migration.NewEngine(cfg.InstanceName)
	migrationEngine.SetStore(manager)
	migrationEngine.SetEmitter(emitter)
	migrationEngine.SetAdmin(config.MustAddress(cfg.AdminAddress).Array())
	migrationEngine.RegisterTransform(2, migration.NoopTransform)
	migrationEngine.RegisterTransform(3, migration.PlaceholderTransform)

	if err := runStartupMigrations(cfg, migrationEngine, logger); err != nil {
		logger.Error("startup migration failed", "error", err)
		os.Exit(1)
	}

	node := &node{
		escrow:    escrowEngine,
		program:   programEngine,
		migration: migrationEngine,
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           node.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("grainpay node listening", "listen", cfg.ListenAddress, "instance", cfg.InstanceName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}

// runStartupMigrations walks the schema forward one version at a time
// until the configured target is reached.
func runStartupMigrations(cfg *config.Config, engine *migration.Engine, logger *slog.Logger) error {
	if cfg.TargetVersion == 0 {
		return nil
	}
	admin := config.MustAddress(cfg.AdminAddress).Array()
	current, err := engine.CurrentVersion()
	if err != nil {
		return err
	}
	for target := current + 1; target <= cfg.TargetVersion; target++ {
		hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", cfg.InstanceName, target)))
		if err := engine.Migrate(admin, target, hash); err != nil {
			return fmt.Errorf("migrate to version %d: %w", target, err)
		}
		logger.Info("schema migrated", "from", target-1, "to", target)
	}
	return nil
}
