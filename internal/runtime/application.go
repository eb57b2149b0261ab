// Package runtime wires the ledger core together and manages the HTTP
// server lifecycle.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/wbubblerteam/bubcoin-bot/internal/config"
	"github.com/wbubblerteam/bubcoin-bot/internal/httpapi"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/accounts"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/transfer"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/verification"
	"github.com/wbubblerteam/bubcoin-bot/internal/services/withdrawal"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage/memory"
	"github.com/wbubblerteam/bubcoin-bot/internal/storage/postgres"
	"github.com/wbubblerteam/bubcoin-bot/internal/walletd"
	"github.com/wbubblerteam/bubcoin-bot/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	health     *walletd.HealthWatcher
	db         *sqlx.DB
}

// NewApplication constructs a fully wired application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	store, db, err := buildStore(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}

	daemon, err := walletd.NewClient(walletd.Config{
		URL:       cfg.Walletd.URL,
		Username:  cfg.Walletd.Username,
		Password:  cfg.Walletd.Password,
		RequestID: cfg.Walletd.RequestID,
		Timeout:   cfg.Walletd.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configure wallet daemon client: %w", err)
	}

	health := walletd.NewHealthWatcher(daemon, cfg.Walletd.HealthSchedule, log.Named("walletd-health"))

	svc := httpapi.Services{
		Accounts:     accounts.New(store, log.Named("accounts")),
		Verification: verification.New(store, daemon, log.Named("verification")),
		Transfer:     transfer.New(store, log.Named("transfer")),
		Withdrawal: withdrawal.New(store, daemon, cfg.Walletd.MinConfirmations, log.Named("withdrawal"),
			withdrawal.WithHealthGate(health.Healthy)),
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: httpapi.NewHandler(svc,
			httpapi.WithRateLimit(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		health:     health,
		db:         db,
	}, nil
}

// Run starts the health watcher and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.health.Start(); err != nil {
		return fmt.Errorf("start health watcher: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server and closes the database.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a.health.Stop()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}

	return nil
}

func buildStore(cfg config.DatabaseConfig, log *logger.Logger) (storage.AccountStore, *sqlx.DB, error) {
	if cfg.DSN == "" {
		log.Warn("DATABASE_DSN not set; using the in-memory store (balances will not survive restarts)")
		return memory.New(), nil, nil
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	if err := postgres.Migrate(db.DB); err != nil {
		db.Close()
		return nil, nil, err
	}

	return postgres.New(db), db, nil
}
