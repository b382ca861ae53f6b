package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kimhsiao/ferrysync/backend/internal/bookingapi"
	"github.com/kimhsiao/ferrysync/backend/internal/config"
	"github.com/kimhsiao/ferrysync/backend/internal/connectivity"
	"github.com/kimhsiao/ferrysync/backend/internal/db"
	"github.com/kimhsiao/ferrysync/backend/internal/logging"
	"github.com/kimhsiao/ferrysync/backend/internal/offline"
)

// envAPIToken names the variable holding the booking API bearer token.
const envAPIToken = "FERRYSYNC_API_TOKEN"

// Prober observes connectivity, either once or as a stream of changes.
type Prober interface {
	connectivity.Source
	Probe(ctx context.Context) connectivity.Status
}

// App holds the components a command works with.
type App struct {
	Config  config.Config
	DB      *db.DB
	Offline *offline.Manager
	API     *bookingapi.Client
	Prober  Prober
}

// Close releases the database.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(logLevel) != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// openApp loads the config, initializes logging and opens the store.
func openApp() (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	return newApp(cfg)
}

func newApp(cfg config.Config) (*App, error) {
	database, err := db.OpenMigrated(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline store: %w", err)
	}

	api, err := bookingapi.NewClient(cfg.APIURL, bookingapi.WithToken(os.Getenv(envAPIToken)))
	if err != nil {
		database.Close()
		return nil, err
	}

	store := db.NewKVStore(database.DB, db.WithRetryPolicy(db.RetryPolicy{
		MaxRetries: cfg.WriteRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}))
	manager := offline.NewManager(store, offline.Options{
		TTL:          cfg.CacheTTL,
		MaxRetry:     cfg.MaxRetry,
		MaxQueueSize: cfg.MaxQueueSize,
	})

	return &App{
		Config:  cfg,
		DB:      database,
		Offline: manager,
		API:     api,
		Prober:  connectivity.NewProber(cfg.HealthURL, cfg.ProbeInterval),
	}, nil
}

// monitor builds a connectivity monitor fed by a single probe, so the
// resulting state is settled by the time it returns.
func (a *App) monitor(ctx context.Context) *connectivity.Monitor {
	status := a.Prober.Probe(ctx)
	m := connectivity.NewMonitor(fixedSource{status: status}, a.Offline.Synchronizer(), a.Offline.Queue(), a.API.Effects())
	m.Start(ctx)
	return m
}

// watchMonitor builds a monitor that follows the prober for as long as it
// runs, syncing on every return to connectivity. onChange is registered
// before the first observation. Stop the monitor when done.
func (a *App) watchMonitor(ctx context.Context, onChange func(connectivity.State)) *connectivity.Monitor {
	m := connectivity.NewMonitor(a.Prober, a.Offline.Synchronizer(), a.Offline.Queue(), a.API.Effects())
	m.OnChange(onChange)
	m.Start(ctx)
	return m
}

// fixedSource reports one status and never changes.
type fixedSource struct {
	status connectivity.Status
}

func (s fixedSource) Subscribe(fn func(connectivity.Status)) func() {
	fn(s.status)
	return func() {}
}
