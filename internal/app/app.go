// Package app wires configuration, storage, the provider client, the scan
// orchestrator and the scheduler into one process.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/vire-scanner/internal/clients/eodhd"
	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
	"github.com/bobmcallan/vire-scanner/internal/services/scanner"
	"github.com/bobmcallan/vire-scanner/internal/storage"
)

// App holds the initialized components shared by the server binary.
type App struct {
	Config       *common.Config
	Logger       *common.Logger
	Store        interfaces.ResultStore
	EODHDClient  *eodhd.Client
	Scanner      interfaces.ScanService
	Orchestrator *scanner.Orchestrator
	Scheduler    *Scheduler
	StartupTime  time.Time

	schedulerCancel context.CancelFunc
	schedulerDone   chan struct{}
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPaths returns the config files to layer. Explicit paths win,
// then SCANNER_CONFIG, then scanner.toml next to the binary, then
// config/scanner.toml for development.
func resolveConfigPaths(paths []string) []string {
	if len(paths) > 0 {
		return paths
	}
	if p := os.Getenv("SCANNER_CONFIG"); p != "" {
		return []string{p}
	}
	p := filepath.Join(getBinaryDir(), "scanner.toml")
	if _, err := os.Stat(p); err == nil {
		return []string{p}
	}
	return []string{"config/scanner.toml"}
}

// NewApp loads configuration and initializes every component.
func NewApp(configPaths ...string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	config, err := common.LoadConfig(resolveConfigPaths(configPaths)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	store, err := storage.NewResultStore(logger, &config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx := context.Background()
	eodhdKey, err := common.ResolveAPIKey(ctx, store, "eodhd_api_key", config.Clients.EODHD.APIKey)
	if err != nil {
		logger.Warn().Msg("EODHD API key not configured - scans will fail until one is set")
	}

	clientOpts := []eodhd.ClientOption{
		eodhd.WithLogger(logger),
		eodhd.WithRateLimit(config.Clients.EODHD.RateLimit),
		eodhd.WithTimeout(config.Clients.EODHD.GetTimeout()),
	}
	if config.Clients.EODHD.BaseURL != "" {
		clientOpts = append(clientOpts, eodhd.WithBaseURL(config.Clients.EODHD.BaseURL))
	}
	eodhdClient := eodhd.NewClient(eodhdKey, clientOpts...)

	orchestrator := scanner.NewOrchestrator(
		scanner.OptionsFromConfig(config),
		eodhdClient,
		eodhdClient,
		store,
		scanner.NewRegistry(),
		logger.WithComponent("scanner"),
	)

	sched, err := NewScheduler(config.Scheduler, config.MarketConfigs(), orchestrator, store, logger.WithComponent("scheduler"))
	if err != nil {
		orchestrator.Close()
		store.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	a := &App{
		Config:       config,
		Logger:       logger,
		Store:        store,
		EODHDClient:  eodhdClient,
		Scanner:      orchestrator,
		Orchestrator: orchestrator,
		Scheduler:    sched,
		StartupTime:  startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// StartScheduler launches the trigger poll loop when enabled.
func (a *App) StartScheduler() {
	if a.Scheduler == nil || !a.Config.Scheduler.Enabled || a.schedulerCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.schedulerCancel = cancel
	a.schedulerDone = done
	go func() {
		defer close(done)
		a.Scheduler.Run(ctx)
	}()
}

// Status combines running scans with the trigger schedule.
func (a *App) Status() models.ScannerStatus {
	status := models.ScannerStatus{
		Running:  a.Scanner.Running(),
		Triggers: []models.TriggerStatus{},
	}
	if a.Scheduler != nil {
		status.Triggers = a.Scheduler.Triggers()
	}
	return status
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, stop scans, close storage.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		<-a.schedulerDone
		a.schedulerCancel = nil
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
		a.Orchestrator = nil
		a.Scanner = nil
	}
	if a.Store != nil {
		a.Store.Close()
		a.Store = nil
	}
}
