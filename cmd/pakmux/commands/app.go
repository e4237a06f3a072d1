package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/cache"
	"github.com/pakmux/pakmux/pkg/config"
	"github.com/pakmux/pakmux/pkg/engine"
	"github.com/pakmux/pakmux/pkg/privilege"
	"github.com/pakmux/pakmux/pkg/recovery"
	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/txn"
	"github.com/pakmux/pakmux/pkg/version"
)

// shutdownTimeout bounds telemetry shutdown after the command is done.
const shutdownTimeout = 5 * time.Second

// app holds the wired collaborators behind one command invocation.
// Commands build one in RunE, use it, and close it before returning.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	registry  *backend.Registry
	journal   *txn.Journal
	lock      *txn.Lock
	store     *version.Store
	resolver  *version.Resolver
	installer *version.Installer
	cache     *cache.Cache
	engine    *engine.Engine
}

// newApp loads configuration and wires every collaborator. The state
// store is opened and migrated here so commands never see a
// half-initialized database.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	runner := backend.NewExecRunner(tel.Logger)
	registry := backend.NewPlatformRegistry(runner, tel.Logger)
	if len(cfg.Backends.Priority) > 0 {
		if err := registry.SetPriority(cfg.Backends.Priority); err != nil {
			return nil, fmt.Errorf("invalid backend priority in config: %w", err)
		}
	}

	journal, err := txn.NewJournal(cfg.JournalDir(), tel.Logger)
	if err != nil {
		return nil, err
	}
	journal.Retain = cfg.JournalRetention

	lock := txn.NewLock(cfg.LockPath(), tel.Logger, tel.Events)
	lock.AcquireTimeout = cfg.LockTimeout.Std()

	store, err := version.NewStore(version.StoreConfig{Path: cfg.StatePath()})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	dl := cache.New(cfg.CacheDir(), tel.Logger)

	eng, err := engine.New(engine.Options{
		Registry:  registry,
		Journal:   journal,
		Lock:      lock,
		Arbiter:   privilege.NewArbiter(runner, tel.Logger),
		Runner:    privilege.NewRunner(runner, tel.Logger),
		Analyzer:  recovery.NewAnalyzer(tel.Logger),
		Telemetry: tel,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		tel:       tel,
		registry:  registry,
		journal:   journal,
		lock:      lock,
		store:     store,
		resolver:  version.NewResolver(store, tel.Logger),
		installer: version.NewInstaller(store, dl, cfg.DataDir, tel.Logger),
		cache:     dl,
		engine:    eng,
	}, nil
}

// Close releases the state store and flushes telemetry.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.tel.Logger.WithError(err).Warn("failed to close the state store")
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pakmux: telemetry shutdown: %v\n", err)
	}
}

// renderEvents subscribes a terminal renderer to engine events so
// progress shows up as the operation runs. JSON mode stays
// machine-readable and skips it.
func (a *app) renderEvents() {
	if jsonOutput {
		return
	}
	a.tel.Events.Subscribe(func(e telemetry.Event) {
		switch e.Type {
		case telemetry.EventTypeOperationProgress:
			fmt.Fprintf(os.Stderr, "  [%d/%d] %s\n", e.Done, e.Total, e.Message)
		case telemetry.EventTypeLockWaiting:
			fmt.Fprintf(os.Stderr, "%s\n", e.Message)
		case telemetry.EventTypeRecoveryAttempted:
			fmt.Fprintf(os.Stderr, "recovery: %s\n", e.Message)
		default:
			fmt.Fprintf(os.Stderr, "%s\n", e.Message)
		}
	}, telemetry.FilterByType(
		telemetry.EventTypeOperationProgress,
		telemetry.EventTypeLockWaiting,
		telemetry.EventTypeRecoveryAttempted,
		telemetry.EventTypeRollbackStarted,
		telemetry.EventTypeRollbackCompleted,
	))
}
