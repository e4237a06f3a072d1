package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pakmux/pakmux/cmd/pakmux/commands"
	"github.com/pakmux/pakmux/pkg/config"
	"github.com/pakmux/pakmux/pkg/dispatch"
	"github.com/pakmux/pakmux/pkg/engine"
	"github.com/pakmux/pakmux/pkg/telemetry"
	"github.com/pakmux/pakmux/pkg/version"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Create context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// Invoked through an interposition symlink (python, npm, cargo, ...):
	// resolve the toolchain and hand the process over. The regular CLI
	// never runs on this path.
	if _, ok := dispatch.Detect(os.Args); ok {
		code, err := runInterposed(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pakmux: %v\n", err)
			os.Exit(engine.ExitCode(err))
		}
		os.Exit(code)
	}

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		fmt.Fprintf(os.Stderr, "pakmux: %v\n", err)
		os.Exit(engine.ExitCode(err))
	}
}

// runInterposed executes the language command pakmux was invoked as.
// This path stays lean: config, state store, resolver. No lock, no
// journal, no backend probing.
func runInterposed(ctx context.Context) (int, error) {
	cfg, err := config.Load("")
	if err != nil {
		return 0, err
	}

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     "stderr",
		TimeFormat: "rfc3339",
	})
	if err != nil {
		return 0, err
	}

	store, err := version.NewStore(version.StoreConfig{Path: cfg.StatePath()})
	if err != nil {
		return 0, err
	}
	if err := store.Init(ctx); err != nil {
		return 0, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return 0, err
	}
	defer store.Close()

	resolver := version.NewResolver(store, logger)
	return dispatch.Main(ctx, os.Args, resolver, logger)
}
