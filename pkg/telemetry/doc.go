// Package telemetry provides observability instrumentation for pakmux.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and progress event
// publishing into a unified system shared by the engine, the backends, the
// transaction journal, and the CLI.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics on a private registry
//  4. Progress Events - The engine's only channel to user interfaces
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with domain field helpers:
//
//	logger := tel.Logger.NewComponentLogger("journal")
//	logger = logger.WithTransactionID(tx.ID).WithBackend("apt")
//	logger.Info("effect recorded")
//	logger.WithError(err).Error("rollback step failed")
//
// Log levels: trace, debug, info, warn, error, fatal.
//
// # Progress Events
//
// The engine never prints. It publishes events; interfaces subscribe:
//
//	tel.Events.Subscribe(func(ev telemetry.Event) {
//	    fmt.Fprintf(os.Stderr, "%s %s\n", ev.Type, ev.Message)
//	}, nil)
//
// Event types follow the operation lifecycle: operation.started,
// operation.progress, operation.completed, operation.failed, plus
// backend.invoked, rollback.started, rollback.completed,
// recovery.attempted and lock.waiting.
//
// # Metrics
//
// Metrics live on a private Prometheus registry; there is no HTTP
// listener. Diagnostics surfaces call Metrics.Gather to dump the
// families. Key metrics:
//
//   - pakmux_operations_started_total{operation}
//   - pakmux_operations_completed_total{operation,status}
//   - pakmux_backend_invocations_total{backend,outcome}
//   - pakmux_rollback_effects_total{effect,result}
//   - pakmux_lock_wait_seconds
//   - pakmux_version_resolutions_total{language,source}
//   - pakmux_errors_total{kind}
//
// # Tracing
//
// Spans nest operation -> step -> backend invocation. Supported exporters:
//
//   - "stdout": print traces to stdout (development)
//   - "otlp": export via OTLP/gRPC (works with collectors)
//   - "none": generate but do not export (default)
//
// Tracing is disabled by default; a CLI that interposes language commands
// must not pay exporter setup cost on every python or node invocation.
package telemetry
