package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestPublisher(t *testing.T) *EventPublisher {
	t.Helper()
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:    true,
		BufferSize: 16,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	return ep
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "default config is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty service name",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: true,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name: "bad exporter when tracing enabled",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: true,
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: true,
		},
		{
			name: "zero event buffer",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.BufferSize = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventPublisherDeliversInOrder(t *testing.T) {
	ep := newTestPublisher(t)

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	}, nil)

	if err := ep.PublishOperationStarted("tx1", "install", []string{"ripgrep"}); err != nil {
		t.Fatalf("PublishOperationStarted() error = %v", err)
	}
	if err := ep.PublishProgress("tx1", 1, 2, "installing ripgrep"); err != nil {
		t.Fatalf("PublishProgress() error = %v", err)
	}
	if err := ep.PublishOperationCompleted("tx1", time.Second); err != nil {
		t.Fatalf("PublishOperationCompleted() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		EventTypeOperationStarted,
		EventTypeOperationProgress,
		EventTypeOperationCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventPublisherSubscriberFilter(t *testing.T) {
	ep := newTestPublisher(t)

	var count int
	ep.Subscribe(func(ev Event) {
		count++
	}, FilterByLevel(EventLevelError))

	_ = ep.PublishProgress("tx1", 1, 3, "step one")
	_ = ep.PublishOperationFailed("tx1", "backend exploded")

	if count != 1 {
		t.Errorf("subscriber saw %d events, want 1 (errors only)", count)
	}
}

func TestEventPublisherFilterByTransactionID(t *testing.T) {
	filter := FilterByTransactionID("tx42")

	if !filter(Event{TransactionID: "tx42"}) {
		t.Error("filter rejected matching transaction")
	}
	if filter(Event{TransactionID: "tx43"}) {
		t.Error("filter accepted wrong transaction")
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var called bool
	ep.Subscribe(func(ev Event) { called = true }, nil)

	if err := ep.Publish(Event{Type: EventTypeOperationStarted}); err != nil {
		t.Fatalf("Publish() on disabled publisher error = %v", err)
	}
	if called {
		t.Error("disabled publisher delivered an event")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on disabled publisher error = %v", err)
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// None of these should panic on the no-op instance.
	m.RecordOperationStarted("install")
	m.RecordOperationCompleted("install", "committed", time.Second)
	m.RecordBackendInvocation("apt", "success", time.Second)
	m.RecordRollbackEffect("package_installed", "inverted")
	m.RecordLockWait(time.Millisecond)
	m.RecordResolution("python", "pin_file")
	m.RecordError("backend_error")

	families, err := m.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if families != nil {
		t.Errorf("Gather() on disabled metrics = %v, want nil", families)
	}
}

func TestMetricsGather(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "pakmux"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordOperationStarted("install")
	m.RecordBackendInvocation("apt", "success", 2*time.Second)

	families, err := m.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, want := range []string{
		"pakmux_operations_started_total",
		"pakmux_backend_invocations_total",
	} {
		if !found[want] {
			t.Errorf("Gather() missing metric family %q", want)
		}
	}
}

func TestNewNopTelemetry(t *testing.T) {
	tel := NewNopTelemetry()
	if tel.Logger == nil || tel.Events == nil || tel.Metrics == nil || tel.Tracer == nil {
		t.Fatal("NewNopTelemetry() returned incomplete instance")
	}

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("telemetry not retrievable from context")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestLoggerComponentFields(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	child := logger.NewComponentLogger("journal").
		WithTransactionID("tx1").
		WithBackend("apt")
	if child == nil {
		t.Fatal("child logger is nil")
	}

	ctx := child.WithContext(context.Background())
	if FromContext(ctx) != child {
		t.Error("logger not retrievable from context")
	}
}
