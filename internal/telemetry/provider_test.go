package telemetry

import (
	"context"
	"testing"

	"github.com/al-bashkir/ipo-result-relay/internal/config"
)

func TestSetupDisabledReturnsNoop(t *testing.T) {
	for _, cfg := range []*config.TelemetryConfig{nil, {ServiceName: "ipo-relay"}} {
		shutdown, err := Setup(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		if shutdown == nil {
			t.Fatal("expected shutdown func")
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("noop shutdown returned %v", err)
		}
	}
}

func TestSetupEnabled(t *testing.T) {
	cfg := &config.TelemetryConfig{
		Endpoint:    "http://127.0.0.1:4318/v1/traces",
		ServiceName: "ipo-relay-test",
	}

	shutdown, err := Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing was recorded, so flushing on a cancelled context must not block.
	_ = shutdown(ctx)
}
