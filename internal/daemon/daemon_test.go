package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/al-bashkir/ipo-result-relay/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Listen.HTTP = "127.0.0.1:0"
	cfg.Upstream.BaseURL = "http://127.0.0.1:1"
	return cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.closeBackends()

	if d.httpServer == nil {
		t.Fatal("expected HTTP server")
	}
	if d.memStats == nil {
		t.Error("expected in-memory stats without redis")
	}
	if d.redis != nil {
		t.Error("unexpected redis client")
	}
	if d.limiter.Window() != time.Minute {
		t.Errorf("limiter window = %s, want 1m", d.limiter.Window())
	}
	if d.sessions.IsValid() {
		t.Error("session store must start empty")
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stats.RedisAddr = "127.0.0.1:1"

	start := time.Now()
	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("redis ping took %s, expected it to be bounded", elapsed)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for run to return")
	}
}

func TestRun_HTTPServerStartFailureReturnsError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Listen.HTTP = "127.0.0.1:-1" // invalid port -> ListenAndServe fails immediately

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- d.run(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected run to fail, got nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for run to return")
	}
}
