package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeTempConfig(t, baseConfig)
	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan AppConfig, 4)
	go func() {
		_ = w.Run(ctx, func(cfg AppConfig) { ch <- cfg })
	}()

	updated := strings.Replace(baseConfig, "ignoreUnknownAssets: true", "ignoreUnknownAssets: false\n  logLevel: warn", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Runtime.IgnoreUnknownAssets || cfg.EffectiveLogLevel() != "warn" {
			t.Fatalf("unexpected reloaded runtime: %+v", cfg.Runtime)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected update callback")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := writeTempConfig(t, baseConfig)
	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan AppConfig, 4)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(cfg AppConfig) { ch <- cfg }) }()

	if err := os.WriteFile(path, []byte("env: staging\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config should not be delivered: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	path := writeTempConfig(t, baseConfig)
	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan AppConfig, 1)
	go func() { _ = w.Run(ctx, func(cfg AppConfig) { ch <- cfg }) }()

	if err := os.WriteFile(w.Path()+".bak", []byte("x"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("sibling file should not trigger reload")
	case <-time.After(200 * time.Millisecond):
	}
}
