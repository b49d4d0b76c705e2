package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.clock = func() time.Time { return now }

	if err := m.Set(ctx, "AgAD1", "привет", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := m.Get(ctx, "AgAD1"); !ok || v != "привет" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "AgAD1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestMemoryEmptyValueIsAHit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "silent", "", 0)
	if v, ok, _ := m.Get(ctx, "silent"); !ok || v != "" {
		t.Fatalf("expected cached empty transcript, got %q %v", v, ok)
	}
}

func TestNewModes(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, config.CacheConfig{Mode: "none"})
	if err != nil {
		t.Fatalf("none cache: %v", err)
	}
	_ = c.Set(ctx, "k", "v", 0)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("noop cache must never hit")
	}
	if _, err := New(ctx, config.CacheConfig{Mode: "memcached"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := New(ctx, config.CacheConfig{Mode: "redis", Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}
