package service

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryUnknownDeviceCache(t *testing.T) {
	cache := NewInMemoryUnknownDeviceCache()
	ctx := context.Background()

	if err := cache.MarkUnknown(ctx, 42, time.Minute); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if hit, _ := cache.IsUnknown(ctx, 42); !hit {
		t.Fatal("expected hit")
	}
	if err := cache.Forget(ctx, 42); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if hit, _ := cache.IsUnknown(ctx, 42); hit {
		t.Fatal("expected miss after forget")
	}

	_ = cache.MarkUnknown(ctx, 1, time.Minute)
	_ = cache.MarkUnknown(ctx, 2, 15*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if hit, _ := cache.IsUnknown(ctx, 2); hit {
		t.Fatal("expected expiry")
	}
	if err := cache.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if hit, _ := cache.IsUnknown(ctx, 1); hit {
		t.Fatal("expected miss after reset")
	}
}

func TestRedisUnknownDeviceCache(t *testing.T) {
	ctx := context.Background()
	server, client := startRedis(t)
	cache := NewRedisUnknownDeviceCache(client, "unknown_test")

	if hit, err := cache.IsUnknown(ctx, 9); err != nil || hit {
		t.Fatalf("expected initial miss, hit=%v err=%v", hit, err)
	}
	if err := cache.MarkUnknown(ctx, 9, 2*time.Second); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if hit, err := cache.IsUnknown(ctx, 9); err != nil || !hit {
		t.Fatalf("expected hit, hit=%v err=%v", hit, err)
	}
	server.FastForward(3 * time.Second)
	if hit, _ := cache.IsUnknown(ctx, 9); hit {
		t.Fatal("expected miss after ttl")
	}

	_ = cache.MarkUnknown(ctx, 9, time.Minute)
	if err := cache.Forget(ctx, 9); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if hit, _ := cache.IsUnknown(ctx, 9); hit {
		t.Fatal("expected miss after forget")
	}

	_ = cache.MarkUnknown(ctx, 10, time.Minute)
	if err := cache.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if hit, _ := cache.IsUnknown(ctx, 10); hit {
		t.Fatal("expected miss after epoch reset")
	}
}
