package ratelimit

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"roomchat/internal/util"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, 60*time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()

	got := make([]bool, 0, 3)
	for i := 0; i < 3; i++ {
		got = append(got, limiter.Allow(ctx, "u1"))
		redis.FastForward(time.Second)
	}
	want := []bool{true, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: got %v want %v (all=%v)", i, got[i], want[i], got)
		}
	}
}

func TestFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, 10*time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	if !limiter.Allow(ctx, "u1") {
		t.Fatalf("first request should pass")
	}
	if limiter.Allow(ctx, "u1") {
		t.Fatalf("second request should be blocked")
	}
	redis.FastForward(11 * time.Second)
	if !limiter.Allow(ctx, "u1") {
		t.Fatalf("request after window should pass")
	}
}

func TestFixedWindowLimiterSetsExpiryOnFirstHitOnly(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "rateLimit", 5, 60*time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	limiter.Allow(ctx, "user1")
	if ttl := redis.TTL("rateLimit:user1"); ttl != 60*time.Second {
		t.Fatalf("ttl after first hit = %v, want 60s", ttl)
	}
	redis.FastForward(20 * time.Second)
	limiter.Allow(ctx, "user1")
	if ttl := redis.TTL("rateLimit:user1"); ttl != 40*time.Second {
		t.Fatalf("ttl after second hit = %v, want 40s (window must not slide)", ttl)
	}
	if v, err := redis.Get("rateLimit:user1"); err != nil || v != "2" {
		t.Fatalf("counter = %q (err %v), want 2", v, err)
	}
}

func TestFixedWindowLimiterKeysAreIndependent(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	if !limiter.Allow(ctx, "alice") || !limiter.Allow(ctx, "bob") {
		t.Fatalf("first request of each identity should pass")
	}
	if limiter.Allow(ctx, "alice") {
		t.Fatalf("alice should be limited")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
	if _, err := limiter.Check(context.Background(), "ip-1"); err == nil {
		t.Fatalf("expected check to surface the redis error")
	}
}

func TestFixedWindowLimiterLogsFailureWithRequestLogger(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With("request_id", "req-42")
	ctx := util.ContextWithLogger(context.Background(), logger)
	if limiter.Allow(ctx, "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-42"`) || !strings.Contains(out, "rate limiter unavailable") {
		t.Fatalf("failure not logged through the request logger: %q", out)
	}
}

func TestFixedWindowLimiterReconfigure(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	limiter.Allow(ctx, "u1")
	limiter.SetMaxRequests(3)
	limiter.SetTimeWindow(30 * time.Second)
	if limiter.MaxRequests() != 3 || limiter.TimeWindow() != 30*time.Second {
		t.Fatalf("unexpected config: max=%d window=%v", limiter.MaxRequests(), limiter.TimeWindow())
	}
	if !limiter.Allow(ctx, "u1") {
		t.Fatalf("raised quota should allow second request")
	}
	limiter.SetMaxRequests(0)
	if limiter.MaxRequests() != 3 {
		t.Fatalf("non-positive quota must be ignored")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}
