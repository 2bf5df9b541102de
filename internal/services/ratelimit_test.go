package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ml := NewMemoryLimiter(2, time.Minute)
	defer ml.Close()
	ml.now = func() time.Time { return now }

	steps := []struct {
		advance time.Duration
		key     string
		want    bool
	}{
		{0, "a", true},
		{time.Second, "a", true},
		{time.Second, "a", false},
		{0, "b", true},
		{time.Minute, "a", true},
		{0, "a", true},
		{0, "a", false},
	}

	for i, s := range steps {
		now = now.Add(s.advance)
		got, err := ml.Allow(ctx, s.key)
		if err != nil {
			t.Fatalf("step %d: Allow() error = %v", i, err)
		}
		if got != s.want {
			t.Errorf("step %d: Allow(%q) = %v, want %v", i, s.key, got, s.want)
		}
	}
}

func TestMemoryLimiterEvict(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ml := NewMemoryLimiter(1, time.Hour)
	defer ml.Close()
	ml.now = func() time.Time { return now }

	if _, err := ml.Allow(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	ml.evict()

	ml.mu.Lock()
	n := len(ml.visitors)
	ml.mu.Unlock()
	if n != 0 {
		t.Errorf("visitors after eviction = %d, want 0", n)
	}
}

func TestMemoryLimiterCloseTwice(t *testing.T) {
	ml := NewMemoryLimiter(1, time.Second)
	if err := ml.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ml.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	rl, err := NewRedisLimiter(url, 2, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	defer rl.Close()

	ctx := context.Background()
	key := "test-" + uuid.NewString()
	t.Cleanup(func() { rl.client.Del(context.Background(), rl.prefix+key) })

	for i, want := range []bool{true, true, false} {
		got, err := rl.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if got != want {
			t.Errorf("request %d: Allow() = %v, want %v", i, got, want)
		}
	}

	ttl, err := rl.client.PTTL(ctx, rl.prefix+key).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("counter TTL = %v, want within the window", ttl)
	}
}

func TestNewRedisLimiterBadURL(t *testing.T) {
	if _, err := NewRedisLimiter("not a url", 1, time.Second); err == nil {
		t.Error("NewRedisLimiter() error = nil for an invalid URL")
	}
}
