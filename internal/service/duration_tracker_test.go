package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bookvision/visualization/internal/logger"
)

func TestDurationTracker_InMemory(t *testing.T) {
	tr := NewDurationTracker(nil, 30*time.Second, logger.Nop())
	if got := tr.AverageJobDuration(); got != 30*time.Second {
		t.Errorf("expected fallback, got %s", got)
	}

	ctx := context.Background()
	_ = tr.Record(ctx, 10*time.Second)
	_ = tr.Record(ctx, 20*time.Second)
	if got := tr.AverageJobDuration(); got != 15*time.Second {
		t.Errorf("expected 15s, got %s", got)
	}
}

func TestDurationTracker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	tr := NewDurationTracker(rdb, 30*time.Second, logger.Nop())
	ctx := context.Background()

	for i := 0; i < durationSamples+10; i++ {
		d := 100 * time.Second
		if i >= 10 {
			d = 4 * time.Second
		}
		if err := tr.Record(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	if n, _ := rdb.LLen(ctx, durationKey).Result(); n != durationSamples {
		t.Errorf("expected %d samples kept, got %d", durationSamples, n)
	}
	if got := tr.AverageJobDuration(); got != 4*time.Second {
		t.Errorf("old samples should be trimmed, average is %s", got)
	}
}

func TestDurationTracker_FallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	tr := NewDurationTracker(rdb, 45*time.Second, logger.Nop())
	if got := tr.AverageJobDuration(); got != 45*time.Second {
		t.Errorf("expected fallback, got %s", got)
	}
}
