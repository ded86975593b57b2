package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	durationSamples  = 50
	durationCacheTTL = 10 * time.Second
	durationKey      = "visualization:metrics:durations"
)

// DurationTracker keeps the processing times of the last completed jobs in a
// Redis list and serves their average to the queue's wait estimate.
type DurationTracker struct {
	rdb      *redis.Client
	fallback time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	local    []time.Duration
	cached   time.Duration
	cachedAt time.Time
}

// NewDurationTracker returns a tracker. rdb may be nil to keep samples in memory.
func NewDurationTracker(rdb *redis.Client, fallback time.Duration, log zerolog.Logger) *DurationTracker {
	return &DurationTracker{
		rdb:      rdb,
		fallback: fallback,
		log:      log.With().Str("component", "durations").Logger(),
	}
}

// Record adds a completed job's processing time.
func (t *DurationTracker) Record(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t.mu.Lock()
	t.cachedAt = time.Time{}
	if t.rdb == nil {
		t.local = append(t.local, d)
		if len(t.local) > durationSamples {
			t.local = t.local[len(t.local)-durationSamples:]
		}
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, durationKey, d.Milliseconds())
		pipe.LTrim(ctx, durationKey, 0, durationSamples-1)
		return nil
	})
	return err
}

// AverageJobDuration returns the mean of the recorded samples, or the
// fallback when there are none or Redis is unavailable.
func (t *DurationTracker) AverageJobDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.cachedAt.IsZero() && time.Since(t.cachedAt) < durationCacheTTL {
		return t.cached
	}

	samples := t.local
	if t.rdb != nil {
		loaded, err := t.load()
		if err != nil {
			t.log.Warn().Err(err).Msg("failed to load job durations")
			return t.fallback
		}
		samples = loaded
	}

	avg := t.fallback
	if len(samples) > 0 {
		var total time.Duration
		for _, d := range samples {
			total += d
		}
		avg = total / time.Duration(len(samples))
	}
	t.cached, t.cachedAt = avg, time.Now()
	return avg
}

func (t *DurationTracker) load() ([]time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	values, err := t.rdb.LRange(ctx, durationKey, 0, durationSamples-1).Result()
	if err != nil {
		return nil, err
	}
	samples := make([]time.Duration, 0, len(values))
	for _, v := range values {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		samples = append(samples, time.Duration(ms)*time.Millisecond)
	}
	return samples, nil
}
