package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	qnetQuotaCallsUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qnet_quota_calls_used",
		Help: "Number of upstream calls recorded in the current KST day",
	})

	qnetQuotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qnet_quota_blocks_total",
		Help: "Total number of fetches refused because the daily quota was spent",
	})
)

// Tracker counts upstream calls against the daily allowance and gates
// fetches once the portal has reported the quota spent.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new quota tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves today's quota state from Redis.
// Returns a zero-usage state if no data exists for the current day.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	day := DayKey(time.Now())

	calls, err := t.redis.Get(ctx, RedisKeyCallsPrefix+day).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get calls used: %w", err)
	}

	exhausted, err := t.redis.Exists(ctx, RedisKeyExhaustedPrefix+day).Result()
	if err != nil {
		return nil, fmt.Errorf("get exhausted flag: %w", err)
	}

	return &State{
		Day:       day,
		CallsUsed: calls,
		Exhausted: exhausted > 0,
	}, nil
}

// RecordCall counts one completed upstream exchange against today's
// allowance. Yesterday's counter is never touched; the day key rolls
// over naturally at KST midnight.
func (t *Tracker) RecordCall(ctx context.Context) error {
	day := DayKey(time.Now())
	key := RedisKeyCallsPrefix + day

	pipe := t.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, keyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record quota call: %w", err)
	}

	qnetQuotaCallsUsed.Set(float64(incr.Val()))
	return nil
}

// RecordLimitExceeded marks today's quota as spent. Called when the
// portal returns result code 22; every later Allow refuses until the
// KST day rolls over.
func (t *Tracker) RecordLimitExceeded(ctx context.Context) error {
	now := time.Now()
	day := DayKey(now)

	if err := t.redis.Set(ctx, RedisKeyExhaustedPrefix+day, 1, keyTTL).Err(); err != nil {
		return fmt.Errorf("record quota exhaustion: %w", err)
	}

	state := &State{Day: day, Exhausted: true}
	t.logger.Error().
		Str("day", day).
		Dur("time_until_reset", state.TimeUntilReset(now)).
		Msg("Daily quota exhausted - upstream calls suspended until KST midnight")

	return nil
}

// Allow checks whether a fetch may go upstream. Returns false once the
// quota was reported spent earlier in the current KST day.
func (t *Tracker) Allow(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get quota state: %w", err)
	}

	if state.Exhausted {
		t.logger.Warn().
			Str("day", state.Day).
			Int("calls_used", state.CallsUsed).
			Msg("Daily quota spent - blocking fetch")

		qnetQuotaBlocksTotal.Inc()
		return false, nil
	}

	return true, nil
}
