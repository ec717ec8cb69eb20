package shared

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// MovementFlagKey is the redis key toggling inventory movements at runtime.
const MovementFlagKey = "freshgate:flags:inventory_movements"

// MovementFlagSource reports whether ledger movements may be posted.
// Settlement services receive it as an explicit dependency so their behaviour
// is a function of inputs, not ambient globals.
type MovementFlagSource interface {
	MovementsEnabled(ctx context.Context) bool
}

// RedisFlagSource reads the movement flag from redis, falling back to a
// configured default when the key is absent or redis is unreachable.
type RedisFlagSource struct {
	client  *redis.Client
	enabled bool
}

// NewRedisFlagSource constructs RedisFlagSource.
func NewRedisFlagSource(client *redis.Client, defaultEnabled bool) *RedisFlagSource {
	return &RedisFlagSource{client: client, enabled: defaultEnabled}
}

// MovementsEnabled implements MovementFlagSource.
func (s *RedisFlagSource) MovementsEnabled(ctx context.Context) bool {
	if s == nil || s.client == nil {
		return true
	}
	val, err := s.client.Get(ctx, MovementFlagKey).Result()
	if err != nil {
		// Key absent or redis unreachable: honour the configured default.
		return s.enabled
	}
	return val == "1" || val == "true" || val == "on"
}

// StaticFlagSource returns a fixed value, used by tests and CLIs.
type StaticFlagSource bool

// MovementsEnabled implements MovementFlagSource.
func (s StaticFlagSource) MovementsEnabled(context.Context) bool {
	return bool(s)
}
