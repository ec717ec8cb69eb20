package shared

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newFlagFixture(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestMovementsEnabledReadsRedisKey(t *testing.T) {
	mr, client := newFlagFixture(t)
	ctx := context.Background()
	source := NewRedisFlagSource(client, false)

	require.NoError(t, mr.Set(MovementFlagKey, "1"))
	require.True(t, source.MovementsEnabled(ctx))

	require.NoError(t, mr.Set(MovementFlagKey, "on"))
	require.True(t, source.MovementsEnabled(ctx))

	require.NoError(t, mr.Set(MovementFlagKey, "0"))
	require.False(t, source.MovementsEnabled(ctx))
}

func TestMovementsEnabledFallsBackToDefault(t *testing.T) {
	_, client := newFlagFixture(t)
	ctx := context.Background()

	require.True(t, NewRedisFlagSource(client, true).MovementsEnabled(ctx))
	require.False(t, NewRedisFlagSource(client, false).MovementsEnabled(ctx))
}

func TestMovementsEnabledDefaultOnRedisDown(t *testing.T) {
	mr, client := newFlagFixture(t)
	ctx := context.Background()
	mr.Close()

	require.False(t, NewRedisFlagSource(client, false).MovementsEnabled(ctx))
	require.True(t, NewRedisFlagSource(client, true).MovementsEnabled(ctx))
}

func TestNilSourcePermitsMovements(t *testing.T) {
	var source *RedisFlagSource
	require.True(t, source.MovementsEnabled(context.Background()))
}
