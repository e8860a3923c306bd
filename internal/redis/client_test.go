package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClientRequiresAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(context.Background(), Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)
	require.Nil(t, client)
}

func TestNewClientPings(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Address: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestRefreshStaleKeysOnlyTouchesKeysWithoutTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("rate_limit:stale", "1"))
	require.NoError(t, mr.Set("rate_limit:fresh", "2"))
	mr.SetTTL("rate_limit:fresh", time.Minute)
	require.NoError(t, mr.Set("other:key", "3"))

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	week := 7 * 24 * time.Hour
	updated, err := RefreshStaleKeys(context.Background(), client, "rate_limit:", week, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	require.Equal(t, week, mr.TTL("rate_limit:stale"))
	require.Equal(t, time.Minute, mr.TTL("rate_limit:fresh"))
	require.Equal(t, time.Duration(0), mr.TTL("other:key"))
}
