package sequence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newGenerator(t *testing.T) (*RedisGenerator, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fixed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return &RedisGenerator{rdb: rdb, now: func() time.Time { return fixed }}, mr
}

func TestNextCampaignCodeIncrementsPerClientAndDay(t *testing.T) {
	g, mr := newGenerator(t)
	ctx := context.Background()

	first, err := g.NextCampaignCode(ctx, "client-1")
	require.NoError(t, err)
	second, err := g.NextCampaignCode(ctx, "client-1")
	require.NoError(t, err)
	other, err := g.NextCampaignCode(ctx, "client-2")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(first, "CMP-260314-001"))
	require.True(t, strings.HasPrefix(second, "CMP-260314-002"))
	require.True(t, strings.HasPrefix(other, "CMP-260314-001"))
	require.True(t, mr.TTL("seq:CMP:client-1:260314") > 0)
}

func TestNextTransactionCodeFormat(t *testing.T) {
	g, _ := newGenerator(t)

	code, err := g.NextTransactionCode(context.Background(), "client-1")
	require.NoError(t, err)
	require.Regexp(t, `^TXN-260314-[0-9A-Z]{3}[A-Z2-9]{2}$`, code)
}

func TestRandomCodeUsesAlphabet(t *testing.T) {
	code, err := RandomCode(64)
	require.NoError(t, err)
	require.Len(t, code, 64)
	for _, r := range code {
		require.Contains(t, CodeAlphabet, string(r))
	}
}
