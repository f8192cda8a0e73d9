package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"referralhub/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// CodeAlphabet leaves out characters that are easy to misread in a URL or on
// a phone screen (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

type Generator interface {
	NextCampaignCode(ctx context.Context, clientID string) (string, error)
	NextTransactionCode(ctx context.Context, clientID string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

func (g *RedisGenerator) NextCampaignCode(ctx context.Context, clientID string) (string, error) {
	return g.nextDailyCode(ctx, "CMP", clientID)
}

func (g *RedisGenerator) NextTransactionCode(ctx context.Context, clientID string) (string, error) {
	return g.nextDailyCode(ctx, "TXN", clientID)
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix, clientID string) (string, error) {
	today := g.now().UTC().Format("060102")
	key := rediskey.BuildSequenceKey(prefix, clientID, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		_ = g.rdb.Expire(ctx, key, 25*time.Hour).Err()
	}

	// base36, padded to 3
	encodedSeq := strings.ToUpper(fmt.Sprintf("%03s", strconv.FormatInt(seq, 36)))

	randSuffix, err := RandomCode(2)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, today, encodedSeq, randSuffix), nil
}

// RandomCode returns n characters drawn from CodeAlphabet with crypto/rand.
func RandomCode(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := range b {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = CodeAlphabet[num.Int64()]
	}
	return string(b), nil
}
