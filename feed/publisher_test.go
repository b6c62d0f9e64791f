package feed

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/quote"
	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

func TestPublishAppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)

	pub, err := NewPublisher(mr.Addr(), "arb:opportunities", zap.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	opp := types.ArbitrageOpportunity{
		Pair:          "WETH/USDC",
		BuyVenue:      "quickswap",
		SellVenue:     "sushiswap",
		SpreadPercent: 1.0,
		Timestamp:     time.UnixMilli(1756600000000),
	}
	ev := quote.Evaluation{
		AmountIn:    big.NewInt(1_000_000),
		GrossProfit: big.NewInt(5000),
		NetProfit:   big.NewInt(4000),
		Profitable:  true,
	}
	require.NoError(t, pub.Publish(context.Background(), opp, ev))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	entries, err := client.XRange(context.Background(), "arb:opportunities", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, "WETH/USDC", values["pair"])
	assert.Equal(t, "quickswap", values["buy_venue"])
	assert.Equal(t, "sushiswap", values["sell_venue"])
	assert.Equal(t, "1000000", values["amount_in"])
	assert.Equal(t, "4000", values["net"])
	assert.Equal(t, "true", values["profitable"])
	assert.Equal(t, "false", values["estimated"])
}

func TestNewPublisherFailsWhenRedisUnreachable(t *testing.T) {
	_, err := NewPublisher("127.0.0.1:1", "arb:opportunities", zap.NewNop())
	require.Error(t, err)
}
