package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danywayGit/OnChainArbitrage-sub000/quote"
	"github.com/danywayGit/OnChainArbitrage-sub000/types"
)

const streamMaxLen = 10000

// Publisher appends evaluated opportunities to a Redis stream so downstream
// consumers (dashboards, execution services) can tail them.
type Publisher struct {
	client *redis.Client
	stream string
	log    *zap.Logger
}

func NewPublisher(addr, stream string, logger *zap.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &Publisher{client: client, stream: stream, log: logger}, nil
}

// Publish appends one opportunity with its evaluation. Publication failures
// are reported but must not stall the detection loop.
func (p *Publisher) Publish(ctx context.Context, opp types.ArbitrageOpportunity, ev quote.Evaluation) error {
	values := map[string]interface{}{
		"pair":        opp.Pair,
		"buy_venue":   opp.BuyVenue,
		"sell_venue":  opp.SellVenue,
		"spread_pct":  fmt.Sprintf("%.4f", opp.SpreadPercent),
		"amount_in":   ev.AmountIn.String(),
		"gross":       ev.GrossProfit.String(),
		"net":         ev.NetProfit.String(),
		"profitable":  fmt.Sprintf("%t", ev.Profitable),
		"estimated":   fmt.Sprintf("%t", ev.Estimated),
		"detected_at": opp.Timestamp.UnixMilli(),
	}

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	p.log.Debug("Opportunity published",
		zap.String("pair", opp.Pair),
		zap.String("stream", p.stream))
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
