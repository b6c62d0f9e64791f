package provider

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// State is a provider's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateActive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// NodeClient is the slice of the node API the pool needs: a log stream and a
// trivial call to use as a heartbeat. *ethclient.Client satisfies it.
type NodeClient interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// DialFunc opens a streaming connection to a node endpoint.
type DialFunc func(ctx context.Context, url string) (NodeClient, error)

// DialEthClient is the production dialer.
func DialEthClient(ctx context.Context, url string) (NodeClient, error) {
	return ethclient.DialContext(ctx, url)
}

// Config tunes heartbeat and reconnect behavior.
type Config struct {
	HeartbeatInterval  time.Duration
	HeartbeatFailLimit int
	ReconnectBase      time.Duration
	ReconnectCap       time.Duration
	MaxReconnects      int
	DialTimeout        time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  30 * time.Second,
		HeartbeatFailLimit: 3,
		ReconnectBase:      time.Second,
		ReconnectCap:       30 * time.Second,
		MaxReconnects:      10,
		DialTimeout:        10 * time.Second,
	}
}

// backoffDelay returns the reconnect delay before attempt n (0-based):
// 1s, 2s, 4s, 8s, 16s, then capped.
func (c Config) backoffDelay(attempt int) time.Duration {
	if attempt >= 31 {
		return c.ReconnectCap
	}
	d := c.ReconnectBase << uint(attempt)
	if d <= 0 || d > c.ReconnectCap {
		return c.ReconnectCap
	}
	return d
}

// provider is the pool's bookkeeping for one endpoint.
type provider struct {
	name     string
	url      string
	priority int

	state    State
	attempts int
	client   NodeClient
	gen      uint64 // bumped on every successful connect; stale async events check it
	hbCancel context.CancelFunc
	retry    *time.Timer
}
