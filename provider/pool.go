package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrNoProviderAvailable is the fatal startup error: no endpoint accepted
	// a connection at all.
	ErrNoProviderAvailable = errors.New("no streaming provider available")

	ErrPoolStopped           = errors.New("provider pool is stopped")
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrProviderDead          = errors.New("provider is marked dead")
	ErrConnectInProgress     = errors.New("connect already in progress")
	ErrDuplicateProvider     = errors.New("provider name already registered")
	ErrDuplicateSubscription = errors.New("subscription id already registered")
)

// subscription is a durable registration: it survives provider failover by
// being re-registered on whichever provider becomes active.
type subscription struct {
	id      string
	address common.Address
	topics  []common.Hash
	cb      func(ethtypes.Log)

	// live stream state, present only while attached to the active provider
	live ethereum.Subscription
	ch   chan ethtypes.Log
	done chan struct{}
}

// Pool manages streaming connections to blockchain nodes with priority
// ordering, heartbeat health checks, exponential-backoff reconnection and
// durable subscription re-registration on failover. At most one provider is
// active at a time.
type Pool struct {
	cfg  Config
	dial DialFunc
	log  *zap.Logger

	mu        sync.Mutex
	providers map[string]*provider
	order     []string // provider names sorted by ascending priority
	subs      map[string]*subscription
	active    string
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics struct {
		connects          prometheus.Counter
		disconnects       prometheus.Counter
		reconnects        prometheus.Counter
		heartbeatFailures prometheus.Counter
		subscriptions     prometheus.Gauge
	}
}

// NewPool creates a pool. A nil dial falls back to the production ethclient
// dialer.
func NewPool(cfg Config, dial DialFunc, logger *zap.Logger) *Pool {
	if dial == nil {
		dial = DialEthClient
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		cfg:       cfg,
		dial:      dial,
		log:       logger,
		providers: make(map[string]*provider),
		subs:      make(map[string]*subscription),
		ctx:       ctx,
		cancel:    cancel,
	}

	p.metrics.connects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provider_connects_total",
		Help: "Total number of successful provider connections",
	})
	p.metrics.disconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provider_disconnects_total",
		Help: "Total number of provider disconnections",
	})
	p.metrics.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provider_reconnect_attempts_total",
		Help: "Total number of reconnection attempts",
	})
	p.metrics.heartbeatFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provider_heartbeat_failures_total",
		Help: "Total number of failed heartbeat probes",
	})
	p.metrics.subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "provider_subscriptions",
		Help: "Current number of durable subscriptions",
	})

	return p
}

// Register attaches the pool's metrics to a Prometheus registry.
func (p *Pool) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		p.metrics.connects,
		p.metrics.disconnects,
		p.metrics.reconnects,
		p.metrics.heartbeatFailures,
		p.metrics.subscriptions,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// AddProvider registers a provider endpoint. It does not connect.
func (p *Pool) AddProvider(name, url string, priority int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if name == "" || url == "" {
		return fmt.Errorf("provider name and url must be specified")
	}
	if _, exists := p.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
	}

	p.providers[name] = &provider{name: name, url: url, priority: priority}
	p.order = append(p.order, name)
	sort.SliceStable(p.order, func(i, j int) bool {
		return p.providers[p.order[i]].priority < p.providers[p.order[j]].priority
	})
	return nil
}

// ConnectAll connects providers in ascending priority order; the first that
// succeeds becomes active. Returns ErrNoProviderAvailable when none do.
func (p *Pool) ConnectAll(ctx context.Context) error {
	p.mu.Lock()
	order := append([]string(nil), p.order...)
	p.mu.Unlock()

	if len(order) == 0 {
		return ErrNoProviderAvailable
	}

	var lastErr error
	for _, name := range order {
		if err := p.Connect(ctx, name); err != nil {
			p.log.Warn("Provider connection failed",
				zap.String("provider", name),
				zap.Error(err))
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: last error: %v", ErrNoProviderAvailable, lastErr)
}

// Connect opens the stream for one provider. On success the provider becomes
// the active event source, a heartbeat starts, and every durable subscription
// is (re-)registered on it. Re-running Connect for the current active
// provider replaces its streams rather than duplicating them.
func (p *Pool) Connect(ctx context.Context, name string) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	prov, ok := p.providers[name]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if prov.state == StateDead {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProviderDead, name)
	}
	if prov.state == StateConnecting {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectInProgress, name)
	}
	prov.state = StateConnecting
	url := prov.url
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	client, err := p.dial(dialCtx, url)
	cancel()
	if err != nil {
		p.mu.Lock()
		if !p.stopped && prov.state == StateConnecting {
			prov.state = StateDisconnected
			p.scheduleReconnectLocked(prov)
		}
		p.mu.Unlock()
		return fmt.Errorf("provider %s: dial: %w", name, err)
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		client.Close()
		return ErrPoolStopped
	}

	// Demote the previous active provider, if any.
	if p.active != "" && p.active != name {
		old := p.providers[p.active]
		p.stopHeartbeatLocked(old)
		if old.client != nil {
			old.client.Close()
			old.client = nil
		}
		if old.state == StateActive {
			old.state = StateDisconnected
		}
	}

	p.stopHeartbeatLocked(prov)
	if prov.client != nil {
		prov.client.Close()
	}
	if prov.retry != nil {
		prov.retry.Stop()
		prov.retry = nil
	}
	prov.client = client
	prov.state = StateActive
	prov.gen++
	gen := prov.gen
	p.active = name

	// Exactly one live stream per durable subscription: tear down any stale
	// stream before registering on the new client.
	failed := 0
	for _, sub := range p.subs {
		p.teardownLiveLocked(sub)
		if err := p.registerLocked(prov, gen, sub); err != nil {
			failed++
			p.log.Error("Failed to re-register subscription",
				zap.String("provider", name),
				zap.String("subscription", sub.id),
				zap.Error(err))
		}
	}
	subCount := len(p.subs)

	// A provider that cannot carry every durable subscription is not usable
	// as the event source. Demote it so the backoff timer retries the full
	// registration, and let the caller move on to a backup.
	if failed > 0 {
		for _, sub := range p.subs {
			p.teardownLiveLocked(sub)
		}
		prov.client.Close()
		prov.client = nil
		prov.state = StateDisconnected
		p.active = ""
		p.scheduleReconnectLocked(prov)
		p.mu.Unlock()
		return fmt.Errorf("provider %s: %d of %d subscription registrations failed", name, failed, subCount)
	}
	prov.attempts = 0

	hbCtx, hbCancel := context.WithCancel(p.ctx)
	prov.hbCancel = hbCancel
	p.wg.Add(1)
	go p.heartbeatLoop(hbCtx, name, gen)

	p.mu.Unlock()

	p.metrics.connects.Inc()
	p.log.Info("Provider connected",
		zap.String("provider", name),
		zap.Int("subscriptions", subCount))
	return nil
}

// Subscribe durably registers a log subscription. It applies immediately to
// the active provider and to any provider that becomes active later.
func (p *Pool) Subscribe(id string, address common.Address, topics []common.Hash, cb func(ethtypes.Log)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if _, exists := p.subs[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, id)
	}

	sub := &subscription{id: id, address: address, topics: topics, cb: cb}
	if p.active != "" {
		prov := p.providers[p.active]
		if prov.client != nil {
			if err := p.registerLocked(prov, prov.gen, sub); err != nil {
				return fmt.Errorf("subscription %s: %w", id, err)
			}
		}
	}

	p.subs[id] = sub
	p.metrics.subscriptions.Set(float64(len(p.subs)))
	return nil
}

// Unsubscribe removes exactly the targeted registration; other subscriptions
// and providers are untouched.
func (p *Pool) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.subs[id]
	if !ok {
		return
	}
	p.teardownLiveLocked(sub)
	delete(p.subs, id)
	p.metrics.subscriptions.Set(float64(len(p.subs)))
}

// ProviderStatus is one provider's observable state.
type ProviderStatus struct {
	State             string
	Priority          int
	ReconnectAttempts int
}

// Status is an observability snapshot; it is not used for control flow.
type Status struct {
	ActiveProvider string
	Subscriptions  int
	Providers      map[string]ProviderStatus
}

func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		ActiveProvider: p.active,
		Subscriptions:  len(p.subs),
		Providers:      make(map[string]ProviderStatus, len(p.providers)),
	}
	for name, prov := range p.providers {
		st.Providers[name] = ProviderStatus{
			State:             prov.state.String(),
			Priority:          prov.priority,
			ReconnectAttempts: prov.attempts,
		}
	}
	return st
}

// Stop tears the pool down: every subscription is removed, all timers are
// cancelled and all connections closed. No callback fires after Stop returns.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true

	for _, prov := range p.providers {
		if prov.retry != nil {
			prov.retry.Stop()
			prov.retry = nil
		}
		p.stopHeartbeatLocked(prov)
		if prov.client != nil {
			prov.client.Close()
			prov.client = nil
		}
		if prov.state == StateActive || prov.state == StateConnecting {
			prov.state = StateDisconnected
		}
	}
	for _, sub := range p.subs {
		p.teardownLiveLocked(sub)
	}
	p.subs = make(map[string]*subscription)
	p.active = ""
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.log.Info("Provider pool stopped")
}

// registerLocked opens a live stream for sub on prov and starts its pump.
func (p *Pool) registerLocked(prov *provider, gen uint64, sub *subscription) error {
	ch := make(chan ethtypes.Log, 64)
	q := ethereum.FilterQuery{Addresses: []common.Address{sub.address}}
	if len(sub.topics) > 0 {
		q.Topics = [][]common.Hash{sub.topics}
	}

	live, err := prov.client.SubscribeFilterLogs(p.ctx, q, ch)
	if err != nil {
		return fmt.Errorf("subscribe filter logs: %w", err)
	}

	done := make(chan struct{})
	sub.live = live
	sub.ch = ch
	sub.done = done

	p.wg.Add(1)
	go p.pump(prov.name, gen, live, ch, done, sub.cb)
	return nil
}

// pump forwards logs from one live stream to the subscription callback and
// turns a transport-level error into a disconnect of the owning provider.
func (p *Pool) pump(name string, gen uint64, live ethereum.Subscription, ch chan ethtypes.Log, done chan struct{}, cb func(ethtypes.Log)) {
	defer p.wg.Done()
	for {
		select {
		case <-done:
			live.Unsubscribe()
			return
		case err, ok := <-live.Err():
			if ok && err != nil {
				p.handleDisconnect(name, gen, err)
			}
			return
		case lg := <-ch:
			cb(lg)
		}
	}
}

func (p *Pool) teardownLiveLocked(sub *subscription) {
	if sub.done == nil {
		return
	}
	close(sub.done)
	sub.done = nil
	sub.live = nil
	sub.ch = nil
}

func (p *Pool) stopHeartbeatLocked(prov *provider) {
	if prov.hbCancel != nil {
		prov.hbCancel()
		prov.hbCancel = nil
	}
}

// heartbeatLoop probes the provider with a trivial call. After
// HeartbeatFailLimit consecutive failures the provider is disconnected.
func (p *Pool) heartbeatLoop(ctx context.Context, name string, gen uint64) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	fails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			prov, ok := p.providers[name]
			var client NodeClient
			if ok && prov.gen == gen {
				client = prov.client
			}
			p.mu.Unlock()
			if client == nil {
				return
			}

			probeCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
			_, err := client.BlockNumber(probeCtx)
			cancel()

			if err == nil {
				fails = 0
				continue
			}
			fails++
			p.metrics.heartbeatFailures.Inc()
			p.log.Warn("Heartbeat failed",
				zap.String("provider", name),
				zap.Int("consecutive", fails),
				zap.Error(err))
			if fails >= p.cfg.HeartbeatFailLimit {
				p.handleDisconnect(name, gen, fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

// handleDisconnect marks the provider inactive, schedules its reconnection
// and, when it was the active event source, fails over to a backup.
func (p *Pool) handleDisconnect(name string, gen uint64, cause error) {
	p.mu.Lock()
	prov, ok := p.providers[name]
	if !ok || p.stopped || prov.gen != gen || prov.state != StateActive {
		p.mu.Unlock()
		return
	}

	p.log.Warn("Provider disconnected",
		zap.String("provider", name),
		zap.Error(cause))

	p.stopHeartbeatLocked(prov)
	if prov.client != nil {
		prov.client.Close()
		prov.client = nil
	}
	prov.state = StateDisconnected

	wasActive := p.active == name
	if wasActive {
		p.active = ""
		for _, sub := range p.subs {
			p.teardownLiveLocked(sub)
		}
	}

	p.scheduleReconnectLocked(prov)
	p.mu.Unlock()

	p.metrics.disconnects.Inc()
	if wasActive {
		p.switchToBackup(name)
	}
}

// switchToBackup selects the next provider in priority order and connects it,
// which re-registers every durable subscription.
func (p *Pool) switchToBackup(failed string) {
	p.mu.Lock()
	var candidates []string
	if !p.stopped && p.active == "" {
		for _, name := range p.order {
			prov := p.providers[name]
			if name == failed || prov.state == StateDead || prov.state == StateConnecting {
				continue
			}
			candidates = append(candidates, name)
		}
	}
	p.mu.Unlock()

	for _, name := range candidates {
		if err := p.Connect(p.ctx, name); err != nil {
			p.log.Warn("Backup provider connection failed",
				zap.String("provider", name),
				zap.Error(err))
			continue
		}
		p.log.Info("Switched to backup provider", zap.String("provider", name))
		return
	}

	p.mu.Lock()
	orphaned := p.active == ""
	p.mu.Unlock()
	if orphaned {
		p.log.Error("No backup provider available, waiting for reconnection",
			zap.String("failed", failed))
	}
}

// scheduleReconnectLocked arms the backoff timer for a disconnected provider.
// Once the attempt budget is exceeded the provider is marked permanently dead
// and excluded from future failover.
func (p *Pool) scheduleReconnectLocked(prov *provider) {
	if p.stopped || prov.state == StateDead {
		return
	}
	if prov.attempts >= p.cfg.MaxReconnects {
		prov.state = StateDead
		p.log.Error("Provider exceeded reconnect budget, marking dead",
			zap.String("provider", prov.name),
			zap.Int("attempts", prov.attempts))
		return
	}

	delay := p.cfg.backoffDelay(prov.attempts)
	prov.attempts++
	name := prov.name
	attempt := prov.attempts

	prov.retry = time.AfterFunc(delay, func() {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}

		p.metrics.reconnects.Inc()
		p.log.Info("Reconnecting provider",
			zap.String("provider", name),
			zap.Int("attempt", attempt))
		if err := p.Connect(p.ctx, name); err != nil {
			p.log.Warn("Reconnect failed",
				zap.String("provider", name),
				zap.Error(err))
		}
	})
}
