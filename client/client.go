package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drand/drand/v2/common/log"
	"github.com/hashicorp/go-multierror"
	clock "github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/drand"
	"github.com/drand/drand-watch/internal/metrics"
)

const ClientStartupTimeout = time.Second * 5

// InfoSource is a transport that can also serve the parameters of its chain.
type InfoSource interface {
	Info(ctx context.Context) (*chain.Config, error)
}

// Client watches and fetches the verified beacons of one chain from a pool
// of providers.
type Client struct {
	chain *chain.Config
	pool  *Pool
	cache Cache
	cfg   clientConfig
	log   log.Logger

	mu       sync.Mutex
	watchers map[*Watcher]struct{}
	closed   bool
}

// New creates a client with the specified options. It expects at least one
// transport given with From, and a root of trust given with WithChainConfig
// or WithChainHash. If not specified, a default context with a timeout of
// ClientStartupTimeout is used when fetching the chain parameters during
// setup.
func New(options ...Option) (*Client, error) {
	cfg := clientConfig{
		cacheSize:      DefaultCacheSize,
		timeout:        DefaultRequestTimeout,
		retries:        DefaultRetryBudget,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}

	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.log == nil {
		cfg.log = log.DefaultLogger()
	}
	if cfg.clock == nil {
		cfg.clock = clock.NewRealClock()
	}
	if cfg.setupCtx == nil {
		ctx, cancel := context.WithTimeout(context.Background(), ClientStartupTimeout)
		cfg.setupCtx = ctx
		defer cancel()
	}
	return makeClient(&cfg)
}

// makeClient creates a client from a configuration.
func makeClient(cfg *clientConfig) (*Client, error) {
	l := cfg.log
	if cfg.chainHash == nil && cfg.chainConfig == nil {
		l.Errorw("no root of trust specified")
		return nil, errors.New("no root of trust specified")
	}
	if len(cfg.transports) == 0 {
		l.Errorw("no points of contact specified")
		return nil, fmt.Errorf("no points of contact specified: %w", drand.ErrNoProviders)
	}

	if err := cfg.tryPopulateInfo(cfg.setupCtx, cfg.transports...); err != nil {
		return nil, err
	}

	cache, err := NewCache(cfg.cacheSize)
	if err != nil {
		return nil, err
	}

	pool, err := NewPool(cfg.transports, PoolConfig{
		FailureThreshold: cfg.threshold,
		ProbeInterval:    cfg.recoveryEvery,
		Fanout:           cfg.fanout,
		Clock:            cfg.clock,
		Logger:           l,
	})
	if err != nil {
		return nil, err
	}

	// bind prometheus metrics if a registerer was provided
	if cfg.prometheus != nil {
		// ignore registration errors; caller may re-use registries across clients
		_ = metrics.RegisterClientMetrics(cfg.prometheus)
	}

	if cfg.insecure {
		metrics.VerificationDisabled.Set(1)
		l.Warnw("", "client", "INSECURE: beacon verification is disabled, randomness will not be checked against the chain key")
	}

	l.Infow("", "client", "ready", "chain", cfg.chainConfig.HashString(), "scheme", cfg.chainConfig.Scheme().Name,
		"providers", len(cfg.transports))

	return &Client{
		chain:    cfg.chainConfig,
		pool:     pool,
		cache:    cache,
		cfg:      *cfg,
		log:      l,
		watchers: make(map[*Watcher]struct{}),
	}, nil
}

// String returns the name of this client.
func (c *Client) String() string {
	return fmt.Sprintf("Client(%s)", c.chain.HashString())
}

// Info returns the parameters of the chain the client follows.
func (c *Client) Info() *chain.Config {
	return c.chain
}

// RoundAt returns the round being published at time t.
func (c *Client) RoundAt(t time.Time) uint64 {
	return c.chain.RoundAt(t)
}

// Health returns what the client knows about each of its providers.
func (c *Client) Health() []ProviderHealth {
	return c.pool.Health()
}

// Get returns the verified beacon at round, or the latest one for round 0.
// Cached beacons are returned without contacting the providers.
func (c *Client) Get(ctx context.Context, round uint64) (drand.Result, error) {
	if round != drand.LatestRound {
		if r := c.cache.TryGet(round); r != nil {
			return r, nil
		}
	}

	res, err := c.pool.RaceFetch(ctx, round, c.cfg.timeout)
	if err != nil {
		return nil, err
	}

	if !c.cfg.insecure {
		var prior drand.Result
		if c.chain.Scheme().Chained {
			if prior = c.cache.TryGet(res.GetRound() - 1); prior == nil {
				prior = chain.Anchor(res)
			}
		}
		if err := chain.Verify(res, prior, c.chain); err != nil {
			metrics.VerificationFailures.Inc()
			c.log.Warnw("", "client", "beacon failed verification", "round", res.GetRound(), "err", err)
			return nil, err
		}
	}

	c.cache.Add(res.GetRound(), res)
	return res, nil
}

// NewWatcher returns an unstarted watch session sharing the client's
// providers. It is stopped when the client is closed.
func (c *Client) NewWatcher() (*Watcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, drand.ErrSessionEnded
	}
	for w := range c.watchers {
		if w.ended() {
			delete(c.watchers, w)
		}
	}

	poller := NewPoller(c.pool, c.chain, PollerConfig{
		Timeout:     c.cfg.timeout,
		RetryBudget: c.cfg.retries,
		Backoff:     NewBackoff(c.cfg.initialBackoff, c.cfg.maxBackoff),
		Clock:       c.cfg.clock,
		Logger:      c.log,
	})
	w := NewWatcher(poller, c.chain, WatcherConfig{
		Trusted:  c.cfg.previousResult,
		Insecure: c.cfg.insecure,
		Cache:    c.cache,
		Logger:   c.log,
	})
	c.watchers[w] = struct{}{}
	return w, nil
}

// Watch starts a new watch session. See Watcher.Watch.
func (c *Client) Watch(ctx context.Context) (<-chan Update, error) {
	w, err := c.NewWatcher()
	if err != nil {
		return nil, err
	}
	return w.Watch(ctx)
}

// Close stops every watch session and closes the transports.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for w := range c.watchers {
		w.Stop()
	}
	c.watchers = nil
	c.mu.Unlock()

	return c.pool.Close()
}

type clientConfig struct {
	// transports is the set of providers racing for each round
	transports []drand.Transport
	// from `chainConfig.Hash()` - serves as a root of trust for a given
	// randomness chain.
	chainHash []byte
	// Full chain parameters - serves as a root of trust.
	chainConfig *chain.Config
	// A previously verified result serving as a verification checkpoint if one exists.
	previousResult drand.Result
	// insecure disables beacon verification.
	insecure bool
	// cache size - how large of a cache to keep locally.
	cacheSize int
	// customized client log.
	log log.Logger

	// only used during setup to try and fetch the chain parameters if chainConfig is nil
	setupCtx context.Context

	// per provider request timeout
	timeout time.Duration
	// failed races retried before a watch session gives up
	retries        int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	threshold      int
	recoveryEvery  int
	fanout         int

	clock clock.Clock
	// prometheus is an interface to a Prometheus system
	prometheus prometheus.Registerer
}

func (c *clientConfig) tryPopulateInfo(ctx context.Context, transports ...drand.Transport) error {
	if c.chainConfig != nil {
		return nil
	}

	var errs *multierror.Error
	for _, t := range transports {
		src, ok := t.(InfoSource)
		if !ok {
			continue
		}
		info, err := src.Info(ctx)
		if err != nil {
			// we accumulate errors to try all transports even if the first one fails
			errs = multierror.Append(errs, err)
			continue
		}
		if !bytes.Equal(info.Hash(), c.chainHash) {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", t, drand.ErrInvalidChainHash))
			continue
		}
		c.chainConfig = info
		return nil
	}
	if errs == nil {
		return errors.New("no transport can serve chain info, use WithChainConfig")
	}
	return fmt.Errorf("fetching chain info: %w", errs)
}

// Option is an option configuring a client.
type Option func(cfg *clientConfig) error

// From constructs the client from a set of transports providing randomness
func From(t ...drand.Transport) Option {
	return func(cfg *clientConfig) error {
		cfg.transports = t
		return nil
	}
}

// InsecureSkipVerification turns beacon verification off. Emitted randomness
// is then only as trustworthy as the providers. Never use it in production.
func InsecureSkipVerification() Option {
	return func(cfg *clientConfig) error {
		cfg.insecure = true
		return nil
	}
}

// WithCacheSize specifies how large of a cache of randomness values should be
// kept locally. Default 32
func WithCacheSize(size int) Option {
	return func(cfg *clientConfig) error {
		if size < 0 {
			return errors.New("cache size cannot be negative")
		}
		cfg.cacheSize = size
		return nil
	}
}

// WithChainHash configures the client to root trust with a given randomness
// chain hash, the chain parameters will be fetched from the transports.
func WithChainHash(chainHash []byte) Option {
	return func(cfg *clientConfig) error {
		if len(chainHash) != chain.HashLen {
			return fmt.Errorf("%w: expected %d bytes, got %d", drand.ErrInvalidChainHash, chain.HashLen, len(chainHash))
		}
		if cfg.chainConfig != nil && !bytes.Equal(cfg.chainConfig.Hash(), chainHash) {
			return errors.New("refusing to override group with non-matching hash")
		}
		cfg.chainHash = chainHash
		return nil
	}
}

// WithChainConfig configures the client to root trust in the given chain
// parameters, this prevents the setup of the client from attempting to
// fetch them from the remotes.
func WithChainConfig(chainConfig *chain.Config) Option {
	return func(cfg *clientConfig) error {
		if chainConfig == nil {
			return errors.New("nil chain config")
		}
		if cfg.chainHash != nil && !bytes.Equal(cfg.chainHash, chainConfig.Hash()) {
			return errors.New("refusing to override hash with non-matching group")
		}
		cfg.chainConfig = chainConfig
		return nil
	}
}

// WithLogger overrides the logging options for the client,
// allowing specification of additional tags, or redirection / configuration
// of logging level and output. Transports that satisfy the
// drand.LoggingTransport interface log through it too.
func WithLogger(l log.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.log = l
		return nil
	}
}

// WithSetupCtx allows you to provide a custom setup context that will be used
// if WithChainConfig isn't used and the client setup has to try and fetch the
// chain parameters from the remotes.
func WithSetupCtx(ctx context.Context) Option {
	return func(cfg *clientConfig) error {
		cfg.setupCtx = ctx
		return nil
	}
}

// WithTrustedResult provides a checkpoint of randomness verified at a given
// round. Watch sessions resume right after it.
func WithTrustedResult(result drand.Result) Option {
	return func(cfg *clientConfig) error {
		if result == nil {
			return errors.New("trusted result cannot be nil")
		}
		if cfg.previousResult != nil && cfg.previousResult.GetRound() > result.GetRound() {
			return errors.New("refusing to override verified result with an earlier result")
		}
		cfg.previousResult = result
		return nil
	}
}

// WithRequestTimeout bounds each request sent to a provider. Default 5s.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithRetryBudget sets how many failed races in a row a watch session
// retries before it gives up. Default 8.
func WithRetryBudget(n int) Option {
	return func(cfg *clientConfig) error {
		if n <= 0 {
			return errors.New("retry budget must be positive")
		}
		cfg.retries = n
		return nil
	}
}

// WithBackoff sets the delay after a failed race, doubled on every further
// failure up to maxDelay. Default 1s up to 30s.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(cfg *clientConfig) error {
		if initial <= 0 || maxDelay < initial {
			return errors.New("invalid backoff bounds")
		}
		cfg.initialBackoff, cfg.maxBackoff = initial, maxDelay
		return nil
	}
}

// WithFailureThreshold sets after how many consecutive failures a provider is
// deprioritized. Default 3.
func WithFailureThreshold(n int) Option {
	return func(cfg *clientConfig) error {
		cfg.threshold = n
		return nil
	}
}

// WithProbeInterval makes every nth race include deprioritized providers.
// Default 5.
func WithProbeInterval(n int) Option {
	return func(cfg *clientConfig) error {
		cfg.recoveryEvery = n
		return nil
	}
}

// WithRaceFanout caps how many providers take part in each race.
func WithRaceFanout(n int) Option {
	return func(cfg *clientConfig) error {
		cfg.fanout = n
		return nil
	}
}

// WithClock replaces the clock used for scheduling. Meant for tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *clientConfig) error {
		cfg.clock = c
		return nil
	}
}

// WithPrometheus specifies a registry into which to report metrics
func WithPrometheus(r prometheus.Registerer) Option {
	return func(cfg *clientConfig) error {
		cfg.prometheus = r
		return nil
	}
}
