package client

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/drand/drand/v2/common/log"
	"github.com/hashicorp/go-multierror"
	clock "github.com/jonboulle/clockwork"

	"github.com/drand/drand-watch/drand"
	"github.com/drand/drand-watch/internal/metrics"
)

const (
	// DefaultFailureThreshold is the failure streak after which a provider
	// only takes part in recovery races.
	DefaultFailureThreshold = 3
	// DefaultProbeInterval makes every 5th race include unhealthy providers.
	DefaultProbeInterval = 5
)

// latencyWeight is the weight, in tenths, of a new sample in the latency estimate.
const latencyWeight = 3

// PoolConfig tunes how a Pool selects and scores its providers. Zero values
// select the defaults.
type PoolConfig struct {
	// FailureThreshold is the number of consecutive failures after which a
	// provider is deprioritized.
	FailureThreshold int
	// ProbeInterval makes every Nth race include deprioritized providers so
	// that a recovered one is noticed.
	ProbeInterval int
	// Fanout caps how many providers take part in a race. 0 races them all.
	Fanout int
	Clock  clock.Clock
	Logger log.Logger
}

// ProviderHealth is a snapshot of what a Pool knows about one provider.
type ProviderHealth struct {
	Provider            string
	Latency             time.Duration
	ConsecutiveFailures int
	Healthy             bool
}

type provider struct {
	t        drand.Transport
	name     string
	latency  time.Duration
	failures int
}

// Pool owns a set of transports and their health. Races on one pool may run
// concurrently; health updates are serialized.
type Pool struct {
	sync.Mutex
	providers     []*provider
	threshold     int
	recoveryEvery int
	fanout        int
	races         int

	clock clock.Clock
	log   log.Logger
}

// NewPool creates a pool racing the given transports.
func NewPool(transports []drand.Transport, cfg PoolConfig) (*Pool, error) {
	if len(transports) == 0 {
		return nil, drand.ErrNoProviders
	}
	if cfg.FailureThreshold < 0 || cfg.ProbeInterval < 0 || cfg.Fanout < 0 {
		return nil, errors.New("pool settings cannot be negative")
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.DefaultLogger()
	}

	p := &Pool{
		providers:     make([]*provider, 0, len(transports)),
		threshold:     cfg.FailureThreshold,
		recoveryEvery: cfg.ProbeInterval,
		fanout:        cfg.Fanout,
		clock:         cfg.Clock,
		log:           cfg.Logger.Named("pool"),
	}
	for _, t := range transports {
		if t == nil {
			return nil, errors.New("nil transport in pool")
		}
		trySetLog(t, cfg.Logger)
		p.providers = append(p.providers, &provider{t: t, name: t.String()})
	}
	return p, nil
}

func trySetLog(t any, l log.Logger) {
	if lt, ok := t.(drand.LoggingTransport); ok {
		lt.SetLog(l)
	}
}

// Transports returns the transports of the pool, in the order they were given.
func (p *Pool) Transports() []drand.Transport {
	out := make([]drand.Transport, len(p.providers))
	for i, pr := range p.providers {
		out[i] = pr.t
	}
	return out
}

// Health returns a snapshot of every provider's health.
func (p *Pool) Health() []ProviderHealth {
	p.Lock()
	defer p.Unlock()
	out := make([]ProviderHealth, len(p.providers))
	for i, pr := range p.providers {
		out[i] = ProviderHealth{
			Provider:            pr.name,
			Latency:             pr.latency,
			ConsecutiveFailures: pr.failures,
			Healthy:             pr.failures < p.threshold,
		}
	}
	return out
}

// entrants picks the providers of the next race, fastest first. Unhealthy
// providers only run on recovery races, or when nobody else is left.
func (p *Pool) entrants() []*provider {
	p.Lock()
	defer p.Unlock()

	p.races++
	recovery := p.races%p.recoveryEvery == 0

	picked := make([]*provider, 0, len(p.providers))
	for _, pr := range p.providers {
		if recovery || pr.failures < p.threshold {
			picked = append(picked, pr)
		}
	}
	if len(picked) == 0 {
		picked = append(picked, p.providers...)
	}

	sort.SliceStable(picked, func(i, j int) bool {
		hi, hj := picked[i].failures < p.threshold, picked[j].failures < p.threshold
		if hi != hj {
			return hi
		}
		return picked[i].latency < picked[j].latency
	})

	if !recovery && p.fanout > 0 && len(picked) > p.fanout {
		picked = picked[:p.fanout]
	}
	return picked
}

// outcome is how one entrant did in a race.
type outcome struct {
	took    time.Duration
	err     error
	aborted bool
}

// record folds the outcomes of a race into the providers' health. Entrants
// aborted by the race itself are left untouched.
func (p *Pool) record(entrants []*provider, outcomes []outcome) {
	p.Lock()
	defer p.Unlock()
	for i, pr := range entrants {
		o := outcomes[i]
		switch {
		case o.err == nil:
			pr.failures = 0
			if pr.latency == 0 {
				pr.latency = o.took
			} else {
				pr.latency = (pr.latency*(10-latencyWeight) + o.took*latencyWeight) / 10
			}
			metrics.ProviderLatency.WithLabelValues(pr.name).Set(pr.latency.Seconds())
		case o.aborted:
			continue
		default:
			pr.failures++
			if pr.failures == p.threshold {
				p.log.Warnw("", "pool", "provider deprioritized", "provider", pr.name, "failures", pr.failures, "err", o.err)
			}
		}
		metrics.ProviderConsecutiveFailures.WithLabelValues(pr.name).Set(float64(pr.failures))
	}
}

// Close closes every transport that can be closed.
func (p *Pool) Close() error {
	var errs *multierror.Error
	for _, pr := range p.providers {
		if c, ok := pr.t.(io.Closer); ok {
			errs = multierror.Append(errs, c.Close())
		}
	}
	return errs.ErrorOrNil()
}
