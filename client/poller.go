package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/drand/drand/v2/common/log"
	clock "github.com/jonboulle/clockwork"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/drand"
)

const (
	// DefaultRequestTimeout bounds each provider request of a race.
	DefaultRequestTimeout = 5 * time.Second
	// DefaultRetryBudget is how many failed races in a row a poller retries.
	DefaultRetryBudget = 8
	// DefaultInitialBackoff is the delay after the first failed race.
	DefaultInitialBackoff = time.Second
	// DefaultMaxBackoff caps the delay between two races for the same round.
	DefaultMaxBackoff = 30 * time.Second
	// MaxClockSkew is how far ahead of the local clock a latest round may be.
	MaxClockSkew = time.Minute
)

var errPollerStopped = errors.New("poller stopped")

// PollerState is the state of a Poller.
type PollerState int32

const (
	StateIdle PollerState = iota
	StateWaiting
	StateFetching
	StateBackoff
	StateStopped
)

func (s PollerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateFetching:
		return "fetching"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("PollerState(%d)", int32(s))
	}
}

// NewBackoff returns the poller backoff schedule: initial, doubling, capped at
// maxDelay, without jitter and without giving up on its own.
func NewBackoff(initial, maxDelay time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.MaxInterval = maxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// PollerConfig tunes a Poller. Zero values select the defaults.
type PollerConfig struct {
	Timeout     time.Duration
	RetryBudget int
	Backoff     backoff.BackOff
	Clock       clock.Clock
	Logger      log.Logger
}

// Poller fetches rounds of a chain once they are due, racing the providers of
// a pool and retrying failed races with backoff. A Poller is driven by a
// single goroutine; State may be read from any.
//
// Once its context is cancelled a Poller is stopped for good.
type Poller struct {
	pool    *Pool
	chain   *chain.Config
	timeout time.Duration
	retries int
	backoff backoff.BackOff
	clock   clock.Clock
	log     log.Logger

	state atomic.Int32
}

// NewPoller creates a poller for the chain cfg over pool.
func NewPoller(pool *Pool, cfg *chain.Config, pc PollerConfig) *Poller {
	if pc.Timeout <= 0 {
		pc.Timeout = DefaultRequestTimeout
	}
	if pc.RetryBudget <= 0 {
		pc.RetryBudget = DefaultRetryBudget
	}
	if pc.Backoff == nil {
		pc.Backoff = NewBackoff(DefaultInitialBackoff, DefaultMaxBackoff)
	}
	if pc.Clock == nil {
		pc.Clock = clock.NewRealClock()
	}
	if pc.Logger == nil {
		pc.Logger = log.DefaultLogger()
	}
	return &Poller{
		pool:    pool,
		chain:   cfg,
		timeout: pc.Timeout,
		retries: pc.RetryBudget,
		backoff: pc.Backoff,
		clock:   pc.Clock,
		log:     pc.Logger.Named("poller"),
	}
}

// State returns the current state.
func (p *Poller) State() PollerState {
	return PollerState(p.state.Load())
}

func (p *Poller) setState(s PollerState) {
	// Stopped is terminal
	for {
		cur := p.state.Load()
		if PollerState(cur) == StateStopped || p.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// WakeTime is when round is requested: once its whole period has elapsed.
func (p *Poller) WakeTime(round uint64) time.Time {
	return p.chain.TimeOfRound(round + 1)
}

// FetchLatest races the providers for their latest beacon right away.
func (p *Poller) FetchLatest(ctx context.Context) (drand.Result, error) {
	return p.fetch(ctx, drand.LatestRound)
}

// FetchNext waits until round is due, then fetches it. If the wake time has
// already passed it fetches immediately. Failed races are retried for the
// same round until the retry budget is spent, in which case the error wraps
// drand.ErrRetriesExhausted. If ctx ends, the poller stops and ctx.Err() is
// returned.
func (p *Poller) FetchNext(ctx context.Context, round uint64) (drand.Result, error) {
	if round == drand.LatestRound {
		return nil, errors.New("FetchNext needs a specific round")
	}
	if err := p.sleepUntil(ctx, p.WakeTime(round), StateWaiting); err != nil {
		return nil, err
	}
	return p.fetch(ctx, round)
}

// sleepUntil suspends in state s until t. It returns at once if t is past.
func (p *Poller) sleepUntil(ctx context.Context, t time.Time, s PollerState) error {
	if p.State() == StateStopped {
		return errPollerStopped
	}
	if err := ctx.Err(); err != nil {
		p.setState(StateStopped)
		return err
	}
	d := t.Sub(p.clock.Now())
	if d <= 0 {
		return nil
	}
	p.setState(s)

	timer := p.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		p.setState(StateStopped)
		return ctx.Err()
	}
}

func (p *Poller) fetch(ctx context.Context, round uint64) (drand.Result, error) {
	if p.State() == StateStopped {
		return nil, errPollerStopped
	}

	for attempt := 1; ; attempt++ {
		p.setState(StateFetching)
		res, err := p.pool.RaceFetch(ctx, round, p.timeout)
		if err == nil && round == drand.LatestRound {
			err = p.checkNotAhead(res)
		}
		if err == nil {
			p.backoff.Reset()
			p.setState(StateIdle)
			return res, nil
		}
		if ctx.Err() != nil {
			p.setState(StateStopped)
			return nil, ctx.Err()
		}

		delay := p.backoff.NextBackOff()
		if attempt > p.retries || delay == backoff.Stop {
			p.backoff.Reset()
			p.setState(StateIdle)
			return nil, fmt.Errorf("%w: round %d after %d attempts: %w", drand.ErrRetriesExhausted, round, attempt, err)
		}

		p.log.Debugw("", "poller", "race failed, backing off", "round", round, "attempt", attempt, "delay", delay, "err", err)
		if err := p.sleepUntil(ctx, p.clock.Now().Add(delay), StateBackoff); err != nil {
			return nil, err
		}
	}
}

// checkNotAhead rejects a latest round that is not due yet, so a lying
// provider cannot push the schedule past the end of the chain.
func (p *Poller) checkNotAhead(res drand.Result) error {
	bound := p.chain.RoundAt(p.clock.Now().Add(MaxClockSkew))
	if res.GetRound() > bound {
		return fmt.Errorf("%w: latest round %d, expected at most %d", drand.ErrFutureRound, res.GetRound(), bound)
	}
	return nil
}
