package client

import (
	"context"
	"sync"

	"github.com/drand/drand/v2/common/log"
	"github.com/google/uuid"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/drand"
	"github.com/drand/drand-watch/internal/metrics"
)

// Update is one item of a watch session: either a verified beacon, or the
// *drand.WatchError that ended the session.
type Update struct {
	Result drand.Result
	Err    error
}

// WatcherConfig tunes a Watcher.
type WatcherConfig struct {
	// Trusted is a beacon verified earlier. A session resumes right after it.
	Trusted drand.Result
	// Insecure disables verification. Beacons are emitted unchecked.
	Insecure bool
	// Cache receives every emitted beacon. May be nil.
	Cache  Cache
	Logger log.Logger
}

// Watcher runs one watch session over a Poller. It cannot be restarted: once
// its session ends or is stopped, a new Watcher is needed.
type Watcher struct {
	poller   *Poller
	chain    *chain.Config
	trusted  drand.Result
	insecure bool
	cache    Cache
	log      log.Logger

	mu      sync.Mutex
	used    bool
	stopped bool
	done    bool
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher emitting the beacons of cfg fetched by poller.
func NewWatcher(poller *Poller, cfg *chain.Config, wc WatcherConfig) *Watcher {
	if wc.Logger == nil {
		wc.Logger = log.DefaultLogger()
	}
	if wc.Cache == nil {
		wc.Cache = nullCache{}
	}
	w := &Watcher{
		poller:   poller,
		chain:    cfg,
		trusted:  wc.Trusted,
		insecure: wc.Insecure,
		cache:    wc.Cache,
		log:      wc.Logger.Named("watcher"),
	}
	if w.insecure {
		w.log.Warnw("", "watcher", "beacon verification is disabled, emitted randomness is NOT checked")
	}
	return w
}

// Watch starts the session. Verified beacons are sent on the returned channel
// in strictly increasing, gapless round order. The channel is closed when the
// session ends: after a *drand.WatchError update, or silently once ctx is
// done or Stop is called. A second call returns drand.ErrSessionEnded.
func (w *Watcher) Watch(ctx context.Context) (<-chan Update, error) {
	w.mu.Lock()
	if w.used || w.stopped {
		w.mu.Unlock()
		return nil, drand.ErrSessionEnded
	}
	w.used = true
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	out := make(chan Update)
	l := w.log.With("session", uuid.NewString())
	go w.run(ctx, cancel, out, l)
	return out, nil
}

// Stop ends the session, aborting any request in flight. It is safe to call
// more than once and from any goroutine.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
}

// ended reports whether the session has finished.
func (w *Watcher) ended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done || w.stopped
}

func (w *Watcher) run(ctx context.Context, cancel context.CancelFunc, out chan<- Update, l log.Logger) {
	defer close(out)
	defer func() {
		cancel()
		w.mu.Lock()
		w.done = true
		w.mu.Unlock()
	}()

	if w.insecure {
		l.Warnw("", "watcher", "session started without beacon verification")
	}
	l.Debugw("", "watcher", "session started", "chain", w.chain.HashString())

	prior := w.trusted
	var next uint64
	for {
		var res drand.Result
		var err error
		if next == 0 {
			res, err = w.poller.FetchLatest(ctx)
		} else {
			res, err = w.poller.FetchNext(ctx, next)
		}
		if err != nil {
			if ctx.Err() != nil {
				l.Debugw("", "watcher", "session stopped", "next", next)
				return
			}
			l.Errorw("", "watcher", "providers unreachable", "round", next, "err", err)
			w.emit(ctx, out, Update{Err: &drand.WatchError{Round: next, Kind: drand.ErrRetriesExhausted, Err: err}})
			return
		}

		if next == 0 {
			var resume uint64
			res, prior, resume = w.start(res, prior)
			if res == nil {
				next = resume
				l.Debugw("", "watcher", "resuming after checkpoint", "next", next)
				continue
			}
		}

		if err := w.verify(res, prior); err != nil {
			metrics.VerificationFailures.Inc()
			l.Errorw("", "watcher", "beacon failed verification", "round", res.GetRound(), "err", err)
			w.emit(ctx, out, Update{Err: &drand.WatchError{Round: res.GetRound(), Kind: drand.ErrInvalid, Err: err}})
			return
		}

		if !w.emit(ctx, out, Update{Result: res}) {
			l.Debugw("", "watcher", "session stopped", "next", res.GetRound())
			return
		}
		w.cache.Add(res.GetRound(), res)
		metrics.LatestRound.Set(float64(res.GetRound()))

		prior = res
		next = res.GetRound() + 1
	}
}

// start decides what the first latest beacon of a session is checked against.
// A nil beacon means it must not be emitted and the session resumes at the
// returned round instead.
func (w *Watcher) start(latest, trusted drand.Result) (drand.Result, drand.Result, uint64) {
	if trusted == nil {
		if w.chain.Scheme().Chained {
			return latest, chain.Anchor(latest), 0
		}
		return latest, nil, 0
	}

	after := trusted.GetRound() + 1
	switch {
	case latest.GetRound() < after:
		return nil, trusted, after
	case latest.GetRound() == after || !w.chain.Scheme().Chained:
		return latest, trusted, 0
	default:
		// catch up round by round so every link is checked
		return nil, trusted, after
	}
}

func (w *Watcher) verify(b, prior drand.Result) error {
	if w.insecure {
		return nil
	}
	return chain.Verify(b, prior, w.chain)
}

func (w *Watcher) emit(ctx context.Context, out chan<- Update, u Update) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
