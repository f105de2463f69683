package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/drand/drand-watch/drand"
	"github.com/drand/drand-watch/internal/metrics"
)

var tracer = otel.Tracer("github.com/drand/drand-watch/client")

// RaceFetch asks the pool's providers for round concurrently, each bounded by
// timeout, and returns the first answer. The other requests are cancelled as
// soon as a winner is known, and all of them have returned when RaceFetch
// does. If every provider fails, the error is a *drand.RaceError carrying one
// cause per entrant. If ctx ends first, ctx.Err() is returned.
//
// An answer to a specific round that carries another round counts as a
// malformed response. The result is not verified.
func (p *Pool) RaceFetch(ctx context.Context, round uint64, timeout time.Duration) (drand.Result, error) {
	ctx, span := tracer.Start(ctx, "client.RaceFetch", trace.WithAttributes(
		attribute.Int64("round", int64(round)),
	))
	defer span.End()

	entrants := p.entrants()
	span.SetAttributes(attribute.Int("entrants", len(entrants)))

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := p.clock.Now()
	won := make(chan drand.Result, 1)
	winner := -1
	outcomes := make([]outcome, len(entrants))

	var g errgroup.Group
	for i, e := range entrants {
		i, e := i, e
		g.Go(func() error {
			fetchCtx, fetchCancel := context.WithTimeout(raceCtx, timeout)
			defer fetchCancel()

			t0 := p.clock.Now()
			res, err := e.t.Fetch(fetchCtx, round)
			if err == nil && round != drand.LatestRound && res.GetRound() != round {
				err = &drand.TransportError{
					Provider: e.name,
					Kind:     drand.ErrDecode,
					Err:      fmt.Errorf("asked for round %d, got %d", round, res.GetRound()),
				}
			}
			// failures once the caller gave up, or once a winner cancelled the
			// rest, say nothing about the provider
			aborted := err != nil && (ctx.Err() != nil || raceCtx.Err() != nil && errors.Is(err, context.Canceled))
			outcomes[i] = outcome{took: p.clock.Since(t0), err: err, aborted: aborted}
			if err != nil {
				return nil
			}

			select {
			case won <- res:
				winner = i
				cancel()
			default:
			}
			return nil
		})
	}
	_ = g.Wait()

	p.record(entrants, outcomes)

	select {
	case res := <-won:
		name := entrants[winner].name
		p.log.Debugw("", "race", "winner", "provider", name, "round", res.GetRound(), "entrants", len(entrants))
		metrics.RaceWins.WithLabelValues(name).Inc()
		metrics.RaceDuration.WithLabelValues("won").Observe(p.clock.Since(start).Seconds())
		span.SetAttributes(attribute.String("winner", name))
		return res, nil
	default:
	}

	if err := ctx.Err(); err != nil {
		metrics.RaceDuration.WithLabelValues("cancelled").Observe(p.clock.Since(start).Seconds())
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	var causes *multierror.Error
	for _, o := range outcomes {
		causes = multierror.Append(causes, o.err)
	}
	err := &drand.RaceError{Round: round, Causes: causes.ErrorOrNil()}
	p.log.Debugw("", "race", "all providers failed", "round", round, "err", err)
	metrics.RaceDuration.WithLabelValues("failed").Observe(p.clock.Since(start).Seconds())
	span.RecordError(err)
	span.SetStatus(codes.Error, "all providers failed")
	return nil, err
}
