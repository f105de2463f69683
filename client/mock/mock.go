package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drand/drand-watch/client/test/result/mock"
	"github.com/drand/drand-watch/drand"
)

// Transport provides a mocked provider.
//
//nolint:gocritic
type Transport struct {
	sync.Mutex
	Name    string
	Results []mock.Result
	// Latest is the round served for drand.LatestRound. When zero, the
	// highest round of Results is used.
	Latest uint64
	// Err, when set, is returned by every fetch.
	Err error
	// FailFirst makes the first n fetches fail as unreachable.
	FailFirst int
	// Delay causes results to be delivered after this period of time has
	// passed, unless the context is done first.
	Delay time.Duration
	// FetchF, when set, replaces the lookup in Results.
	FetchF func(ctx context.Context, round uint64) (drand.Result, error)

	calls     int
	cancelled int
}

func (m *Transport) String() string {
	if m.Name != "" {
		return m.Name
	}
	return "Mock"
}

// Fetch returns the result at round, the latest one for round 0, or an error.
func (m *Transport) Fetch(ctx context.Context, round uint64) (drand.Result, error) {
	m.Lock()
	m.calls++
	fail := m.FailFirst > 0
	if fail {
		m.FailFirst--
	}
	delay, fetchF, err := m.Delay, m.FetchF, m.Err
	m.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			m.Lock()
			m.cancelled++
			m.Unlock()
			return nil, m.unreachable(ctx.Err())
		}
	}

	if fetchF != nil {
		return fetchF(ctx, round)
	}
	if err != nil {
		return nil, err
	}
	if fail {
		return nil, m.unreachable(errors.New("scripted failure"))
	}

	m.Lock()
	defer m.Unlock()
	if round == drand.LatestRound {
		round = m.latest()
	}
	for i := range m.Results {
		if m.Results[i].Rnd == round {
			r := m.Results[i]
			return &r, nil
		}
	}
	return nil, m.unreachable(fmt.Errorf("round %d not found", round))
}

// SetErr changes the error returned by every fetch. nil restores normal service.
func (m *Transport) SetErr(err error) {
	m.Lock()
	m.Err = err
	m.Unlock()
}

func (m *Transport) latest() uint64 {
	if m.Latest != 0 {
		return m.Latest
	}
	var hi uint64
	for i := range m.Results {
		if m.Results[i].Rnd > hi {
			hi = m.Results[i].Rnd
		}
	}
	return hi
}

// SetLatest changes the round served for drand.LatestRound.
func (m *Transport) SetLatest(round uint64) {
	m.Lock()
	m.Latest = round
	m.Unlock()
}

// Calls counts the fetches started so far.
func (m *Transport) Calls() int {
	m.Lock()
	defer m.Unlock()
	return m.calls
}

// Cancelled counts the fetches abandoned because their context ended.
func (m *Transport) Cancelled() int {
	m.Lock()
	defer m.Unlock()
	return m.cancelled
}

func (m *Transport) unreachable(err error) error {
	return &drand.TransportError{Provider: m.String(), Kind: drand.ErrUnreachable, Err: err}
}

// TransportWithResults returns a transport serving rounds n to m-1 as mock results.
func TransportWithResults(n, m uint64) *Transport {
	t := new(Transport)
	for i := n; i < m; i++ {
		t.Results = append(t.Results, mock.NewMockResult(i))
	}
	return t
}

// Unreachable returns a transport on which every fetch fails.
func Unreachable(name string) *Transport {
	t := &Transport{Name: name}
	t.Err = t.unreachable(errors.New("connection refused"))
	return t
}
