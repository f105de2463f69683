package client

import (
	"bytes"
	"testing"
	"time"

	"github.com/drand/drand/v2/common/log"
	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client/test/result/mock"
	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/drand"
)

const testGenesis = 1_700_000_000

func fixturesAt(t *testing.T, scheme string, n int) (*chain.Config, []mock.Result) {
	t.Helper()
	sch, err := crypto.GetSchemeByID(scheme)
	require.NoError(t, err)
	cfg, results := mock.VerifiableResultsAt(n, sch, testGenesis, 3*time.Second)
	return cfg, results
}

// farFuture is a time at which every fixture round is overdue.
func farFuture() clock.FakeClock {
	return clock.NewFakeClockAt(time.Unix(testGenesis, 0).Add(24 * time.Hour))
}

func newTestWatcher(t *testing.T, cfg *chain.Config, fc clock.Clock, wc WatcherConfig, budget int, transports ...drand.Transport) *Watcher {
	t.Helper()
	if wc.Logger == nil {
		wc.Logger = log.New(nil, log.DebugLevel, true)
	}
	return NewWatcher(newTestPoller(t, cfg, fc, budget, transports...), cfg, wc)
}

func nextUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "session ended early")
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
	}
	return Update{}
}

func requireClosed(t *testing.T, ch <-chan Update) {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.False(t, ok, "unexpected update %+v", u)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
}

// compareResults asserts that two results are the same.
func compareResults(t *testing.T, a, b drand.Result) {
	t.Helper()

	if a.GetRound() != b.GetRound() {
		t.Fatal("unexpected result round", a.GetRound(), b.GetRound())
	}
	if !bytes.Equal(a.GetRandomness(), b.GetRandomness()) {
		t.Fatal("unexpected result randomness", a.GetRandomness(), b.GetRandomness())
	}
}
