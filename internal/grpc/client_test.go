package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drand/drand/v2/common/log"
	"github.com/stretchr/testify/require"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	"github.com/drand/drand-watch/client/test/result/mock"
	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/drand"
	grpcmock "github.com/drand/drand-watch/internal/grpc/mock"
)

func fixtures(t *testing.T, scheme string, n int) (*chain.Config, []mock.Result) {
	t.Helper()
	sch, err := crypto.GetSchemeByID(scheme)
	require.NoError(t, err)
	return mock.VerifiableResults(n, sch)
}

func newTestClient(t *testing.T, addr string, hash []byte) *Client {
	t.Helper()
	c, err := New(addr, true, hash)
	require.NoError(t, err)
	c.SetLog(log.New(nil, log.DebugLevel, true))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCClientFetch(t *testing.T) {
	for _, scheme := range []string{crypto.DefaultSchemeID, crypto.SigsOnG1ID} {
		scheme := scheme
		t.Run(scheme, func(t *testing.T) {
			cfg, results := fixtures(t, scheme, 5)
			srv := grpcmock.NewMockGRPCPublicServer(t, cfg, results)
			c := newTestClient(t, srv.Addr(), cfg.Hash())

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			r, err := c.Fetch(ctx, 3)
			require.NoError(t, err)
			require.Equal(t, uint64(3), r.GetRound())
			require.Equal(t, results[2].Sig, r.GetSignature())
			require.Equal(t, results[2].PSig, r.GetPreviousSignature())

			var prior drand.Result
			if cfg.Scheme().Chained {
				prior = &results[1]
			}
			require.NoError(t, chain.Verify(r, prior, cfg))

			srv.SetLatest(4)
			r, err = c.Fetch(ctx, drand.LatestRound)
			require.NoError(t, err)
			require.Equal(t, uint64(4), r.GetRound())
		})
	}
}

func TestGRPCClientErrors(t *testing.T) {
	cfg, results := fixtures(t, crypto.SigsOnG1ID, 2)
	srv := grpcmock.NewMockGRPCPublicServer(t, cfg, results)
	c := newTestClient(t, srv.Addr(), cfg.Hash())
	ctx := context.Background()

	_, err := c.Fetch(ctx, 9)
	require.ErrorIs(t, err, drand.ErrUnreachable)
	var terr *drand.TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, c.String(), terr.Provider)

	srv.SetFailing(true)
	_, err = c.Fetch(ctx, 1)
	require.ErrorIs(t, err, drand.ErrUnreachable)
	srv.SetFailing(false)

	srv.SetDelay(time.Second)
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(short, 1)
	require.ErrorIs(t, err, drand.ErrUnreachable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	aborted, abort := context.WithCancel(ctx)
	go func() {
		time.Sleep(50 * time.Millisecond)
		abort()
	}()
	_, err = c.Fetch(aborted, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGRPCClientWrongChain(t *testing.T) {
	cfg, results := fixtures(t, crypto.SigsOnG1ID, 2)
	other, _ := fixtures(t, crypto.SigsOnG1ID, 1)
	srv := grpcmock.NewMockGRPCPublicServer(t, cfg, results)
	c := newTestClient(t, srv.Addr(), other.Hash())

	_, err := c.Fetch(context.Background(), 1)
	require.ErrorIs(t, err, drand.ErrUnreachable)
	_, err = c.Info(context.Background())
	require.Error(t, err)
}

func TestGRPCClientInfo(t *testing.T) {
	cfg, results := fixtures(t, crypto.DefaultSchemeID, 2)
	srv := grpcmock.NewMockGRPCPublicServer(t, cfg, results)
	c := newTestClient(t, srv.Addr(), cfg.Hash())

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, cfg.Params(), info.Params())
}

func TestGRPCClientNew(t *testing.T) {
	_, err := New("127.0.0.1:1", true, []byte{1, 2})
	require.ErrorIs(t, err, drand.ErrInvalidChainHash)

	cfg, _ := fixtures(t, crypto.SigsOnG1ID, 1)
	transports := ForAddresses(nil, []string{"127.0.0.1:1", "127.0.0.1:2"}, true, cfg.Hash())
	require.Len(t, transports, 2)
	require.Equal(t, `GRPC("127.0.0.1:1")`, transports[0].String())
	for _, tr := range transports {
		require.NoError(t, tr.(*Client).Close())
	}
}

func TestGRPCTransportRacesWithClient(t *testing.T) {
	cfg, results := fixtures(t, crypto.DefaultSchemeID, 6)
	up := grpcmock.NewMockGRPCPublicServer(t, cfg, results)
	down := grpcmock.NewMockGRPCPublicServer(t, cfg, results)
	down.SetFailing(true)

	c, err := client.New(
		client.From(ForAddresses(log.New(nil, log.DebugLevel, true), []string{down.Addr(), up.Addr()}, true, cfg.Hash())...),
		client.WithChainHash(cfg.Hash()),
	)
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, cfg.Params(), c.Info().Params())

	r, err := c.Get(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, results[4].Rand, r.GetRandomness())

	up.SetFailing(true)
	_, err = c.Get(context.Background(), 6)
	require.True(t, errors.Is(err, drand.ErrAllFailed), err)
}
