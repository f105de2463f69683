package http

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drand/drand/v2/common/testlogger"
	"github.com/stretchr/testify/require"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	"github.com/drand/drand-watch/client/test/http/mock"
	resultmock "github.com/drand/drand-watch/client/test/result/mock"
	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/drand"
)

func withServer(t *testing.T, scheme string) (*mock.Server, *chain.Config, []resultmock.Result) {
	t.Helper()
	sch, err := crypto.GetSchemeByID(scheme)
	require.NoError(t, err)
	cfg, results := resultmock.VerifiableResults(10, sch)
	return mock.NewMockHTTPPublicServer(t, cfg, results), cfg, results
}

func TestHTTPClient(t *testing.T) {
	srv, cfg, results := withServer(t, crypto.DefaultSchemeID)

	httpClient, err := New(testlogger.New(t), srv.URL(), cfg.Hash(), nil)
	require.NoError(t, err)
	defer httpClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := httpClient.Fetch(ctx, 4)
	require.NoError(t, err)
	full, ok := result.(*client.RandomData)
	require.True(t, ok, "should be able to restore concrete type")
	require.Equal(t, uint64(4), full.Rnd)
	require.Equal(t, results[3].Sig, full.Sig)
	require.Equal(t, results[3].Rand, full.Random)
	require.Equal(t, results[3].PSig, full.PreviousSignature)

	// decoded data is good enough to verify
	require.NoError(t, chain.Verify(full, &results[2], cfg))
}

func TestHTTPGetLatest(t *testing.T) {
	srv, cfg, _ := withServer(t, crypto.SigsOnG1ID)

	httpClient, err := New(testlogger.New(t), srv.URL()+"/", cfg.Hash(), nil)
	require.NoError(t, err)
	defer httpClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r0, err := httpClient.Fetch(ctx, drand.LatestRound)
	require.NoError(t, err)
	require.Equal(t, uint64(10), r0.GetRound())
	require.Empty(t, r0.GetPreviousSignature())

	srv.SetLatest(7)
	r1, err := httpClient.Fetch(ctx, drand.LatestRound)
	require.NoError(t, err)
	require.Equal(t, uint64(7), r1.GetRound())
}

func TestHTTPTransportErrors(t *testing.T) {
	srv, cfg, _ := withServer(t, crypto.SigsOnG1ID)
	httpClient, err := New(testlogger.New(t), srv.URL(), cfg.Hash(), nil)
	require.NoError(t, err)
	defer httpClient.Close()

	ctx := context.Background()

	// unknown round
	_, err = httpClient.Fetch(ctx, 1000)
	require.ErrorIs(t, err, drand.ErrUnreachable)

	srv.SetMalformed(true)
	_, err = httpClient.Fetch(ctx, 3)
	require.ErrorIs(t, err, drand.ErrDecode)
	var terr *drand.TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, httpClient.String(), terr.Provider)
	srv.SetMalformed(false)

	srv.SetFailing(true)
	_, err = httpClient.Fetch(ctx, 3)
	require.ErrorIs(t, err, drand.ErrUnreachable)
	srv.SetFailing(false)

	srv.SetDelay(time.Second)
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = httpClient.Fetch(short, 3)
	require.ErrorIs(t, err, drand.ErrUnreachable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPWrongChain(t *testing.T) {
	srv, _, _ := withServer(t, crypto.SigsOnG1ID)

	otherCfg, _ := resultmock.VerifiableResults(1, mustScheme(t, crypto.SigsOnG1ID))
	httpClient, err := New(testlogger.New(t), srv.URL(), otherCfg.Hash(), nil)
	require.NoError(t, err)

	_, err = httpClient.Fetch(context.Background(), 1)
	require.ErrorIs(t, err, drand.ErrUnreachable)
}

func TestHTTPInfo(t *testing.T) {
	srv, cfg, _ := withServer(t, crypto.DefaultSchemeID)
	httpClient, err := New(testlogger.New(t), srv.URL(), cfg.Hash(), nil)
	require.NoError(t, err)

	info, err := httpClient.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, cfg.Params(), info.Params())
}

func TestNewValidation(t *testing.T) {
	l := testlogger.New(t)
	_, err := New(l, "http://example.com", []byte{1, 2, 3}, nil)
	require.ErrorIs(t, err, drand.ErrInvalidChainHash)

	hash := make([]byte, chain.HashLen)
	_, err = New(l, "ftp://example.com", hash, nil)
	require.Error(t, err)
	_, err = New(l, "://nope", hash, nil)
	require.Error(t, err)
}

func TestForURLsCreation(t *testing.T) {
	hash := make([]byte, chain.HashLen)
	transports := ForURLs(testlogger.New(t), []string{"http://invalid.domain/", "gopher://x", "https://api.drand.sh"}, hash)
	require.Len(t, transports, 2)
}

func TestHTTPClientClose(t *testing.T) {
	srv, cfg, _ := withServer(t, crypto.SigsOnG1ID)
	httpClient, err := New(testlogger.New(t), srv.URL(), cfg.Hash(), nil)
	require.NoError(t, err)

	_, err = httpClient.Fetch(context.Background(), 2)
	require.NoError(t, err)

	require.NoError(t, httpClient.Close())
	require.NoError(t, httpClient.Close())

	_, err = httpClient.Fetch(context.Background(), 2)
	if !errors.Is(err, errClientClosed) {
		t.Fatal("unexpected error from closed client", err)
	}
	require.ErrorIs(t, err, drand.ErrUnreachable)
}

func mustScheme(t *testing.T, id string) *crypto.Scheme {
	t.Helper()
	sch, err := crypto.GetSchemeByID(id)
	require.NoError(t, err)
	return sch
}
