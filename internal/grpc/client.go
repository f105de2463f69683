package grpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/drand/drand/v2/common/log"
	proto "github.com/drand/drand/v2/protobuf/drand"
	grpcProm "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	grpcInsec "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	"github.com/drand/drand-watch/drand"
)

// Client fetches beacons of one chain from a drand node over its public gRPC API.
type Client struct {
	address   string
	chainHash []byte
	client    proto.PublicClient
	conn      *grpc.ClientConn
	l         log.Logger
}

// New creates a transport for the node at address serving the chain
// identified by chainHash. The connection is established lazily.
func New(address string, insecure bool, chainHash []byte) (*Client, error) {
	if len(chainHash) != chain.HashLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", drand.ErrInvalidChainHash, chain.HashLen, len(chainHash))
	}

	var opts []grpc.DialOption
	if insecure {
		opts = append(opts, grpc.WithTransportCredentials(grpcInsec.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}
	opts = append(opts,
		grpc.WithChainUnaryInterceptor(otelgrpc.UnaryClientInterceptor(), grpcProm.UnaryClientInterceptor),
		grpc.WithChainStreamInterceptor(otelgrpc.StreamClientInterceptor(), grpcProm.StreamClientInterceptor),
	)
	conn, err := grpc.Dial(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}

	return &Client{
		address:   address,
		chainHash: bytes.Clone(chainHash),
		client:    proto.NewPublicClient(conn),
		conn:      conn,
		l:         log.DefaultLogger().Named("grpc_client"),
	}, nil
}

// ForAddresses creates a transport per address, skipping the ones that cannot be used.
func ForAddresses(l log.Logger, addresses []string, insecure bool, chainHash []byte) []drand.Transport {
	if l == nil {
		l = log.DefaultLogger()
	}
	transports := make([]drand.Transport, 0, len(addresses))
	for _, a := range addresses {
		c, err := New(a, insecure, chainHash)
		if err != nil {
			l.Warnw("", "grpc_client", "failed to load address", "address", a, "err", err)
			continue
		}
		c.SetLog(l)
		transports = append(transports, c)
	}
	return transports
}

func asRD(r *proto.PublicRandResponse) *client.RandomData {
	return &client.RandomData{
		Rnd:               r.GetRound(),
		Random:            r.GetRandomness(),
		Sig:               r.GetSignature(),
		PreviousSignature: r.GetPreviousSignature(),
	}
}

// String returns the name of this client.
func (g *Client) String() string {
	return fmt.Sprintf("GRPC(%q)", g.address)
}

// SetLog configures the client log output
func (g *Client) SetLog(l log.Logger) {
	g.l = l.Named("grpc_client")
}

// Fetch returns the beacon at round, or the latest one for round 0. The
// result is decoded but not verified.
func (g *Client) Fetch(ctx context.Context, round uint64) (drand.Result, error) {
	start := time.Now()
	curr, err := g.client.PublicRand(ctx, &proto.PublicRandRequest{Round: round, Metadata: g.getMetadata()})
	if err != nil {
		return nil, g.fail(ctx, err)
	}
	switch {
	case curr == nil:
		return nil, g.decode(errors.New("no received randomness - unexpected gRPC response"))
	case curr.GetRound() == 0:
		return nil, g.decode(errors.New("missing round"))
	case len(curr.GetSignature()) == 0:
		return nil, g.decode(errors.New("missing signature"))
	case len(curr.GetRandomness()) == 0:
		return nil, g.decode(errors.New("missing randomness"))
	}

	g.l.Debugw("", "grpc_client", "fetched", "round", curr.GetRound(), "requested", round, "took", time.Since(start))
	return asRD(curr), nil
}

// Info returns information about the chain. It fails if the node serves a
// chain with another hash.
func (g *Client) Info(ctx context.Context) (*chain.Config, error) {
	p, err := g.client.ChainInfo(ctx, &proto.ChainInfoRequest{Metadata: g.getMetadata()})
	if err != nil {
		return nil, g.fail(ctx, err)
	}
	if p == nil {
		return nil, g.decode(errors.New("no received group - unexpected gRPC response"))
	}
	cfg, err := chain.FromInfo(chain.Params{
		Hash:        p.GetHash(),
		PublicKey:   p.GetPublicKey(),
		GenesisTime: p.GetGenesisTime(),
		Period:      time.Duration(p.GetPeriod()) * time.Second,
		Scheme:      p.GetSchemeID(),
		GenesisSeed: p.GetGroupHash(),
		BeaconID:    p.GetMetadata().GetBeaconID(),
	})
	if err != nil {
		return nil, g.decode(err)
	}
	if !bytes.Equal(cfg.Hash(), g.chainHash) {
		return nil, fmt.Errorf("%w: %s served %s", drand.ErrInvalidChainHash, g.address, cfg.HashString())
	}
	return cfg, nil
}

func (g *Client) getMetadata() *proto.Metadata {
	return &proto.Metadata{ChainHash: g.chainHash}
}

// fail classifies an RPC error. Only an explicitly malformed answer is a
// decode error; everything else means the node could not serve us. Status
// errors do not wrap the context error, so it is added back when ctx ended.
func (g *Client) fail(ctx context.Context, err error) error {
	if status.Code(err) == codes.DataLoss {
		return g.decode(err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return &drand.TransportError{Provider: g.String(), Kind: drand.ErrUnreachable, Err: err}
}

func (g *Client) decode(err error) error {
	return &drand.TransportError{Provider: g.String(), Kind: drand.ErrDecode, Err: err}
}

// Close tears down the gRPC connection and all underlying connections.
func (g *Client) Close() error {
	return g.conn.Close()
}
