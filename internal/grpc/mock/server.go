// Package mock runs an in-process drand node speaking the public gRPC API.
package mock

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	proto "github.com/drand/drand/v2/protobuf/drand"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcrecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client/test/result/mock"
)

// Server serves a fixed set of results for one chain.
type Server struct {
	proto.UnimplementedPublicServer

	mu       sync.Mutex
	cfg      *chain.Config
	results  map[uint64]mock.Result
	latest   uint64
	failing  bool
	delay    time.Duration
	requests int

	grpcServer *grpc.Server
	lis        net.Listener
}

// NewMockGRPCPublicServer starts a node for cfg serving results on a local
// port. The latest round starts at the highest result. It is stopped with the test.
func NewMockGRPCPublicServer(t *testing.T, cfg *chain.Config, results []mock.Result) *Server {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &Server{
		cfg:     cfg,
		results: make(map[uint64]mock.Result, len(results)),
		lis:     lis,
	}
	for _, r := range results {
		s.results[r.Rnd] = r
		if r.Rnd > s.latest {
			s.latest = r.Rnd
		}
	}

	s.grpcServer = grpc.NewServer(
		grpc.StreamInterceptor(
			grpcmiddleware.ChainStreamServer(
				otelgrpc.StreamServerInterceptor(),
				grpcprometheus.StreamServerInterceptor,
				grpcrecovery.StreamServerInterceptor(),
			),
		),
		grpc.UnaryInterceptor(
			grpcmiddleware.ChainUnaryServer(
				otelgrpc.UnaryServerInterceptor(),
				grpcprometheus.UnaryServerInterceptor,
				grpcrecovery.UnaryServerInterceptor(),
			),
		),
	)
	proto.RegisterPublicServer(s.grpcServer, s)
	go func() {
		_ = s.grpcServer.Serve(lis)
	}()

	t.Cleanup(s.Stop)
	return s
}

// Addr is the address the node listens on.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// Stop shuts the node down, aborting pending calls.
func (s *Server) Stop() {
	s.grpcServer.Stop()
	_ = s.lis.Close()
}

// SetLatest changes which round is served as latest.
func (s *Server) SetLatest(round uint64) {
	s.mu.Lock()
	s.latest = round
	s.mu.Unlock()
}

// SetFailing makes every call answer Unavailable.
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// SetDelay holds every answer for d, or until the call is abandoned.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Requests counts the calls received so far.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) admit(ctx context.Context, md *proto.Metadata) error {
	s.mu.Lock()
	s.requests++
	failing, delay := s.failing, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
	if failing {
		return status.Error(codes.Unavailable, "node unavailable")
	}
	if !bytes.Equal(md.GetChainHash(), s.cfg.Hash()) {
		return status.Errorf(codes.NotFound, "unknown chain %x", md.GetChainHash())
	}
	return nil
}

// PublicRand answers with the requested round, or the latest one for round 0.
func (s *Server) PublicRand(ctx context.Context, req *proto.PublicRandRequest) (*proto.PublicRandResponse, error) {
	if err := s.admit(ctx, req.GetMetadata()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	round := req.GetRound()
	if round == 0 {
		round = s.latest
	}
	res, ok := s.results[round]
	s.mu.Unlock()

	if !ok {
		return nil, status.Errorf(codes.NotFound, "round %d not found", round)
	}
	return &proto.PublicRandResponse{
		Round:             res.Rnd,
		Signature:         res.Sig,
		PreviousSignature: res.PSig,
		Randomness:        res.Rand,
		Metadata:          &proto.Metadata{BeaconID: s.cfg.BeaconID(), ChainHash: s.cfg.Hash()},
	}, nil
}

// ChainInfo answers with the parameters of the served chain.
func (s *Server) ChainInfo(ctx context.Context, req *proto.ChainInfoRequest) (*proto.ChainInfoPacket, error) {
	if err := s.admit(ctx, req.GetMetadata()); err != nil {
		return nil, err
	}

	p := s.cfg.Params()
	return &proto.ChainInfoPacket{
		PublicKey:   p.PublicKey,
		Period:      uint32(p.Period / time.Second),
		GenesisTime: p.GenesisTime,
		Hash:        p.Hash,
		GroupHash:   p.GenesisSeed,
		SchemeID:    p.Scheme,
		Metadata:    &proto.Metadata{BeaconID: p.BeaconID, ChainHash: p.Hash},
	}, nil
}
