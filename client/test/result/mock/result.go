package mock

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"
	"time"

	"github.com/drand/kyber/util/random"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/crypto"
)

// NewMockResult creates a mock result for testing. Its signature is not a
// valid BLS signature, but its randomness matches it.
func NewMockResult(round uint64) Result {
	sig := make([]byte, 8)
	binary.LittleEndian.PutUint64(sig, round)
	return Result{
		Rnd:  round,
		Sig:  sig,
		Rand: crypto.RandomnessFromSignature(sig),
	}
}

// Result is a mock result that can be used for testing.
type Result struct {
	Rnd  uint64
	Rand []byte
	Sig  []byte
	PSig []byte
}

// GetRandomness is a hash of the signature.
func (r *Result) GetRandomness() []byte {
	return r.Rand
}

// GetSignature is the signature of the randomness for this round.
func (r *Result) GetSignature() []byte {
	return r.Sig
}

// GetPreviousSignature is the signature of the previous round.
func (r *Result) GetPreviousSignature() []byte {
	return r.PSig
}

// GetRound is the round number for this random data.
func (r *Result) GetRound() uint64 {
	return r.Rnd
}

// WithSignature returns a copy of r carrying sig, with its randomness
// recomputed so that only the signature check can catch the swap.
func (r Result) WithSignature(sig []byte) Result {
	r.Sig = bytes.Clone(sig)
	r.Rand = crypto.RandomnessFromSignature(sig)
	return r
}

// AssertValid checks that this result is a well formed NewMockResult.
func (r *Result) AssertValid(t *testing.T) {
	t.Helper()
	sigTarget := make([]byte, 8)
	binary.LittleEndian.PutUint64(sigTarget, r.Rnd)
	if !bytes.Equal(r.Sig, sigTarget) {
		t.Fatalf("expected sig: %x, got %x", sigTarget, r.Sig)
	}
	randTarget := crypto.RandomnessFromSignature(sigTarget)
	if !bytes.Equal(r.Rand, randTarget) {
		t.Fatalf("expected rand: %x, got %x", randTarget, r.Rand)
	}
}

// VerifiableResults creates a chain whose genesis lies count periods of one
// second in the past, and its first count rounds. Every result passes
// chain.Verify.
func VerifiableResults(count int, sch *crypto.Scheme) (*chain.Config, []Result) {
	return VerifiableResultsAt(count, sch, time.Now().Unix()-int64(count), time.Second)
}

// VerifiableResultsAt is VerifiableResults with explicit chain timing.
func VerifiableResultsAt(count int, sch *crypto.Scheme, genesis int64, period time.Duration) (*chain.Config, []Result) {
	secret, public := sch.AuthScheme.NewKeyPair(random.New())
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		panic(err)
	}

	previous := seed
	out := make([]Result, count)
	for i := range out {
		round := uint64(i + 1)
		sig, err := sch.AuthScheme.Sign(secret, sch.Digest(previous, round))
		if err != nil {
			panic(err)
		}
		r := Result{
			Rnd:  round,
			Sig:  sig,
			Rand: crypto.RandomnessFromSignature(sig),
		}
		// chained mode
		if sch.Chained {
			r.PSig = previous
			previous = sig
		}
		out[i] = r
	}

	pub, err := public.MarshalBinary()
	if err != nil {
		panic(err)
	}
	p := chain.Params{
		PublicKey:   pub,
		GenesisTime: genesis,
		Period:      period,
		Scheme:      sch.Name,
		GenesisSeed: seed,
		BeaconID:    "testnet",
	}
	p.Hash = chain.ComputeHash(p)
	cfg, err := chain.New(p)
	if err != nil {
		panic(err)
	}
	return cfg, out
}
