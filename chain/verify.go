package chain

import (
	"bytes"
	"errors"

	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/drand"
)

// Verify checks b against the chain. For chained schemes prior must be the
// round immediately before b; round 1 may instead rely on the genesis seed.
// Unchained schemes ignore prior. Verify holds no state and is safe for
// concurrent use.
func Verify(b, prior drand.Result, cfg *Config) error {
	round := b.GetRound()
	if round == 0 {
		return &drand.VerificationError{Round: round, Kind: drand.ErrInvalidSignature, Err: errors.New("round 0 is never signed")}
	}
	if !bytes.Equal(crypto.RandomnessFromSignature(b.GetSignature()), b.GetRandomness()) {
		return &drand.VerificationError{Round: round, Kind: drand.ErrRandomnessMismatch}
	}

	sch := cfg.Scheme()
	var prevSig []byte
	if sch.Chained {
		switch {
		case prior != nil && prior.GetRound()+1 == round:
			prevSig = prior.GetSignature()
		case prior == nil && round == 1 && len(cfg.genesisSeed) > 0:
			prevSig = cfg.genesisSeed
		default:
			return &drand.VerificationError{Round: round, Kind: drand.ErrMissingPriorRound}
		}
		if link := b.GetPreviousSignature(); len(link) > 0 && !bytes.Equal(link, prevSig) {
			return &drand.VerificationError{
				Round: round,
				Kind:  drand.ErrInvalidSignature,
				Err:   errors.New("previous signature does not match prior round"),
			}
		}
	}

	if err := sch.VerifySignature(cfg.PublicKey(), prevSig, round, b.GetSignature()); err != nil {
		return &drand.VerificationError{Round: round, Kind: drand.ErrInvalidSignature, Err: err}
	}
	return nil
}

// link is the part of a prior round a chained beacon commits to.
type link struct {
	round uint64
	sig   []byte
}

func (l *link) GetRound() uint64             { return l.round }
func (l *link) GetRandomness() []byte        { return crypto.RandomnessFromSignature(l.sig) }
func (l *link) GetSignature() []byte         { return l.sig }
func (l *link) GetPreviousSignature() []byte { return nil }

// Anchor returns the prior round b claims to extend, built from its own
// previous signature, or nil when b carries none. A valid signature on b
// authenticates that claim, which makes it usable as the verification
// context of the first beacon of a session.
func Anchor(b drand.Result) drand.Result {
	prev := b.GetPreviousSignature()
	if len(prev) == 0 || b.GetRound() == 0 {
		return nil
	}
	return &link{round: b.GetRound() - 1, sig: bytes.Clone(prev)}
}
