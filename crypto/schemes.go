// Package crypto exposes the drand signature schemes a watched chain can use,
// with the per-scheme facts the client needs on top of them.
package crypto

import (
	"errors"
	"fmt"

	dcrypto "github.com/drand/drand/v2/crypto"
	"github.com/drand/kyber"
)

// Scheme identifiers as published in a chain's info.
const (
	// DefaultSchemeID is the original chained scheme: keys on G1, signatures on G2.
	DefaultSchemeID = dcrypto.DefaultSchemeID
	// UnchainedSchemeID signs the round alone: keys on G1, signatures on G2.
	UnchainedSchemeID = dcrypto.UnchainedSchemeID
	// ShortSigSchemeID puts signatures on G1 but hashes with the G2 domain tag.
	ShortSigSchemeID = dcrypto.ShortSigSchemeID
	// SigsOnG1ID is the RFC 9380 compliant variant of ShortSigSchemeID.
	SigsOnG1ID = dcrypto.SigsOnG1ID
)

// ErrUnknownScheme is returned for a scheme id drand-watch does not follow.
var ErrUnknownScheme = errors.New("unknown scheme")

var supported = []string{DefaultSchemeID, UnchainedSchemeID, ShortSigSchemeID, SigsOnG1ID}

// Scheme is a drand scheme plus whether its beacons chain to the previous one.
type Scheme struct {
	*dcrypto.Scheme
	// Chained schemes sign the previous signature together with the round.
	Chained bool
}

// GetSchemeByID returns the scheme registered under id.
func GetSchemeByID(id string) (*Scheme, error) {
	if !isSupported(id) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, id)
	}
	sch, err := dcrypto.SchemeFromName(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownScheme, err)
	}
	return &Scheme{Scheme: sch, Chained: id == DefaultSchemeID}, nil
}

func isSupported(id string) bool {
	for _, s := range supported {
		if s == id {
			return true
		}
	}
	return false
}

// ListSchemes returns the ids of every supported scheme.
func ListSchemes() []string {
	return append([]string(nil), supported...)
}

// KeyLen is the size in bytes of an encoded public key for this scheme.
func (s *Scheme) KeyLen() int {
	return s.KeyGroup.PointLen()
}

// SigLen is the size in bytes of an encoded beacon signature for this scheme.
func (s *Scheme) SigLen() int {
	return s.SigGroup.PointLen()
}

// Digest builds the message signed for round. prevSig is ignored by
// unchained schemes.
func (s *Scheme) Digest(prevSig []byte, round uint64) []byte {
	return s.DigestBeacon(s.beacon(prevSig, round, nil))
}

// VerifySignature checks sig over the digest of (prevSig, round) against pub.
func (s *Scheme) VerifySignature(pub kyber.Point, prevSig []byte, round uint64, sig []byte) error {
	return s.VerifyBeacon(s.beacon(prevSig, round, sig), pub)
}

func (s *Scheme) beacon(prevSig []byte, round uint64, sig []byte) *beacon {
	if !s.Chained {
		prevSig = nil
	}
	return &beacon{round: round, prev: prevSig, sig: sig}
}

// beacon is the view of a round drand's digest and verification read.
type beacon struct {
	round uint64
	prev  []byte
	sig   []byte
}

func (b *beacon) GetRound() uint64             { return b.round }
func (b *beacon) GetPreviousSignature() []byte { return b.prev }
func (b *beacon) GetSignature() []byte         { return b.sig }

// RandomnessFromSignature derives the randomness published with a beacon.
func RandomnessFromSignature(sig []byte) []byte {
	return dcrypto.RandomnessFromSignature(sig)
}
