// Package chain describes a drand beacon chain (its root of trust and its
// timing) and verifies beacons against it.
package chain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/drand/kyber"
	"github.com/minio/sha256-simd"

	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/drand"
)

// HashLen is the size of a chain hash.
const HashLen = 32

// DefaultBeaconID is the beacon id of chains that predate multi-beacon nodes.
const DefaultBeaconID = "default"

// Params are the raw parameters of a chain, as found in its info.
type Params struct {
	Hash        []byte
	PublicKey   []byte
	GenesisTime int64
	Period      time.Duration
	Scheme      string
	// GenesisSeed is the group hash, signed as "previous signature" of round 1 on chained schemes.
	GenesisSeed []byte
	BeaconID    string
}

// Config is a validated, immutable chain description.
type Config struct {
	hash        []byte
	pubBytes    []byte
	public      kyber.Point
	genesis     int64
	period      time.Duration
	scheme      *crypto.Scheme
	genesisSeed []byte
	beaconID    string
}

// Load validates hex encoded chain parameters. It fails with a
// *drand.ConfigError when chainHash is not 32 bytes of hex or publicKey does
// not have the size of a key of the declared scheme.
func Load(chainHash, publicKey string, genesisTime int64, period time.Duration, schemeID string) (*Config, error) {
	h, err := hex.DecodeString(chainHash)
	if err != nil {
		return nil, &drand.ConfigError{Field: "chain hash", Err: err}
	}
	pk, err := hex.DecodeString(publicKey)
	if err != nil {
		return nil, &drand.ConfigError{Field: "public key", Err: err}
	}
	return New(Params{
		Hash:        h,
		PublicKey:   pk,
		GenesisTime: genesisTime,
		Period:      period,
		Scheme:      schemeID,
	})
}

// New validates raw chain parameters.
func New(p Params) (*Config, error) {
	if len(p.Hash) != HashLen {
		return nil, &drand.ConfigError{Field: "chain hash", Err: fmt.Errorf("expected %d bytes, got %d", HashLen, len(p.Hash))}
	}
	sch, err := crypto.GetSchemeByID(p.Scheme)
	if err != nil {
		return nil, &drand.ConfigError{Field: "scheme", Err: err}
	}
	if len(p.PublicKey) != sch.KeyLen() {
		return nil, &drand.ConfigError{
			Field: "public key",
			Err:   fmt.Errorf("%s expects %d bytes, got %d", sch.Name, sch.KeyLen(), len(p.PublicKey)),
		}
	}
	pub := sch.KeyGroup.Point()
	if err := pub.UnmarshalBinary(p.PublicKey); err != nil {
		return nil, &drand.ConfigError{Field: "public key", Err: err}
	}
	if p.Period <= 0 {
		return nil, &drand.ConfigError{Field: "period", Err: errors.New("must be positive")}
	}
	if p.GenesisTime <= 0 {
		return nil, &drand.ConfigError{Field: "genesis time", Err: errors.New("must be positive")}
	}

	return &Config{
		hash:        bytes.Clone(p.Hash),
		pubBytes:    bytes.Clone(p.PublicKey),
		public:      pub,
		genesis:     p.GenesisTime,
		period:      p.Period,
		scheme:      sch,
		genesisSeed: bytes.Clone(p.GenesisSeed),
		beaconID:    p.BeaconID,
	}, nil
}

// Hash is the chain hash, the root of trust of the chain.
func (c *Config) Hash() []byte {
	return bytes.Clone(c.hash)
}

// HashString is the hex encoded chain hash, as used in provider URLs.
func (c *Config) HashString() string {
	return hex.EncodeToString(c.hash)
}

// PublicKey is the distributed public key of the chain.
func (c *Config) PublicKey() kyber.Point {
	return c.public
}

func (c *Config) GenesisTime() int64 {
	return c.genesis
}

func (c *Config) Period() time.Duration {
	return c.period
}

func (c *Config) Scheme() *crypto.Scheme {
	return c.scheme
}

func (c *Config) BeaconID() string {
	return c.beaconID
}

// Params returns a copy of the parameters c was built from.
func (c *Config) Params() Params {
	return Params{
		Hash:        bytes.Clone(c.hash),
		PublicKey:   bytes.Clone(c.pubBytes),
		GenesisTime: c.genesis,
		Period:      c.period,
		Scheme:      c.scheme.Name,
		GenesisSeed: bytes.Clone(c.genesisSeed),
		BeaconID:    c.beaconID,
	}
}

// RoundAt returns the round being published at t, 0 before genesis.
func (c *Config) RoundAt(t time.Time) uint64 {
	genesis := time.Unix(c.genesis, 0)
	if t.Before(genesis) {
		return 0
	}
	return uint64(t.Sub(genesis)/c.period) + 1
}

// TimeOfRound returns the time at which round is published.
func (c *Config) TimeOfRound(round uint64) time.Time {
	genesis := time.Unix(c.genesis, 0)
	if round == 0 {
		return genesis
	}
	// far rounds saturate instead of wrapping into the past
	if round-1 > uint64(maxDuration/c.period) {
		return genesis.Add(maxDuration)
	}
	return genesis.Add(time.Duration(round-1) * c.period)
}

const maxDuration = time.Duration(math.MaxInt64)

// ComputeHash derives the chain hash from its parameters.
func ComputeHash(p Params) []byte {
	h := sha256.New()
	_ = binary.Write(h, binary.BigEndian, uint32(p.Period.Seconds()))
	_ = binary.Write(h, binary.BigEndian, p.GenesisTime)
	_, _ = h.Write(p.PublicKey)
	_, _ = h.Write(p.GenesisSeed)

	// chains from before beacon ids hash without one
	if p.BeaconID != "" && p.BeaconID != DefaultBeaconID {
		_, _ = h.Write([]byte(p.BeaconID))
	}
	return h.Sum(nil)
}
