package chain

import (
	"bytes"
	"fmt"
	"io"
	"time"

	json "github.com/nikkolasg/hexjson"

	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/drand"
)

type infoMetadata struct {
	BeaconID string `json:"beaconID"`
}

// infoJSON is the chain info document served by drand nodes at /{hash}/info.
type infoJSON struct {
	PublicKey   []byte       `json:"public_key"`
	Period      int64        `json:"period"`
	GenesisTime int64        `json:"genesis_time"`
	Hash        []byte       `json:"hash"`
	GroupHash   []byte       `json:"groupHash"`
	SchemeID    string       `json:"schemeID"`
	Metadata    infoMetadata `json:"metadata"`
}

// InfoFromJSON decodes a chain info document. The chain hash is recomputed
// from the parameters and must match the declared one.
func InfoFromJSON(r io.Reader) (*Config, error) {
	var info infoJSON
	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding chain info: %w", err)
	}
	return FromInfo(Params{
		Hash:        info.Hash,
		PublicKey:   info.PublicKey,
		GenesisTime: info.GenesisTime,
		Period:      time.Duration(info.Period) * time.Second,
		Scheme:      info.SchemeID,
		GenesisSeed: info.GroupHash,
		BeaconID:    info.Metadata.BeaconID,
	})
}

// FromInfo validates parameters received from a provider. A declared hash
// must match the one recomputed from the parameters; a missing one is filled in.
func FromInfo(p Params) (*Config, error) {
	if p.Scheme == "" {
		p.Scheme = crypto.DefaultSchemeID
	}
	if len(p.Hash) == 0 {
		p.Hash = ComputeHash(p)
	} else if computed := ComputeHash(p); !bytes.Equal(computed, p.Hash) {
		return nil, fmt.Errorf("%w: declared %x, computed %x", drand.ErrInvalidChainHash, p.Hash, computed)
	}
	return New(p)
}

// ToJSON writes c as a chain info document.
func (c *Config) ToJSON(w io.Writer) error {
	info := infoJSON{
		PublicKey:   c.pubBytes,
		Period:      int64(c.period / time.Second),
		GenesisTime: c.genesis,
		Hash:        c.hash,
		GroupHash:   c.genesisSeed,
		SchemeID:    c.scheme.Name,
		Metadata:    infoMetadata{BeaconID: c.beaconID},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
