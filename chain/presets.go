package chain

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/drand/drand-watch/crypto"
)

type preset struct {
	hash      string
	publicKey string
	groupHash string
	genesis   int64
	period    time.Duration
	scheme    string
	beaconID  string
}

// presets are the mainnet chains served by the League of Entropy.
var presets = map[string]preset{
	"default": {
		hash:      "8990e7a9aaed2ffed73dbd7092123d6f289930540d7651336225dc172e51b2ce",
		publicKey: "868f005eb8e6e4ca0a47c8a77ceaa5309a47978a7c71bc5cce96366b5d7a569937c529eeda66c7293784a9402801af31",
		groupHash: "176f93498eac9ca337150b46d21dd58673ea4e3581185f869672e59fa4cb390a",
		genesis:   1595431050,
		period:    30 * time.Second,
		scheme:    crypto.DefaultSchemeID,
		beaconID:  DefaultBeaconID,
	},
	"quicknet": {
		hash: "52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971",
		publicKey: "83cf0f2896adee7eb8b5f01fcad3912212c437e0073e911fb90022d3e760183c8c4b450b6a0a6c3ac6a5776a2d1064510d1" +
			"fec758c921cc22b0e17e63aaf4bcb5ed66304de9cf809bd274ca73bab4af5a6e9c76a4bc09e76eae8991ef5ece45a",
		groupHash: "f477d5c89f21a17c863a7f937c6a6d15859414d2be09cd448d4279af331c5d3e",
		genesis:   1692803367,
		period:    3 * time.Second,
		scheme:    crypto.SigsOnG1ID,
		beaconID:  "quicknet",
	},
}

// DefaultPreset is the chain used when none is selected.
const DefaultPreset = "default"

// Preset returns the config of a well known chain by name.
func Preset(name string) (*Config, error) {
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown chain preset %q, known: %v", name, PresetNames())
	}
	cfg, err := Load(p.hash, p.publicKey, p.genesis, p.period, p.scheme)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(p.groupHash)
	if err != nil {
		return nil, err
	}
	cfg.genesisSeed = seed
	cfg.beaconID = p.beaconID
	return cfg, nil
}

// PresetNames lists the known presets in a stable order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
