package chain_test

import (
	"bytes"
	"encoding/hex"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client/test/result/mock"
	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/drand"
)

const (
	quicknetHash = "52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971"
	quicknetKey  = "83cf0f2896adee7eb8b5f01fcad3912212c437e0073e911fb90022d3e760183c8c4b450b6a0a6c3ac6a5776a2d1064510d1" +
		"fec758c921cc22b0e17e63aaf4bcb5ed66304de9cf809bd274ca73bab4af5a6e9c76a4bc09e76eae8991ef5ece45a"
	defaultKey = "868f005eb8e6e4ca0a47c8a77ceaa5309a47978a7c71bc5cce96366b5d7a569937c529eeda66c7293784a9402801af31"
)

func TestLoad(t *testing.T) {
	cfg, err := chain.Load(quicknetHash, quicknetKey, 1692803367, 3*time.Second, crypto.SigsOnG1ID)
	require.NoError(t, err)
	require.Equal(t, quicknetHash, cfg.HashString())
	require.Equal(t, 3*time.Second, cfg.Period())
	require.Equal(t, int64(1692803367), cfg.GenesisTime())
	require.Equal(t, crypto.SigsOnG1ID, cfg.Scheme().Name)
}

func TestLoadRejectsMalformedParameters(t *testing.T) {
	cases := []struct {
		name   string
		hash   string
		key    string
		scheme string
		period time.Duration
		field  string
	}{
		{"hash not hex", "zz" + quicknetHash[2:], quicknetKey, crypto.SigsOnG1ID, time.Second, "chain hash"},
		{"hash too short", quicknetHash[:62], quicknetKey, crypto.SigsOnG1ID, time.Second, "chain hash"},
		{"hash too long", quicknetHash + "00", quicknetKey, crypto.SigsOnG1ID, time.Second, "chain hash"},
		{"key of the wrong group", quicknetHash, defaultKey, crypto.SigsOnG1ID, time.Second, "public key"},
		{"G2 key on a G1 key scheme", quicknetHash, quicknetKey, crypto.DefaultSchemeID, time.Second, "public key"},
		{"key not hex", quicknetHash, "x" + quicknetKey[1:], crypto.SigsOnG1ID, time.Second, "public key"},
		{"unknown scheme", quicknetHash, quicknetKey, "bls-but-better", time.Second, "scheme"},
		{"zero period", quicknetHash, quicknetKey, crypto.SigsOnG1ID, 0, "period"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := chain.Load(c.hash, c.key, 1692803367, c.period, c.scheme)
			require.ErrorIs(t, err, drand.ErrConfig)
			var cerr *drand.ConfigError
			require.ErrorAs(t, err, &cerr)
			require.Equal(t, c.field, cerr.Field)
		})
	}
}

func TestPresets(t *testing.T) {
	require.Equal(t, []string{"default", "quicknet"}, chain.PresetNames())

	def, err := chain.Preset("default")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, def.Period())
	require.True(t, def.Scheme().Chained)
	require.Equal(t, defaultKey, hex.EncodeToString(def.Params().PublicKey))

	quick, err := chain.Preset("quicknet")
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, quick.Period())
	require.False(t, quick.Scheme().Chained)
	require.Equal(t, "quicknet", quick.BeaconID())

	_, err = chain.Preset("slownet")
	require.Error(t, err)
}

func TestPresetHashesRecompute(t *testing.T) {
	for _, name := range chain.PresetNames() {
		cfg, err := chain.Preset(name)
		require.NoError(t, err)
		require.Equal(t, cfg.Hash(), chain.ComputeHash(cfg.Params()), name)
	}

	quick, err := chain.Preset("quicknet")
	require.NoError(t, err)
	require.Equal(t, quicknetHash, hex.EncodeToString(chain.ComputeHash(quick.Params())))
}

func TestRoundArithmetic(t *testing.T) {
	cfg, err := chain.Load(quicknetHash, quicknetKey, 1000, 3*time.Second, crypto.SigsOnG1ID)
	require.NoError(t, err)

	require.Equal(t, uint64(0), cfg.RoundAt(time.Unix(999, 0)))
	require.Equal(t, uint64(1), cfg.RoundAt(time.Unix(1000, 0)))
	require.Equal(t, uint64(1), cfg.RoundAt(time.Unix(1002, 0)))
	require.Equal(t, uint64(2), cfg.RoundAt(time.Unix(1003, 0)))

	require.Equal(t, time.Unix(1000, 0), cfg.TimeOfRound(1))
	require.Equal(t, time.Unix(1012, 0), cfg.TimeOfRound(5))
	for r := uint64(1); r < 50; r++ {
		require.Equal(t, r, cfg.RoundAt(cfg.TimeOfRound(r)))
	}
}

func TestTimeOfRoundSaturates(t *testing.T) {
	cfg, err := chain.Load(quicknetHash, quicknetKey, 1000, 3*time.Second, crypto.SigsOnG1ID)
	require.NoError(t, err)

	far := cfg.TimeOfRound(math.MaxUint64)
	require.True(t, far.After(cfg.TimeOfRound(1<<30)))
	require.Equal(t, far, cfg.TimeOfRound(math.MaxUint64/2))
	require.True(t, cfg.TimeOfRound(1<<30).After(time.Unix(1000, 0)))
}

func TestConfigIsImmutable(t *testing.T) {
	cfg, err := chain.Load(quicknetHash, quicknetKey, 1000, 3*time.Second, crypto.SigsOnG1ID)
	require.NoError(t, err)
	h := cfg.Hash()
	h[0] ^= 0xff
	require.Equal(t, quicknetHash, cfg.HashString())
}

func TestInfoJSONRoundTrip(t *testing.T) {
	sch, err := crypto.GetSchemeByID(crypto.DefaultSchemeID)
	require.NoError(t, err)
	cfg, _ := mock.VerifiableResults(1, sch)

	var buf bytes.Buffer
	require.NoError(t, cfg.ToJSON(&buf))
	require.Contains(t, buf.String(), `"schemeID": "pedersen-bls-chained"`)

	back, err := chain.InfoFromJSON(&buf)
	require.NoError(t, err)
	require.Equal(t, cfg.Params(), back.Params())
}

func TestInfoJSONHashMismatch(t *testing.T) {
	sch, err := crypto.GetSchemeByID(crypto.SigsOnG1ID)
	require.NoError(t, err)
	cfg, _ := mock.VerifiableResults(1, sch)

	var buf bytes.Buffer
	require.NoError(t, cfg.ToJSON(&buf))
	// same document announcing a different period
	tampered := strings.Replace(buf.String(), `"period": 1`, `"period": 2`, 1)

	_, err = chain.InfoFromJSON(strings.NewReader(tampered))
	require.ErrorIs(t, err, drand.ErrInvalidChainHash)
}
