package lib

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drand/drand/v2/common/log"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	httpmock "github.com/drand/drand-watch/client/test/http/mock"
	"github.com/drand/drand-watch/client/test/result/mock"
	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/drand"
	grpcmock "github.com/drand/drand-watch/internal/grpc/mock"
)

const fakeChainHash = "6093f9e4320c285ac4aab50ba821cd5678ec7c5015d3d9d11ef89e2a99741e83"

// run builds a client from args and hands it to check.
func run(args []string, check func(*client.Client)) error {
	app := cli.NewApp()
	app.Name = "mock-client"
	app.Flags = ClientFlags
	app.Action = func(c *cli.Context) error {
		cl, err := Create(c)
		if err != nil {
			return err
		}
		defer cl.Close()
		if check != nil {
			check(cl)
		}
		return nil
	}

	return app.Run(append([]string{"mock-client"}, args...))
}

func fixtures(t *testing.T, n int) (*chain.Config, []mock.Result) {
	t.Helper()
	sch, err := crypto.GetSchemeByID(crypto.SigsOnG1ID)
	require.NoError(t, err)
	return mock.VerifiableResults(n, sch)
}

func writeChainInfo(t *testing.T, cfg *chain.Config) string {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, cfg.ToJSON(&b))
	infoPath := filepath.Join(t.TempDir(), "info.json")
	require.NoError(t, os.WriteFile(infoPath, b.Bytes(), 0o600))
	return infoPath
}

func writeConfig(t *testing.T, name string, cfg *chain.Config, urls ...string) string {
	t.Helper()
	p := cfg.Params()
	quoted := make([]string, 0, len(urls))
	for _, u := range urls {
		quoted = append(quoted, fmt.Sprintf("%q", u))
	}
	content := fmt.Sprintf(`[chains.%s]
hash = "%x"
public_key = "%x"
genesis_time = %d
period = %d
scheme = %q
urls = [%s]
`, name, p.Hash, p.PublicKey, p.GenesisTime, int64(p.Period.Seconds()), p.Scheme, strings.Join(quoted, ", "))
	path := filepath.Join(t.TempDir(), "chains.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestClientLib(t *testing.T) {
	cfg, results := fixtures(t, 3)
	srv := httpmock.NewMockHTTPPublicServer(t, cfg, results)
	t.Log("Started mockserver at", srv.URL())

	// the chain hash alone is enough, parameters come from the provider
	err := run([]string{"--url", srv.URL(), "--chain-hash", cfg.HashString()}, func(c *client.Client) {
		require.Equal(t, cfg.Hash(), c.Info().Hash())
	})
	require.NoError(t, err)

	err = run([]string{"--url", srv.URL(), "--chain-info", writeChainInfo(t, cfg)}, nil)
	require.NoError(t, err)

	err = run([]string{"--url", "ftp://" + srv.URL(), "--chain-info", writeChainInfo(t, cfg)}, nil)
	require.ErrorIs(t, err, drand.ErrNoProviders)

	err = run([]string{"--url", srv.URL(), "--chain-hash", "not hex"}, nil)
	require.ErrorIs(t, err, drand.ErrInvalidChainHash)

	err = run([]string{"--url", srv.URL(), "--chain", "nope"}, nil)
	require.Error(t, err)
}

func TestClientLibChainHashOverrideError(t *testing.T) {
	cfg, results := fixtures(t, 3)
	srv := httpmock.NewMockHTTPPublicServer(t, cfg, results)

	err := run([]string{
		"--url", srv.URL(),
		"--chain-info", writeChainInfo(t, cfg),
		"--chain-hash", fakeChainHash,
	}, nil)
	if !errors.Is(err, drand.ErrInvalidChainHash) {
		t.Log(fakeChainHash)
		t.Fatal("expected error from mismatched chain hashes. Got: ", err)
	}

	// a provider serving another chain cannot vouch for the requested hash
	err = run([]string{"--url", srv.URL(), "--chain-hash", fakeChainHash}, nil)
	require.Error(t, err)
}

func TestClientLibPresets(t *testing.T) {
	quicknet, err := chain.Preset("quicknet")
	require.NoError(t, err)

	// presets need no round trip, so an unreachable provider is fine here
	err = run([]string{"--chain", "quicknet", "--url", "http://127.0.0.1:1"}, func(c *client.Client) {
		require.Equal(t, quicknet.Hash(), c.Info().Hash())
	})
	require.NoError(t, err)

	def, err := chain.Preset(chain.DefaultPreset)
	require.NoError(t, err)
	err = run([]string{"--url", "http://127.0.0.1:1"}, func(c *client.Client) {
		require.Equal(t, def.Hash(), c.Info().Hash())
	})
	require.NoError(t, err)
}

func TestClientLibConfigFile(t *testing.T) {
	cfg, results := fixtures(t, 4)
	srv := httpmock.NewMockHTTPPublicServer(t, cfg, results)
	path := writeConfig(t, "local", cfg, srv.URL())

	err := run([]string{"--config", path, "--chain", "local"}, func(c *client.Client) {
		require.Equal(t, cfg.Hash(), c.Info().Hash())
		r, err := c.Get(context.Background(), 2)
		require.NoError(t, err)
		require.Equal(t, results[1].Rand, r.GetRandomness())
	})
	require.NoError(t, err)

	fc, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL()}, fc.Chains["local"].URLs)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[chains.x]\nperiodd = 3\n"), 0o600))
	_, err = LoadConfig(bad)
	require.Error(t, err)
}

func TestClientLibGRPC(t *testing.T) {
	cfg, results := fixtures(t, 3)
	srv := grpcmock.NewMockGRPCPublicServer(t, cfg, results)

	err := run([]string{"--grpc-connect", srv.Addr(), "--grpc-insecure", "--chain-hash", cfg.HashString()}, func(c *client.Client) {
		require.Equal(t, cfg.Hash(), c.Info().Hash())
		health := c.Health()
		require.Len(t, health, 1)
		require.Contains(t, health[0].Provider, "GRPC")
	})
	require.NoError(t, err)
}

func TestLoggerFlags(t *testing.T) {
	app := cli.NewApp()
	app.Flags = ClientFlags
	var l log.Logger
	app.Action = func(c *cli.Context) error {
		l = Logger(c)
		return nil
	}
	require.NoError(t, app.Run([]string{"mock-client", "--verbose", "--json"}))
	require.NotNil(t, l)
}
