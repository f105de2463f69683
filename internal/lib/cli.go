package lib

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/drand/drand/v2/common/log"
	"github.com/urfave/cli/v2"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	"github.com/drand/drand-watch/client/http"
	"github.com/drand/drand-watch/drand"
	"github.com/drand/drand-watch/internal/grpc"
)

// DefaultURLs are the League of Entropy HTTP endpoints, serving every mainnet chain.
var DefaultURLs = []string{
	"https://api.drand.sh",
	"https://api2.drand.sh",
	"https://api3.drand.sh",
	"https://drand.cloudflare.com",
}

var (
	// ChainFlag selects a chain preset, or a chain declared in the config file.
	ChainFlag = &cli.StringFlag{
		Name:    "chain",
		Usage:   fmt.Sprintf("Name of the chain to follow, one of %v or a chain of the config file", chain.PresetNames()),
		Value:   chain.DefaultPreset,
		EnvVars: []string{"DRAND_CHAIN"},
	}
	// URLFlag is the CLI flag for root URL(s) for fetching randomness.
	URLFlag = &cli.StringSliceFlag{
		Name:    "url",
		Usage:   "root URL(s) for fetching randomness, defaults to the League of Entropy endpoints",
		EnvVars: []string{"DRAND_URLS"},
	}
	// GRPCConnectFlag is the CLI flag for host:port to dial a gRPC randomness
	// provider.
	GRPCConnectFlag = &cli.StringSliceFlag{
		Name:    "grpc-connect",
		Usage:   "host:port to dial a gRPC randomness provider",
		EnvVars: []string{"DRAND_GRPC_CONNECT"},
	}
	// GRPCInsecureFlag dials gRPC providers without TLS.
	GRPCInsecureFlag = &cli.BoolFlag{
		Name:    "grpc-insecure",
		Usage:   "Dial gRPC providers over plaintext",
		EnvVars: []string{"DRAND_GRPC_INSECURE"},
	}
	// HashFlag is the CLI flag for the hash (in hex) of the targeted chain.
	HashFlag = &cli.StringFlag{
		Name:    "chain-hash",
		Usage:   "The hash (in hex) of the chain to follow, its parameters are fetched from the providers",
		EnvVars: []string{"DRAND_CHAIN_HASH"},
	}
	// ChainInfoFlag is the CLI flag for a chain info file, as served at /{hash}/info.
	ChainInfoFlag = &cli.PathFlag{
		Name:    "chain-info",
		Usage:   "Path to the chain info (JSON encoded) of the chain to follow",
		EnvVars: []string{"DRAND_CHAIN_INFO"},
	}
	// ConfigFlag is the CLI flag for a TOML file declaring custom chains.
	ConfigFlag = &cli.PathFlag{
		Name:    "config",
		Usage:   "Path to a TOML file declaring chains and their providers",
		EnvVars: []string{"DRAND_CONFIG"},
	}
	// TimeoutFlag bounds every request to a provider.
	TimeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		Usage:   "Timeout of each request to a provider",
		Value:   client.DefaultRequestTimeout,
		EnvVars: []string{"DRAND_TIMEOUT"},
	}
	// RetriesFlag is the number of failed races a watch session tolerates in a row.
	RetriesFlag = &cli.IntFlag{
		Name:    "retries",
		Usage:   "Number of consecutive failed fetches before watching stops",
		Value:   client.DefaultRetryBudget,
		EnvVars: []string{"DRAND_RETRIES"},
	}
	// InsecureSkipVerifyFlag disables beacon verification.
	InsecureSkipVerifyFlag = &cli.BoolFlag{
		Name:    "insecure-skip-verify",
		Usage:   "Do not verify beacons against the chain key. Only for testing",
		EnvVars: []string{"DRAND_INSECURE_SKIP_VERIFY"},
	}

	// JSONFlag is the value of the CLI flag `json` enabling JSON output of the loggers
	JSONFlag = &cli.BoolFlag{
		Name:    "json",
		Usage:   "Set the output as json format",
		EnvVars: []string{"DRAND_JSON"},
	}

	VerboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Usage:   "If set, verbosity is at the debug level",
		EnvVars: []string{"DRAND_VERBOSE"},
	}
)

// ClientFlags is a list of common flags for client creation
var ClientFlags = []cli.Flag{
	ChainFlag,
	URLFlag,
	GRPCConnectFlag,
	GRPCInsecureFlag,
	HashFlag,
	ChainInfoFlag,
	ConfigFlag,
	TimeoutFlag,
	RetriesFlag,
	InsecureSkipVerifyFlag,
	JSONFlag,
	VerboseFlag,
}

// ChainTOML declares a chain in the config file. Period is in seconds, like
// in chain info.
type ChainTOML struct {
	Hash        string   `toml:"hash"`
	PublicKey   string   `toml:"public_key"`
	GenesisTime int64    `toml:"genesis_time"`
	Period      int64    `toml:"period"`
	Scheme      string   `toml:"scheme"`
	URLs        []string `toml:"urls"`
	GRPC        []string `toml:"grpc"`
}

// FileConfig is the content of the config file.
type FileConfig struct {
	Chains map[string]ChainTOML `toml:"chains"`
}

// LoadConfig decodes a config file. Unknown keys are rejected.
func LoadConfig(path string) (*FileConfig, error) {
	fc := &FileConfig{}
	md, err := toml.DecodeFile(path, fc)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("reading config %s: unknown keys %v", path, undecoded)
	}
	return fc, nil
}

// Config validates the chain declaration.
func (ct ChainTOML) Config() (*chain.Config, error) {
	return chain.Load(ct.Hash, ct.PublicKey, ct.GenesisTime, time.Duration(ct.Period)*time.Second, ct.Scheme)
}

// Logger builds the logger selected by the verbose and json flags.
func Logger(c *cli.Context) log.Logger {
	level := log.WarnLevel
	if c.Bool(VerboseFlag.Name) {
		level = log.DebugLevel
	}
	return log.New(nil, level, c.Bool(JSONFlag.Name))
}

// selection is what the flags resolve to before any provider is contacted.
type selection struct {
	cfg   *chain.Config
	hash  []byte
	urls  []string
	grpcs []string
}

// Create builds a client, and can be invoked from a cli action supplied
// with ClientFlags
func Create(c *cli.Context, opts ...client.Option) (*client.Client, error) {
	l := Logger(c)

	sel, err := selectChain(c, l)
	if err != nil {
		return nil, err
	}

	transports := http.ForURLs(l, sel.urls, sel.hash)
	transports = append(transports, grpc.ForAddresses(l, sel.grpcs, c.Bool(GRPCInsecureFlag.Name), sel.hash)...)
	if len(transports) == 0 {
		return nil, fmt.Errorf("none of the providers can be used: %w", drand.ErrNoProviders)
	}

	setupCtx, cancel := context.WithTimeout(c.Context, client.ClientStartupTimeout)
	defer cancel()

	options := []client.Option{
		client.From(transports...),
		client.WithLogger(l),
		client.WithSetupCtx(setupCtx),
		client.WithRequestTimeout(c.Duration(TimeoutFlag.Name)),
		client.WithRetryBudget(c.Int(RetriesFlag.Name)),
	}
	if sel.cfg != nil {
		options = append(options, client.WithChainConfig(sel.cfg))
	} else {
		options = append(options, client.WithChainHash(sel.hash))
	}
	if c.Bool(InsecureSkipVerifyFlag.Name) {
		options = append(options, client.InsecureSkipVerification())
	}

	cl, err := client.New(append(options, opts...)...)
	if err != nil {
		closeAll(transports)
		return nil, err
	}
	return cl, nil
}

// selectChain resolves the root of trust and the providers. An explicit chain
// info file or chain hash wins over the chain name; explicit providers win
// over the ones the config file declares, which win over the defaults.
func selectChain(c *cli.Context, l log.Logger) (*selection, error) {
	sel := &selection{}

	var file *FileConfig
	if path := c.Path(ConfigFlag.Name); path != "" {
		var err error
		if file, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if path := c.Path(ChainInfoFlag.Name); path != "" {
		cfg, err := chainInfoFromJSON(path)
		if err != nil {
			return nil, err
		}
		sel.cfg = cfg
	}

	if h := c.String(HashFlag.Name); h != "" {
		hash, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", drand.ErrInvalidChainHash, err)
		}
		if sel.cfg != nil && !bytes.Equal(hash, sel.cfg.Hash()) {
			return nil, fmt.Errorf("%w: --%s %s does not match chain info %s",
				drand.ErrInvalidChainHash, HashFlag.Name, h, sel.cfg.HashString())
		}
		sel.hash = hash
	}

	if sel.cfg == nil && sel.hash == nil {
		name := c.String(ChainFlag.Name)
		if ct, ok := file.chain(name); ok {
			cfg, err := ct.Config()
			if err != nil {
				return nil, fmt.Errorf("chain %q of %s: %w", name, c.Path(ConfigFlag.Name), err)
			}
			sel.cfg = cfg
			sel.urls, sel.grpcs = ct.URLs, ct.GRPC
		} else {
			cfg, err := chain.Preset(name)
			if err != nil {
				return nil, err
			}
			sel.cfg = cfg
		}
		l.Debugw("", "cli", "selected chain", "name", name, "hash", sel.cfg.HashString())
	}
	if sel.hash == nil {
		sel.hash = sel.cfg.Hash()
	}

	if c.IsSet(URLFlag.Name) || c.IsSet(GRPCConnectFlag.Name) {
		sel.urls = c.StringSlice(URLFlag.Name)
		sel.grpcs = c.StringSlice(GRPCConnectFlag.Name)
	}
	if len(sel.urls) == 0 && len(sel.grpcs) == 0 {
		sel.urls = DefaultURLs
	}
	return sel, nil
}

func (f *FileConfig) chain(name string) (ChainTOML, bool) {
	if f == nil {
		return ChainTOML{}, false
	}
	ct, ok := f.Chains[name]
	return ct, ok
}

func chainInfoFromJSON(path string) (*chain.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := chain.InfoFromJSON(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chain info (%s): %w", path, err)
	}
	return cfg, nil
}

func closeAll(transports []drand.Transport) {
	for _, t := range transports {
		if c, ok := t.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
