package drand

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	"github.com/drand/drand-watch/crypto"
	"github.com/drand/drand-watch/internal/lib"
	"github.com/drand/drand-watch/internal/metrics"
)

// Automatically set through -ldflags
// Example: go install -ldflags "-X github.com/drand/drand-watch/internal.buildDate=$(date -u +%d/%m/%Y@%H:%M:%S) -X github.com/drand/drand-watch/internal.gitCommit=$(git rev-parse HEAD)"
var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

var SetVersionPrinter sync.Once

var roundFlag = &cli.Uint64Flag{
	Name: "round",
	Usage: "Request the public randomness generated at round num. If the providers do not have the requested value," +
		" it returns an error. If not specified, the current randomness is returned.",
	EnvVars: []string{"DRAND_ROUND"},
}

var hashOnly = &cli.BoolFlag{
	Name:    "hash",
	Usage:   "Only print the hash of the chain",
	EnvVars: []string{"DRAND_HASH"},
}

var decimalFlag = &cli.BoolFlag{
	Name:    "decimal",
	Usage:   "Print randomness as a decimal number instead of hex",
	EnvVars: []string{"DRAND_DECIMAL"},
}

var metricsFlag = &cli.StringFlag{
	Name:    "metrics",
	Usage:   "Serve prometheus metrics on the given host:port at /metrics",
	EnvVars: []string{"DRAND_METRICS"},
}

var appCommands = []*cli.Command{
	{
		Name: "watch",
		Usage: "Follow the chain round after round, printing each verified beacon " +
			"with the time the next one is expected. Providers are raced for every " +
			"round and the fastest valid answer wins.\n",
		Flags:  clientFlags(decimalFlag, metricsFlag),
		Action: watchCmd,
	},
	{
		Name: "get",
		Usage: "get allows for public information retrieval from the " +
			"providers of a chain.\n",
		Subcommands: []*cli.Command{
			{
				Name: "public",
				Usage: "Get the latest public randomness from the providers " +
					"and verify it against the chain public key. A round can " +
					"be given as argument or with --round.\n",
				ArgsUsage: "[ROUND]",
				Flags:     clientFlags(roundFlag),
				Action:    getPublicRandomness,
			},
			{
				Name:   "chain-info",
				Usage:  "Get the binding chain information of the selected chain",
				Flags:  clientFlags(hashOnly),
				Action: getChainInfo,
			},
		},
	},
	{
		Name:   "chains",
		Usage:  "List the known chains, including the ones of the config file",
		Flags:  toArray(lib.ConfigFlag, lib.JSONFlag),
		Action: chainsCmd,
	},
	{
		Name:   "schemes",
		Usage:  "List the supported signature schemes",
		Action: schemesCmd,
	},
}

// CLI runs the drand-watch app
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "drand-watch"

	// See https://cli.urfave.org/v2/examples/bash-completions/#enabling for how to turn on.
	app.EnableBashCompletion = true

	SetVersionPrinter.Do(func() {
		cli.VersionPrinter = func(c *cli.Context) {
			fmt.Fprintf(c.App.Writer, "drand-watch %s (date %v, commit %v)\n", version, buildDate, gitCommit)
		}
	})

	app.ExitErrHandler = func(context *cli.Context, err error) {
		// override to prevent default behavior of calling OS.exit(1),
		// when tests expect to be able to run multiple commands.
	}
	app.Version = version
	app.Usage = "verified drand randomness, raced across providers"
	// =====Commands=====
	// we need to copy the underlying commands to avoid races, cli sadly doesn't support concurrent executions well
	appComm := make([]*cli.Command, len(appCommands))
	for i, p := range appCommands {
		if p == nil {
			continue
		}
		v := *p
		appComm[i] = &v
	}
	app.Commands = appComm
	return app
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

// clientFlags is lib.ClientFlags followed by the command's own flags.
func clientFlags(extra ...cli.Flag) []cli.Flag {
	flags := make([]cli.Flag, 0, len(lib.ClientFlags)+len(extra))
	flags = append(flags, lib.ClientFlags...)
	return append(flags, extra...)
}

func watchCmd(c *cli.Context) error {
	var opts []client.Option
	if addr := c.String(metricsFlag.Name); addr != "" {
		reg, err := metrics.NewRegistry()
		if err != nil {
			return err
		}
		srv, err := metrics.Start(lib.Logger(c), addr, reg)
		if err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		opts = append(opts, client.WithPrometheus(reg))
	}

	cl, err := lib.Create(c, opts...)
	if err != nil {
		return err
	}
	defer cl.Close()

	sub, err := cl.Subscribe(c.Context)
	if err != nil {
		return err
	}
	defer sub.Stop()

	for tick := range sub.Ticks() {
		if err := printTick(c, tick); err != nil {
			return err
		}
	}
	return sub.Err()
}

func getPublicRandomness(c *cli.Context) error {
	round := c.Uint64(roundFlag.Name)
	if c.Args().Present() {
		var err error
		round, err = strconv.ParseUint(c.Args().First(), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid round %q: %w", c.Args().First(), err)
		}
	}

	cl, err := lib.Create(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	r, err := cl.Get(c.Context, round)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, &client.RandomData{
		Rnd:               r.GetRound(),
		Random:            r.GetRandomness(),
		Sig:               r.GetSignature(),
		PreviousSignature: r.GetPreviousSignature(),
	})
}

func getChainInfo(c *cli.Context) error {
	cl, err := lib.Create(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	info := cl.Info()
	if c.Bool(hashOnly.Name) {
		fmt.Fprintln(c.App.Writer, info.HashString())
		return nil
	}
	return info.ToJSON(c.App.Writer)
}

func chainsCmd(c *cli.Context) error {
	var list []chainEntry
	for _, name := range chain.PresetNames() {
		cfg, err := chain.Preset(name)
		if err != nil {
			return err
		}
		list = append(list, newChainEntry(name, cfg))
	}

	if path := c.Path(lib.ConfigFlag.Name); path != "" {
		file, err := lib.LoadConfig(path)
		if err != nil {
			return err
		}
		for _, name := range sortedKeys(file.Chains) {
			cfg, err := file.Chains[name].Config()
			if err != nil {
				return fmt.Errorf("chain %q: %w", name, err)
			}
			list = append(list, newChainEntry(name, cfg))
		}
	}

	if c.Bool(lib.JSONFlag.Name) {
		return printJSON(c.App.Writer, list)
	}
	for _, e := range list {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n", e.Name, e.Hash, e.Scheme, e.Period)
	}
	return nil
}

func schemesCmd(c *cli.Context) error {
	fmt.Fprintf(c.App.Writer, "drand-watch supports the following list of schemes: \n")

	for i, id := range crypto.ListSchemes() {
		fmt.Fprintf(c.App.Writer, "%d) %s \n", i, id)
	}
	return nil
}
