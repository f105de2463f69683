package drand

import (
	"fmt"
	"io"
	"sort"
	"time"

	json "github.com/nikkolasg/hexjson"
	"github.com/urfave/cli/v2"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	"github.com/drand/drand-watch/internal/lib"
)

// tickJSON is one line of `watch --json`.
type tickJSON struct {
	Round      uint64    `json:"round"`
	Randomness string    `json:"randomness"`
	ETA        time.Time `json:"eta"`
}

type chainEntry struct {
	Name   string `json:"name"`
	Hash   string `json:"hash"`
	Scheme string `json:"scheme"`
	Period string `json:"period"`
}

func newChainEntry(name string, cfg *chain.Config) chainEntry {
	return chainEntry{
		Name:   name,
		Hash:   cfg.HashString(),
		Scheme: cfg.Scheme().Name,
		Period: cfg.Period().String(),
	}
}

func printTick(c *cli.Context, t client.Tick) error {
	randomness := t.RandomnessHex()
	if c.Bool(decimalFlag.Name) {
		randomness = t.RandomnessDecimal()
	}

	if c.Bool(lib.JSONFlag.Name) {
		buff, err := json.Marshal(tickJSON{Round: t.Round, Randomness: randomness, ETA: t.ETA})
		if err != nil {
			return fmt.Errorf("could not JSON marshal: %w", err)
		}
		fmt.Fprintln(c.App.Writer, string(buff))
		return nil
	}
	fmt.Fprintf(c.App.Writer, "round=%d randomness=%s next=%s\n", t.Round, randomness, t.ETA.Format(time.RFC3339))
	return nil
}

func printJSON(w io.Writer, j interface{}) error {
	buff, err := json.MarshalIndent(j, "", "    ")
	if err != nil {
		return fmt.Errorf("could not JSON marshal: %w", err)
	}
	fmt.Fprintln(w, string(buff))
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
