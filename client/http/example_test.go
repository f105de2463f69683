package http_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/drand/drand/v2/common/log"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	"github.com/drand/drand-watch/client/http"
)

func Example_http_New() {
	cfg, err := chain.Preset("quicknet")
	if err != nil {
		// we recommend to handle errors as you wish rather than panicking
		panic(err)
	}

	c, err := http.New(nil, "https://api.drand.sh", cfg.Hash(), nil)
	if err != nil {
		panic(err)
	}
	defer c.Close()

	result, err := c.Fetch(context.Background(), 1234)
	if err != nil {
		panic(err)
	}

	// make sure to verify the beacons when using a raw transport
	if err := chain.Verify(result, nil, cfg); err != nil {
		panic(err)
	}

	fmt.Printf("got beacon: round=%d; randomness=%x\n", result.GetRound(), result.GetRandomness())
}

func Example_http_New_with_chainhash() {
	var urls = []string{
		"https://api.drand.sh",
		"https://drand.cloudflare.com",
	}

	var chainHash, _ = hex.DecodeString("52db9ba70e0cc0f6eaf7803dd07447a1f5477735fd3f661792ba94600c84e971")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	lg := log.New(nil, log.DebugLevel, true)

	c, err := client.New(client.From(http.ForURLs(lg, urls, chainHash)...),
		client.WithChainHash(chainHash),
		client.WithLogger(lg),
		client.WithSetupCtx(ctx),
	)
	cancel()
	if err != nil {
		panic(err)
	}
	defer c.Close()

	fmt.Println(c.Info().Scheme().Name)
}
