// Package drand holds the types shared by every package of drand-watch: the
// beacon result contract, the transport contract and the error taxonomy.
package drand

import (
	"context"

	"github.com/drand/drand/v2/common/log"
)

// LatestRound asks a transport for the most recent round it knows of.
const LatestRound uint64 = 0

// Result is one published round of a randomness chain.
type Result interface {
	GetRound() uint64
	GetRandomness() []byte
	GetSignature() []byte
	// GetPreviousSignature is only set for chained schemes.
	GetPreviousSignature() []byte
}

// Transport fetches beacons from a single provider. Round 0 means the latest
// round, anything else a specific round. A transport never verifies what it
// returns and must honour ctx cancellation.
type Transport interface {
	Fetch(ctx context.Context, round uint64) (Result, error)
	String() string
}

// LoggingTransport is a transport whose logger can be replaced by its owner.
type LoggingTransport interface {
	SetLog(l log.Logger)
}
