package drand

import (
	"errors"
	"fmt"
)

// ErrInvalidChainHash means there was an error or a mismatch with the chain hash
var ErrInvalidChainHash = errors.New("incorrect chain hash")

// ErrConfig means the chain parameters are malformed. It is fatal at construction.
var ErrConfig = errors.New("invalid chain config")

// Transport error kinds.
var (
	// ErrDecode means a provider answered but its body could not be used.
	ErrDecode = errors.New("malformed provider response")
	// ErrUnreachable means the provider could not be reached in time or did not answer with 200.
	ErrUnreachable = errors.New("provider unreachable")
)

// ErrFutureRound means the providers agreed on a latest round the chain
// cannot have reached yet.
var ErrFutureRound = errors.New("round is ahead of the chain clock")

// ErrAllFailed means every provider taking part in a race failed.
var ErrAllFailed = errors.New("all providers failed")

// ErrNoProviders means a race was requested on an empty provider pool.
var ErrNoProviders = errors.New("no providers available")

// Verification error kinds.
var (
	ErrRandomnessMismatch = errors.New("randomness does not match signature")
	ErrMissingPriorRound  = errors.New("missing or non-adjacent prior round")
	ErrInvalidSignature   = errors.New("invalid beacon signature")
)

// Watch error kinds.
var (
	// ErrInvalid marks a session terminated by a beacon that failed verification.
	ErrInvalid = errors.New("untrustworthy beacon")
	// ErrRetriesExhausted marks a session terminated after the retry budget was spent.
	ErrRetriesExhausted = errors.New("retry budget exhausted")
)

// ErrSessionEnded is returned when a watch session is started twice.
var ErrSessionEnded = errors.New("watch session already used, construct a new watcher")

// ConfigError reports a malformed chain parameter.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrConfig, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrConfig, e.Err}
}

// TransportError reports a single provider failure. Kind is ErrDecode or ErrUnreachable.
type TransportError struct {
	Provider string
	Kind     error
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// RaceError reports that no provider of a race succeeded. Causes holds one entry per entrant.
type RaceError struct {
	Round  uint64
	Causes error
}

func (e *RaceError) Error() string {
	return fmt.Sprintf("%s for round %d: %v", ErrAllFailed, e.Round, e.Causes)
}

func (e *RaceError) Unwrap() []error {
	return []error{ErrAllFailed, e.Causes}
}

// VerificationError reports why a beacon was rejected. Kind is one of
// ErrRandomnessMismatch, ErrMissingPriorRound or ErrInvalidSignature.
type VerificationError struct {
	Round uint64
	Kind  error
	Err   error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("round %d: %v", e.Round, e.Kind)
	}
	return fmt.Sprintf("round %d: %v: %v", e.Round, e.Kind, e.Err)
}

func (e *VerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WatchError is the only error a watch session hands to its consumer. Kind is
// ErrInvalid for verification failures and ErrRetriesExhausted once the
// providers stayed unreachable for longer than the retry budget.
type WatchError struct {
	Round uint64
	Kind  error
	Err   error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch stopped at round %d: %v: %v", e.Round, e.Kind, e.Err)
}

func (e *WatchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
