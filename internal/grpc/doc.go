/*
Package grpc provides a drand transport that uses drand's public gRPC API.

The transport asks a drand node for single beacons with PublicRand and for the
chain parameters with ChainInfo, tagging every request with the chain hash so
multi-beacon nodes answer for the right chain. Like every transport it never
verifies what it returns: the client races it against other providers and
checks the winner against the chain's root of trust.

Connections use TLS unless insecure is set, which is only meant for local
nodes and tests.
*/
package grpc
