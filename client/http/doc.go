/*
Package http provides a drand transport that uses drand's HTTP API.

The transport uses drand's JSON HTTP API
(https://drand.love/developer/http-api/) to fetch a single beacon per call,
either a given round or the latest one. It does not verify what it fetches;
the client package races several transports and verifies the winner.

The "ForURLs" helper creates multiple HTTP transports from a list of
URLs. Alternatively you can use the "New" constructor to create them one by
one.

Tip: Provide multiple URLs so that rounds are raced across providers and a
failing one does not stall the watch.
*/
package http
