/*
Package client provides transport-agnostic logic to watch and fetch verified
randomness from a drand chain.

The "From" option allows you to specify the transports the client races for
each round. An HTTP transport is provided as a subpackage,
https://pkg.go.dev/github.com/drand/drand-watch/client/http. Note that you
are not restricted to just one transport: every round is requested from all
healthy ones at once, the first answer wins and the others are cancelled.
Providers that keep failing are only retried every few races.

A watch session, started with "Watch" or "Subscribe", first fetches the
latest round, then waits for each following round to be due, fetches it,
verifies it and hands it over. Rounds are emitted in order, without gaps or
duplicates. A beacon that fails verification ends the session, and so does a
run of failed races longer than the retry budget.

WARNING: When using the client you should use the "WithChainHash" or
"WithChainConfig" option in order for your client to validate the randomness
it receives is from the correct chain. You may use the
"InsecureSkipVerification" option to bypass verification but it is not
recommended.

In an application that uses the drand client, the following options are likely
to be needed/customized:

	WithCacheSize()
		should be set to something sensible for your application.

	WithTrustedResult()
		should be set if you have persistent state and expect to resume
		following the chain where you left it.

	WithRequestTimeout()
	WithRetryBudget()
	WithBackoff()
		tune how long a watch keeps trying before it gives up.

	WithPrometheus()
		enables metrics reporting on speed and performance to a
		provided prometheus registry.
*/
package client
