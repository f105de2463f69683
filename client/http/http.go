package http

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	nhttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/drand/drand/v2/common/log"
	json "github.com/nikkolasg/hexjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/drand/drand-watch/chain"
	"github.com/drand/drand-watch/client"
	"github.com/drand/drand-watch/drand"
	"github.com/drand/drand-watch/internal/metrics"
)

// maxBodySize bounds what is read from a provider; beacons are a few hundred bytes.
const maxBodySize = 64 << 10

const userAgent = "drand-watch"

var errClientClosed = errors.New("client closed")

// Client fetches beacons of one chain from one drand HTTP provider.
type Client struct {
	root      string
	chainHash string
	client    *nhttp.Client
	owned     *nhttp.Transport
	l         log.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a transport for the provider at baseURL serving the chain
// identified by chainHash. A nil transport uses a private copy of
// http.DefaultTransport, released by Close.
func New(l log.Logger, baseURL string, chainHash []byte, transport nhttp.RoundTripper) (*Client, error) {
	if l == nil {
		l = log.DefaultLogger()
	}
	if len(chainHash) != chain.HashLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", drand.ErrInvalidChainHash, chain.HashLen, len(chainHash))
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing provider url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("provider url %q: unsupported scheme %q", baseURL, u.Scheme)
	}
	var owned *nhttp.Transport
	if transport == nil {
		owned = nhttp.DefaultTransport.(*nhttp.Transport).Clone()
		transport = owned
	}
	root := strings.TrimSuffix(u.String(), "/")

	return &Client{
		root:      root,
		chainHash: hex.EncodeToString(chainHash),
		client:    &nhttp.Client{Transport: instrumentTransport(root, transport)},
		owned:     owned,
		l:         l.Named("http_client"),
		done:      make(chan struct{}),
	}, nil
}

// ForURLs creates a transport per URL, skipping the ones that cannot be used.
func ForURLs(l log.Logger, urls []string, chainHash []byte) []drand.Transport {
	if l == nil {
		l = log.DefaultLogger()
	}
	transports := make([]drand.Transport, 0, len(urls))
	for _, u := range urls {
		c, err := New(l, u, chainHash, nil)
		if err != nil {
			l.Warnw("", "http_client", "failed to load URL", "url", u, "err", err)
			continue
		}
		transports = append(transports, c)
	}
	return transports
}

func instrumentTransport(root string, rt nhttp.RoundTripper) nhttp.RoundTripper {
	labels := prometheus.Labels{"provider": root}
	rt = promhttp.InstrumentRoundTripperDuration(metrics.HTTPRequestDuration.MustCurryWith(labels), rt)
	rt = promhttp.InstrumentRoundTripperCounter(metrics.HTTPRequests.MustCurryWith(labels), rt)
	return otelhttp.NewTransport(rt)
}

// String returns the name of this client.
func (h *Client) String() string {
	return fmt.Sprintf("HTTP(%q)", h.root)
}

// SetLog configures the client log output.
func (h *Client) SetLog(l log.Logger) {
	h.l = l.Named("http_client")
}

// Fetch returns the beacon at round, or the latest one for round 0. The
// result is decoded but not verified.
func (h *Client) Fetch(ctx context.Context, round uint64) (drand.Result, error) {
	select {
	case <-h.done:
		return nil, h.unreachable(errClientClosed)
	default:
	}

	which := "latest"
	if round != drand.LatestRound {
		which = strconv.FormatUint(round, 10)
	}
	body, err := h.get(ctx, h.chainHash+"/public/"+which)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	rd := new(client.RandomData)
	if err := json.NewDecoder(io.LimitReader(body, maxBodySize)).Decode(rd); err != nil {
		return nil, h.decode(err)
	}
	switch {
	case rd.Rnd == 0:
		return nil, h.decode(errors.New("missing round"))
	case len(rd.Sig) == 0:
		return nil, h.decode(errors.New("missing signature"))
	case len(rd.Random) == 0:
		return nil, h.decode(errors.New("missing randomness"))
	}

	h.l.Debugw("", "http_client", "fetched", "round", rd.Rnd, "requested", round)
	return rd, nil
}

// Info fetches the chain info from the provider. It fails if the provider
// serves a chain with another hash.
func (h *Client) Info(ctx context.Context) (*chain.Config, error) {
	body, err := h.get(ctx, h.chainHash+"/info")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	cfg, err := chain.InfoFromJSON(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, h.decode(err)
	}
	if cfg.HashString() != h.chainHash {
		return nil, fmt.Errorf("%w: %s served %s", drand.ErrInvalidChainHash, h.root, cfg.HashString())
	}
	return cfg, nil
}

func (h *Client) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := nhttp.NewRequestWithContext(ctx, nhttp.MethodGet, h.root+"/"+path, nhttp.NoBody)
	if err != nil {
		return nil, h.unreachable(err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, h.unreachable(err)
	}
	if resp.StatusCode != nhttp.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		_ = resp.Body.Close()
		return nil, h.unreachable(fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path))
	}
	h.l.Debugw("", "http_client", "response", "path", path, "took", time.Since(start))
	return resp.Body, nil
}

func (h *Client) unreachable(err error) error {
	return &drand.TransportError{Provider: h.String(), Kind: drand.ErrUnreachable, Err: err}
}

func (h *Client) decode(err error) error {
	return &drand.TransportError{Provider: h.String(), Kind: drand.ErrDecode, Err: err}
}

// Close stops the client; later fetches fail as unreachable.
func (h *Client) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		if h.owned != nil {
			h.owned.CloseIdleConnections()
		}
	})
	return nil
}
