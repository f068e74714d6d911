// Package objectstore discovers and fetches Discogs dump files from the
// upstream object store. A download is a plain GET that, if the connection
// drops mid-transfer, is resumed with a ranged GET from the current byte
// offset (no HEAD request is made), exposed as a verified, decompressed byte
// stream rather than written to a local file, since the pipeline
// consumes bytes directly rather than materializing them to disk first.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

// ErrUpstreamUnavailable wraps any transport-level failure talking to the
// object store (connection refused, timeout, non-2xx listing response).
type ErrUpstreamUnavailable struct {
	Op    string
	Cause error
}

func (e *ErrUpstreamUnavailable) Error() string {
	return fmt.Sprintf("objectstore: %s unavailable: %v", e.Op, e.Cause)
}

func (e *ErrUpstreamUnavailable) Unwrap() error { return e.Cause }

// ErrChecksumMismatch is returned at end-of-stream when the incrementally
// computed SHA-256 of a fetched file does not match its manifest digest.
type ErrChecksumMismatch struct {
	Version string
	Class   canonical.EntityClass
	Want    string
	Got     string
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("objectstore: checksum mismatch for %s/%s: want %s got %s", e.Version, e.Class, e.Want, e.Got)
}

// Client locates, verifies, and fetches dump files from the object store
// rooted at BaseURL (e.g. "https://discogs-data-dumps.s3.us-west-2.amazonaws.com/data").
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *rate.Limiter
	hostSem *hostSemaphore
}

// New builds a Client with an HTTP/2-capable transport, a per-process
// request-rate limiter, and a per-host concurrency cap, building a
// long-lived client with tuned transport settings rather than using
// http.DefaultClient. The client has no overall request timeout since Fetch
// downloads can run far longer than any reasonable fixed deadline permits;
// ResponseHeaderTimeout still catches an upstream that never starts
// responding at all.
func New(baseURL string, requestsPerSecond float64) (*Client, error) {
	base := newStreamingClient()
	transport, ok := base.Transport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("objectstore: expected *http.Transport from newStreamingClient")
	}
	h2transport, err := http2.ConfigureTransports(transport)
	if err != nil {
		return nil, fmt.Errorf("objectstore: configure http2: %w", err)
	}
	h2transport.ReadIdleTimeout = 30 * time.Second

	if requestsPerSecond <= 0 {
		requestsPerSecond = 4
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    base,
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		hostSem: newHostSemaphore(4),
	}, nil
}

func (c *Client) objectURL(parts ...string) string {
	return c.BaseURL + "/" + strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, req *http.Request, op string) (*http.Response, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, &ErrUpstreamUnavailable{Op: op, Cause: err}
	}
	release := c.hostSem.acquire(req.URL.String())
	resp, err := c.HTTP.Do(req)
	release()
	if err != nil {
		return nil, &ErrUpstreamUnavailable{Op: op, Cause: err}
	}
	return resp, nil
}

// VerifyManifest downloads the checksum manifest for version and parses its
// "<hex>  <filename>" lines into a map keyed by entity class.
func (c *Client) VerifyManifest(ctx context.Context, version string) (map[canonical.EntityClass]string, error) {
	url := c.objectURL(version, "CHECKSUM.txt")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req, "verify_manifest")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ErrUpstreamUnavailable{Op: "verify_manifest", Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrUpstreamUnavailable{Op: "verify_manifest", Cause: err}
	}
	return parseChecksumManifest(version, body)
}

func parseChecksumManifest(version string, body []byte) (map[canonical.EntityClass]string, error) {
	digests := make(map[canonical.EntityClass]string, len(canonical.Classes))
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		hexDigest, filename := fields[0], fields[len(fields)-1]
		class := classForFilename(version, filename)
		if class == "" {
			continue
		}
		digests[class] = strings.ToLower(hexDigest)
	}
	if len(digests) != len(canonical.Classes) {
		return nil, fmt.Errorf("objectstore: manifest for %s has %d of %d expected entries", version, len(digests), len(canonical.Classes))
	}
	return digests, nil
}

// classForFilename matches the Discogs dump naming convention
// discogs_YYYYMMDD_<class>s.xml.gz to an entity class.
func classForFilename(version, filename string) canonical.EntityClass {
	base := filename
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	for _, class := range canonical.Classes {
		if strings.Contains(base, class.RootTag()+".xml") {
			return class
		}
	}
	return ""
}

func (c *Client) dumpFileName(version string, class canonical.EntityClass) string {
	return fmt.Sprintf("discogs_%s_%s.xml.gz", version, class.RootTag())
}
