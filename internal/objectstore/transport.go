package objectstore

import (
	"net/http"
	"net/url"
	"sync"
	"time"
)

// newStreamingClient builds the *http.Client the Client's fetches run
// through: no overall request timeout, since a multi-gigabyte dump download
// can legitimately run for a long time, but a ResponseHeaderTimeout so a
// stalled upstream that never even starts responding is still detected.
func newStreamingClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// hostSemaphore caps concurrent in-flight requests per host so that the
// four per-entity-class fetches of one dump, all pointed at the same
// object-store host, don't look like a connection flood to it. Unlike the
// rate limiter (which paces request starts over time), this bounds how many
// requests are waiting for response headers at once; Client.do releases the
// slot as soon as the headers arrive, so a body still being streamed does
// not hold one.
type hostSemaphore struct {
	mu    sync.Mutex
	sems  map[string]chan struct{}
	limit int
}

func newHostSemaphore(concurrency int) *hostSemaphore {
	if concurrency < 1 {
		concurrency = 1
	}
	return &hostSemaphore{sems: make(map[string]chan struct{}), limit: concurrency}
}

// acquire blocks until a slot is free for the request's host and returns a
// release func the caller must call once the request completes.
func (h *hostSemaphore) acquire(rawURL string) func() {
	sem := h.semFor(rawURL)
	sem <- struct{}{}
	return func() { <-sem }
}

func (h *hostSemaphore) semFor(rawURL string) chan struct{} {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Scheme + "://" + u.Host
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sems[host]
	if !ok {
		s = make(chan struct{}, h.limit)
		h.sems[host] = s
	}
	return s
}
