package crawl

import (
	"net/http"
	"sync"
)

// recordingTransport wraps a RoundTripper and records the status code of
// every hop the client makes while following redirects. The crawl loop
// needs the first hop of a chain to tell "redirected away from a listing
// page" apart from a plain 200.
type recordingTransport struct {
	base http.RoundTripper

	mu   sync.Mutex
	hops []int
}

func newRecordingTransport(base http.RoundTripper) *recordingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &recordingTransport{base: base}
}

// RoundTrip delegates to the base transport and records the response status.
func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		t.mu.Lock()
		t.hops = append(t.hops, resp.StatusCode)
		t.mu.Unlock()
	}
	return resp, err
}

// Reset clears the recorded chain before a new logical fetch.
func (t *recordingTransport) Reset() {
	t.mu.Lock()
	t.hops = t.hops[:0]
	t.mu.Unlock()
}

// Hops returns the recorded status chain in request order.
func (t *recordingTransport) Hops() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.hops...)
}
