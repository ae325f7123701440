// Package crawl implements the authenticated downloader pool that pages
// through the site and feeds the page cache.
package crawl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/omnimuse/trackmapper/internal/pipeline"
)

// Page is the outcome of one page fetch, redirects already followed.
type Page struct {
	StatusCode int
	Body       []byte
	// RedirectedFromFound is true when the request was redirected and the
	// first hop of the chain was 302. The site answers out-of-range page
	// numbers and expired sessions the same way, so callers treat it as
	// end-of-results.
	RedirectedFromFound bool
}

// PageFetcher is the fetch surface a crawl worker consumes.
type PageFetcher interface {
	Login(ctx context.Context) error
	FetchPage(ctx context.Context, pageURL string) (Page, error)
}

// SessionConfig controls an authenticated session.
type SessionConfig struct {
	LoginURL  string
	Username  string
	Password  string
	UserAgent string
	Timeout   time.Duration
}

// Session owns one authenticated cookie-carrying collector. A session
// belongs to exactly one crawl worker and is never shared.
type Session struct {
	cfg       SessionConfig
	collector *colly.Collector
	transport *recordingTransport

	// mu serializes Login/FetchPage; a session serves one worker but a
	// canceled fetch may still be finishing in the background.
	mu sync.Mutex

	// stateMu guards the collector-callback results. The callbacks run on
	// the collector's goroutine, which can outlive a canceled fetch.
	stateMu    sync.Mutex
	lastStatus int
	lastBody   []byte
}

// NewSession builds an unauthenticated session. Call Login before fetching.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(cfg.Timeout)

	transport := newRecordingTransport(nil)
	c.WithTransport(transport)

	s := &Session{cfg: cfg, collector: c, transport: transport}

	c.OnResponse(func(r *colly.Response) {
		s.stateMu.Lock()
		s.lastStatus = r.StatusCode
		s.lastBody = append([]byte(nil), r.Body...)
		s.stateMu.Unlock()
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil && r.StatusCode != 0 {
			s.stateMu.Lock()
			s.lastStatus = r.StatusCode
			s.stateMu.Unlock()
		}
	})

	return s
}

// Login fetches the login form, lifts the anti-forgery token out of it,
// and posts the credentials. Only the cookies the response sets matter.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := s.fetchLocked(ctx, s.cfg.LoginURL)
	if err != nil {
		return pipeline.E(pipeline.KindFetch, "fetch login page", err)
	}

	token, err := csrfToken(body)
	if err != nil {
		return pipeline.E(pipeline.KindExtract, "extract csrf token", err)
	}

	form := url.Values{}
	form.Set("username", s.cfg.Username)
	form.Set("password", s.cfg.Password)
	form.Set("submit", "")
	form.Set("csrfmiddlewaretoken", token)

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	hdr.Set("Referer", s.cfg.LoginURL)

	if err := s.runCollector(ctx, func() error {
		return s.collector.Request(http.MethodPost, s.cfg.LoginURL, bytes.NewReader([]byte(form.Encode())), nil, hdr)
	}); err != nil {
		return pipeline.E(pipeline.KindFetch, "post login form", err)
	}
	return nil
}

// FetchPage GETs one page with the session cookies and reports the status
// plus whether the request was redirected off a 302 first hop.
func (s *Session) FetchPage(ctx context.Context, pageURL string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := s.fetchLocked(ctx, pageURL)
	if err != nil {
		if status := s.status(); status != 0 {
			// The exchange completed with a non-success status; that is a
			// pagination signal, not a transport failure.
			hops := s.transport.Hops()
			return Page{
				StatusCode:          status,
				RedirectedFromFound: len(hops) > 1 && hops[0] == http.StatusFound,
			}, nil
		}
		return Page{}, pipeline.E(pipeline.KindFetch, "fetch page", err)
	}

	hops := s.transport.Hops()
	return Page{
		StatusCode:          s.status(),
		Body:                body,
		RedirectedFromFound: len(hops) > 1 && hops[0] == http.StatusFound,
	}, nil
}

func (s *Session) status() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastStatus
}

// fetchLocked visits a URL and returns the response body. Caller holds s.mu.
func (s *Session) fetchLocked(ctx context.Context, pageURL string) ([]byte, error) {
	if err := s.runCollector(ctx, func() error {
		return s.collector.Visit(pageURL)
	}); err != nil {
		return nil, err
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastBody, nil
}

// runCollector executes one collector operation, resetting the per-fetch
// state first and respecting context cancellation. The HTTP exchange
// itself always runs to completion.
func (s *Session) runCollector(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.transport.Reset()
	s.stateMu.Lock()
	s.lastStatus = 0
	s.lastBody = nil
	s.stateMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- op()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func csrfToken(loginPage []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loginPage))
	if err != nil {
		return "", fmt.Errorf("parse login page: %w", err)
	}
	token, ok := doc.Find(`input[name="csrfmiddlewaretoken"]`).First().Attr("value")
	if !ok || token == "" {
		return "", fmt.Errorf("login page has no csrfmiddlewaretoken input")
	}
	return token, nil
}
