package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnimuse/trackmapper/internal/pipeline"
)

const loginFormHTML = `<html><body>
<form method="post" action="/login">
  <input type="hidden" name="csrfmiddlewaretoken" value="tok-123">
  <input type="text" name="username">
  <input type="password" name="password">
</form>
</body></html>`

type loginRecorder struct {
	mu       sync.Mutex
	form     map[string]string
	referer  string
	hadToken bool
}

func newLoginServer(t *testing.T) (*httptest.Server, *loginRecorder) {
	t.Helper()
	rec := &loginRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok-123"})
			_, _ = w.Write([]byte(loginFormHTML))
			return
		}
		require.NoError(t, r.ParseForm())
		rec.mu.Lock()
		rec.form = map[string]string{
			"username":            r.PostFormValue("username"),
			"password":            r.PostFormValue("password"),
			"csrfmiddlewaretoken": r.PostFormValue("csrfmiddlewaretoken"),
		}
		rec.referer = r.Header.Get("Referer")
		_, err := r.Cookie("csrftoken")
		rec.hadToken = err == nil
		rec.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-abc"})
		_, _ = w.Write([]byte("welcome"))
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sessionid")
		if err != nil || c.Value != "sess-abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("secret page"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestLoginPostsCredentialsWithToken(t *testing.T) {
	t.Parallel()

	srv, rec := newLoginServer(t)
	s := NewSession(SessionConfig{
		LoginURL: srv.URL + "/login",
		Username: "mapper",
		Password: "hunter2",
	})

	require.NoError(t, s.Login(context.Background()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, map[string]string{
		"username":            "mapper",
		"password":            "hunter2",
		"csrfmiddlewaretoken": "tok-123",
	}, rec.form)
	assert.Equal(t, srv.URL+"/login", rec.referer)
	assert.True(t, rec.hadToken, "login post should carry the cookie set by the form page")
}

func TestSessionKeepsCookiesAcrossFetches(t *testing.T) {
	t.Parallel()

	srv, _ := newLoginServer(t)
	s := NewSession(SessionConfig{
		LoginURL: srv.URL + "/login",
		Username: "mapper",
		Password: "hunter2",
	})
	require.NoError(t, s.Login(context.Background()))

	page, err := s.FetchPage(context.Background(), srv.URL+"/private")
	require.NoError(t, err)
	assert.Equal(t, 200, page.StatusCode)
	assert.Equal(t, []byte("secret page"), page.Body)
	assert.False(t, page.RedirectedFromFound)
}

func TestLoginFailsWhenTokenMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>no form here</body></html>"))
	}))
	t.Cleanup(srv.Close)

	s := NewSession(SessionConfig{LoginURL: srv.URL})
	err := s.Login(context.Background())
	require.Error(t, err)

	kind, ok := pipeline.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pipeline.KindExtract, kind)
}

func TestFetchPageReportsFoundRedirect(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/tracks", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landing", http.StatusFound)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("landing"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := NewSession(SessionConfig{LoginURL: srv.URL + "/login"})

	page, err := s.FetchPage(context.Background(), srv.URL+"/tracks")
	require.NoError(t, err)
	assert.Equal(t, 200, page.StatusCode)
	assert.True(t, page.RedirectedFromFound)
}

func TestFetchPageNonSuccessStatusIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	s := NewSession(SessionConfig{LoginURL: srv.URL + "/login"})

	page, err := s.FetchPage(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, 404, page.StatusCode)
}

func TestFetchPageUnreachableHostIsFetchError(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{LoginURL: "http://127.0.0.1:0/login"})

	_, err := s.FetchPage(context.Background(), "http://127.0.0.1:0/page")
	require.Error(t, err)

	kind, ok := pipeline.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pipeline.KindFetch, kind)
}

func TestFetchPageHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSession(SessionConfig{LoginURL: srv.URL + "/login"})
	_, err := s.FetchPage(ctx, srv.URL+"/page")
	require.Error(t, err)
}

func TestSessionUsableAfterCanceledFetch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	})
	mux.HandleFunc("/fast", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fast page"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s := NewSession(SessionConfig{LoginURL: srv.URL + "/login"})

	// Abandon a fetch mid-flight; its collector callback fires later,
	// while the next fetch is already using the session.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.FetchPage(ctx, srv.URL+"/slow")
	require.Error(t, err)

	page, err := s.FetchPage(context.Background(), srv.URL+"/fast")
	require.NoError(t, err)
	assert.Equal(t, 200, page.StatusCode)
	assert.Equal(t, []byte("fast page"), page.Body)
}
