package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

type fixedIdentity struct {
	agent string
}

func (f fixedIdentity) Proxy() (*url.URL, error) { return nil, nil }
func (f fixedIdentity) UserAgent() string        { return f.agent }

type countingWaiter struct {
	calls int
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls++
	return w.err
}

func TestFetchGetFollowsRedirectsAndForwardsHeaders(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/info/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/bridge/loadingBridge.html?pcode=1", http.StatusFound)
	})
	mux.HandleFunc("/bridge/loadingBridge.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Agent", r.UserAgent())
		w.Header().Set("X-Seen-Referer", r.Referer())
		_, _ = w.Write([]byte("<html>bridge</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	waiter := &countingWaiter{}
	f := New(Config{Timeout: time.Second}, fixedIdentity{agent: "pricecrawler-test"}, waiter, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/info/?pcode=1",
		Headers: http.Header{"Referer": {"http://search.example/dsearch.php"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, waiter.calls)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, srv.URL+"/info/?pcode=1", resp.URL)
	require.Equal(t, srv.URL+"/bridge/loadingBridge.html?pcode=1", resp.FinalURL)
	require.Equal(t, "<html>bridge</html>", string(resp.Body))
	require.Equal(t, "pricecrawler-test", resp.Headers.Get("X-Seen-Agent"))
	require.Equal(t, "http://search.example/dsearch.php", resp.Headers.Get("X-Seen-Referer"))
}

func TestFetchPostsForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = r.ParseForm()
		_, _ = w.Write([]byte(r.PostForm.Get("query") + ":" + r.PostForm.Get("page")))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, nil, nil, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		Method: http.MethodPost,
		URL:    srv.URL,
		Form:   map[string]string{"query": "ssd", "page": "2"},
	})
	require.NoError(t, err)
	require.Equal(t, "ssd:2", string(resp.Body))
}

func TestFetchUsesRandomAgentWithoutIdentity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.UserAgent()))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, fixedIdentity{}, nil, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.NotEmpty(t, string(resp.Body))
	require.NotContains(t, string(resp.Body), "colly")
}

func TestFetchNon2xxIsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, nil, nil, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestFetchStopsWhenLimiterFails(t *testing.T) {
	t.Parallel()

	boom := errors.New("limited")
	f := New(Config{}, nil, &countingWaiter{err: boom}, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://127.0.0.1:1/"})
	require.ErrorIs(t, err, boom)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f := New(Config{Timeout: 5 * time.Second}, nil, nil, nil)
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(aborted)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	f := New(Config{Timeout: 30 * time.Second}, nil, nil, nil)

	begin := time.Now()
	resp, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, resp.StatusCode)
	require.Less(t, time.Since(begin), 5*time.Second)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the client abort the request")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, fixedIdentity{agent: "hook-agent"}, nil, nil)
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"Referer": {"https://example.com/list"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "https://example.com/list", collyReq.Headers.Get("Referer"))
	require.Equal(t, "hook-agent", collyReq.Headers.Get("User-Agent"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotFound,
		Body:       []byte("gone"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, "https://example.com/final", result.FinalURL)
	var statusErr *crawler.StatusError
	require.ErrorAs(t, fetchErr, &statusErr)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
