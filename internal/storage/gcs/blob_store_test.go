package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func testOptions(server *httptest.Server) []option.ClientOption {
	return []option.ClientOption{option.WithEndpoint(server.URL), option.WithoutAuthentication()}
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	var gotName, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.URL.Query().Get("name")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		fmt.Fprintln(w, `{"name": "pages/1_2/abc.html"}`)
	}))
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), testOptions(server)...)
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: "archive", Prefix: "/pages/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "1_2/abc.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/pages/1_2/abc.html", uri)
	require.Equal(t, "pages/1_2/abc.html", gotName)
	require.Contains(t, gotBody, "<html></html>")
	require.NoError(t, store.Close())
}

func TestPutObjectReportsServerErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), testOptions(server)...)
	require.NoError(t, err)
	store, err := New(client, Config{Bucket: "archive"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = store.PutObject(ctx, "page.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestOpenChecksBucket(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/b/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintln(w, `{"name": "archive"}`)
	}))
	t.Cleanup(server.Close)

	store, err := Open(context.Background(), Config{Bucket: "archive"}, nil, testOptions(server)...)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), Config{Bucket: "missing"}, nil, testOptions(server)...)
	require.Error(t, err)
}
