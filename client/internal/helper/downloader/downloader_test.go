package downloader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = bytes.Repeat([]byte("qz"), 100*1024)

func servePayload(w http.ResponseWriter) {
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "qzmanager/")
		servePayload(w)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "qz-tray-2.2.5-x86_64.run")

	var events []Progress
	got, err := New().Fetch(context.Background(), srv.URL, dest, func(p Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	assert.Equal(t, dest, got)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, int64(len(payload)), last.DownloadedBytes)
	assert.Equal(t, int64(len(payload)), last.TotalBytes)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
	}
	assert.Equal(t, []string{filepath.Base(dest)}, dirEntries(t, dir))
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		servePayload(w)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "cached.run")
	require.NoError(t, os.WriteFile(dest, []byte("cached"), 0o644))

	got, err := New().Fetch(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, dest, got)
	assert.Equal(t, int32(0), hits.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
}

func TestFetch_ReplacesEmptyLeftover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		servePayload(w)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "empty.run")
	require.NoError(t, os.WriteFile(dest, nil, 0o644))

	_, err := New().Fetch(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size())
}

func TestFetch_FollowsRedirect(t *testing.T) {
	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/release", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Redirect(w, r, "/asset", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/asset", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		servePayload(w)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "redirected.run")

	_, err := New().Fetch(context.Background(), srv.URL+"/release", dest, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, []string{"redirected.run"}, dirEntries(t, dir))
}

func TestFetch_RedirectChainBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := New(WithMaxRedirects(3)).Fetch(context.Background(), srv.URL+"/loop", filepath.Join(dir, "loop.run"), nil)
	require.ErrorIs(t, err, ErrTooManyRedirects)
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetch_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := New().Fetch(context.Background(), srv.URL, filepath.Join(dir, "missing.run"), nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload[:1024])
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := New(WithTimeout(200*time.Millisecond)).Fetch(context.Background(), srv.URL, filepath.Join(dir, "slow.run"), nil)
	require.ErrorIs(t, err, ErrDownloadTimeout)
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	dir := t.TempDir()
	_, err := New().Fetch(context.Background(), url, filepath.Join(dir, "unreachable.run"), nil)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetch_TruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload[:10])
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := New().Fetch(context.Background(), srv.URL, filepath.Join(dir, "truncated.run"), nil)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Empty(t, dirEntries(t, dir))
}

func TestProgress_MB(t *testing.T) {
	p := Progress{Percent: 50, DownloadedBytes: 5 * 1024 * 1024, TotalBytes: 10 * 1024 * 1024}
	assert.Equal(t, "5.0", p.DownloadedMB())
	assert.Equal(t, "10.0", p.TotalMB())
}
