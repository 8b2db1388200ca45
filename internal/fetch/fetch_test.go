package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
)

func newTestFetcher(opts ...Option) *Fetcher {
	base := []Option{WithBackoff(time.Millisecond, 5*time.Millisecond)}
	return New(append(base, opts...)...)
}

func assertNoFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(t, names, "no files should remain in %s", dir)
}

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("artifact bytes"))
	}))
	defer server.Close()

	data, err := newTestFetcher().Fetch(context.Background(), server.URL+"/a.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "artifact bytes", string(data))
}

func TestFetch_RetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		retries      int
		wantAttempts int32
		wantStatus   int
	}{
		{"server_error_is_retried", http.StatusInternalServerError, 3, 4, 500},
		{"bad_gateway_is_retried", http.StatusBadGateway, 2, 3, 502},
		{"too_many_requests_is_not_retried", http.StatusTooManyRequests, 3, 1, 429},
		{"request_timeout_is_not_retried", http.StatusRequestTimeout, 3, 1, 408},
		{"not_found_is_not_retried", http.StatusNotFound, 3, 1, 404},
		{"forbidden_is_not_retried", http.StatusForbidden, 3, 1, 403},
		{"zero_retries", http.StatusServiceUnavailable, 0, 1, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestFetcher(WithRetries(tt.retries)).Fetch(context.Background(), server.URL)
			require.Error(t, err)
			assert.True(t, errors.Is(err, kerr.ErrFetch), "want fetch error, got %v", err)
			assert.Equal(t, kerr.ExitFetch, kerr.ExitCode(err))
			assert.Equal(t, tt.wantAttempts, attempts.Load())

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantStatus, se.StatusCode)
		})
	}
}

func TestFetch_MaxElapsed(t *testing.T) {
	slowFailure := func(attempts *atomic.Int32) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			time.Sleep(20 * time.Millisecond)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
	}

	t.Run("unbounded_by_default", func(t *testing.T) {
		assert.Zero(t, New().maxElapsed)

		var attempts atomic.Int32
		server := slowFailure(&attempts)
		defer server.Close()

		_, err := newTestFetcher(WithRetries(4)).Fetch(context.Background(), server.URL)
		require.Error(t, err)
		assert.Equal(t, int32(5), attempts.Load())
	})

	t.Run("cap_stops_retrying", func(t *testing.T) {
		var attempts atomic.Int32
		server := slowFailure(&attempts)
		defer server.Close()

		_, err := newTestFetcher(WithRetries(10), WithMaxElapsed(30*time.Millisecond)).Fetch(context.Background(), server.URL)
		require.Error(t, err)
		assert.True(t, errors.Is(err, kerr.ErrFetch))
		assert.Less(t, attempts.Load(), int32(11))
	})
}

func TestFetch_RecoversAfterTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	data, err := newTestFetcher().Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetch_TimeoutIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte("second time lucky"))
	}))
	defer server.Close()

	data, err := newTestFetcher(WithTimeout(100*time.Millisecond)).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", string(data))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFetchToFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "nested", "pkg.tar.gz")
	require.NoError(t, newTestFetcher().FetchToFile(context.Background(), server.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the final file should exist")
}

func TestFetchToFile_FailureLeavesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	err := newTestFetcher(WithRetries(1)).FetchToFile(context.Background(), server.URL, filepath.Join(dir, "pkg.tgz"))
	require.Error(t, err)
	assertNoFiles(t, dir)
}

func TestFetchToFile_CancelMidTransfer(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	dir := t.TempDir()
	err := newTestFetcher().FetchToFile(ctx, server.URL, filepath.Join(dir, "pkg.tgz"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "want context.Canceled, got %v", err)
	assertNoFiles(t, dir)
}

func TestFetch_FileURL(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "local.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("local bytes"), 0o644))

	f := newTestFetcher()
	data, err := f.Fetch(context.Background(), "file://"+filepath.ToSlash(src))
	require.NoError(t, err)
	assert.Equal(t, "local bytes", string(data))

	dest := filepath.Join(t.TempDir(), "copy.tar.gz")
	require.NoError(t, f.FetchToFile(context.Background(), "file://"+filepath.ToSlash(src), dest))
	copied, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "local bytes", string(copied))

	_, err = f.Fetch(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "missing")))
	assert.True(t, errors.Is(err, kerr.ErrFetch), "want fetch error, got %v", err)
}

func TestFetch_UnsupportedScheme(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), "ftp://example.com/pkg.tgz")
	assert.True(t, errors.Is(err, kerr.ErrFetch), "want fetch error, got %v", err)
}

func TestFetch_ConnectionRefusedIsFetchError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestFetcher(WithRetries(1)).Fetch(context.Background(), url)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerr.ErrFetch), "want fetch error, got %v", err)
	assert.Contains(t, err.Error(), "2 attempt(s)")
}
