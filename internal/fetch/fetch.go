// Package fetch retrieves formula artifacts over HTTP(S) or from file://
// URLs. Transient failures are retried with exponential backoff and files are
// only ever visible at their destination once complete.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
)

const (
	// DefaultTimeout bounds a single attempt, including reading the body.
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "keg/1.0"

	maxRedirects = 10
)

// StatusError is returned for a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Transient reports whether a retry may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500
}

// Fetcher downloads artifacts. It is safe for concurrent use.
type Fetcher struct {
	client          *http.Client
	userAgent       string
	retries         int
	timeout         time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration // 0: attempts are limited by retries only
	logger          zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.retries = n
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithBackoff sets the first and the largest wait between attempts.
func WithBackoff(initial, max time.Duration) Option {
	return func(f *Fetcher) {
		f.initialInterval = initial
		f.maxInterval = max
	}
}

// WithMaxElapsed caps the total time spent retrying one fetch. The default,
// 0, leaves the retry count as the only limit.
func WithMaxElapsed(d time.Duration) Option {
	return func(f *Fetcher) {
		if d >= 0 {
			f.maxElapsed = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent:       DefaultUserAgent,
		retries:         DefaultRetries,
		timeout:         DefaultTimeout,
		initialInterval: time.Second,
		maxInterval:     30 * time.Second,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Retries returns the configured retry count.
func (f *Fetcher) Retries() int {
	return f.retries
}

// Fetch returns the body at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var buf bytes.Buffer
	err := f.run(ctx, rawURL, func(body io.Reader) error {
		buf.Reset()
		_, err := io.Copy(&buf, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FetchToFile downloads rawURL to dest. The body is written to a temporary
// file in dest's directory and renamed over dest only after it is complete.
// On any failure, including cancellation, no partial file remains.
func (f *Fetcher) FetchToFile(ctx context.Context, rawURL, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	return f.run(ctx, rawURL, func(body io.Reader) error {
		return writeAtomic(dir, dest, body)
	})
}

func writeAtomic(dir, dest string, body io.Reader) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// run performs the request with retries and hands each successful response
// body to consume. consume may be called more than once if it fails
// transiently part way through the body.
func (f *Fetcher) run(ctx context.Context, rawURL string, consume func(io.Reader) error) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return kerr.Wrapf(err, kerr.CodeFetch, "invalid url %q", rawURL).With("url", rawURL)
	}

	switch u.Scheme {
	case "file":
		return f.readLocal(ctx, u, consume)
	case "http", "https":
	default:
		return kerr.Newf(kerr.CodeFetch, "unsupported url scheme %q", u.Scheme).With("url", rawURL)
	}

	eb := backoff.NewExponentialBackOff()
	if f.initialInterval > 0 {
		eb.InitialInterval = f.initialInterval
	}
	if f.maxInterval > 0 {
		eb.MaxInterval = f.maxInterval
	}

	attempts := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := f.attempt(ctx, rawURL, consume)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(f.retries+1)),
		backoff.WithMaxElapsedTime(f.maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Warn().Err(err).Str("url", rawURL).Int("attempt", attempts).
				Dur("retry_in", next).Msg("fetch failed, retrying")
		}),
	)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
	}

	kerrErr := kerr.Wrapf(err, kerr.CodeFetch, "fetch %s failed after %d attempt(s)", rawURL, attempts).
		With("url", rawURL).
		With("attempts", attempts)
	var se *StatusError
	if errors.As(err, &se) {
		kerrErr.With("status", se.StatusCode)
	}
	return kerrErr
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, consume func(io.Reader) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	f.logger.Debug().Str("url", rawURL).Int64("content_length", resp.ContentLength).Msg("downloading")
	return consume(resp.Body)
}

// isTransient treats 5xx and transport failures (including per-attempt
// timeouts) as retryable. 4xx status codes and local filesystem errors are
// not.
func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && !errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (f *Fetcher) readLocal(ctx context.Context, u *url.URL, consume func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := u.Path
	if u.Host != "" && u.Host != "localhost" {
		return kerr.Newf(kerr.CodeFetch, "file url with remote host %q", u.Host).With("url", u.String())
	}

	file, err := os.Open(path)
	if err != nil {
		return kerr.Wrapf(err, kerr.CodeFetch, "fetch %s", u.String()).With("url", u.String())
	}
	defer file.Close()

	if err := consume(&ctxReader{ctx: ctx, r: file}); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("fetch %s: %w", u.String(), ctx.Err())
		}
		return kerr.Wrapf(err, kerr.CodeFetch, "fetch %s", u.String()).With("url", u.String())
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
