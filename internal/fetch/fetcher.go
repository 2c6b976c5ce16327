// Package fetch provides the HTTP collaborator hlsinput uses to retrieve
// playlists and segments: a cookie-jar-enabled, circuit-broken, retryable
// GET built on top of pkg/httpclient.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/net/publicsuffix"

	"github.com/mediaswitch/tsswitch/pkg/httpclient"
)

// Fetcher is the external I/O collaborator HLS playlist/segment loading is
// built on. Get is used for small documents (playlists) that are parsed in
// full; Open is used for segments, which are streamed directly into the
// switch engine's packet buffers without ever being fully buffered. Close
// releases any session-scoped resources (the cookie file, if configured);
// it is safe to call once the owning HlsInput session has ended.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Open(ctx context.Context, url string) (io.ReadCloser, error)
	Close() error
}

// Config configures an HTTP-backed Fetcher.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxPlaylistSize bounds how much of a playlist response Get will
	// buffer, protecting against a malicious or misbehaving origin.
	MaxPlaylistSize int64
	// CookieFilePath, if non-empty, mirrors the session's cookie jar to
	// this path after every 200 OK response and removes the file on Close. Empty
	// disables the mirror; the jar itself is always in-memory regardless.
	CookieFilePath string
	// Fs is the filesystem CookieFilePath is written through. Defaults to
	// afero.NewOsFs() so tests can substitute afero.NewMemMapFs().
	Fs afero.Fs
}

// DefaultConfig returns sensible defaults for HLS playlist/segment fetching.
func DefaultConfig() Config {
	return Config{
		UserAgent:       "tsswitch-hlsinput/1.0",
		Timeout:         30 * time.Second,
		MaxPlaylistSize: 4 << 20,
	}
}

// httpFetcher is the production Fetcher. It keeps one cookie jar for the
// whole HlsInput session, so a Set-Cookie on the master playlist response
// is carried into the media playlist and every segment request, matching
// the "cookies persist across requests" requirement.
type httpFetcher struct {
	client *httpclient.Client
	jar    http.CookieJar
	maxLen int64

	fs         afero.Fs
	cookiePath string
	mu         sync.Mutex
	hosts      map[string]*url.URL
}

// NewHTTPFetcher builds a Fetcher backed by a fresh cookie jar and a
// circuit-broken, retrying httpclient.Client.
func NewHTTPFetcher(cfg Config) (Fetcher, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	base := httpclient.DefaultConfig()
	base.UserAgent = cfg.UserAgent
	base.Timeout = cfg.Timeout
	base.BaseClient = &http.Client{Jar: jar}

	// Each HLS session gets its own breaker: failures fetching one stream
	// must never open a circuit shared with an unrelated stream.
	breaker := httpclient.NewCircuitBreaker(
		httpclient.DefaultCircuitThreshold,
		httpclient.DefaultCircuitTimeout,
		httpclient.DefaultCircuitHalfOpenMax,
	)

	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	f := &httpFetcher{
		client:     httpclient.NewWithBreaker(base, breaker),
		jar:        jar,
		maxLen:     cfg.MaxPlaylistSize,
		fs:         fs,
		cookiePath: cfg.CookieFilePath,
		hosts:      make(map[string]*url.URL),
	}
	if f.cookiePath != "" {
		_ = afero.WriteFile(fs, f.cookiePath, nil, 0o600)
	}
	return f, nil
}

// Get retrieves the full body at url, bounded by maxLen.
func (f *httpFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}
	f.noteCookieHost(rawURL)

	body := resp.Body
	if f.maxLen > 0 {
		body = io.NopCloser(io.LimitReader(resp.Body, f.maxLen))
	}
	return io.ReadAll(body)
}

// Open returns a stream for url's body; the caller must Close it.
func (f *httpFetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}
	f.noteCookieHost(rawURL)
	return resp.Body, nil
}

// noteCookieHost records rawURL's host and rewrites the cookie mirror file,
// a Netscape-style dump of every cookie the jar holds for hosts seen this
// session. It is best-effort: a write failure is not surfaced, since the
// mirror is a debug convenience rather than something Get/Open depend on.
func (f *httpFetcher) noteCookieHost(rawURL string) {
	if f.cookiePath == "" {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.hosts[u.Host] = u
	hosts := make([]*url.URL, 0, len(f.hosts))
	for _, h := range f.hosts {
		hosts = append(hosts, h)
	}
	f.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("# Netscape HTTP Cookie File\n")
	for _, h := range hosts {
		for _, c := range f.jar.Cookies(h) {
			fmt.Fprintf(&sb, "%s\tTRUE\t/\tFALSE\t0\t%s\t%s\n", h.Hostname(), c.Name, c.Value)
		}
	}
	_ = afero.WriteFile(f.fs, f.cookiePath, []byte(sb.String()), 0o600)
}

// Close removes the cookie mirror file, if one was configured. The jar
// itself needs no cleanup; it is garbage-collected with the Fetcher.
func (f *httpFetcher) Close() error {
	if f.cookiePath == "" {
		return nil
	}
	if err := f.fs.Remove(f.cookiePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cookie file: %w", err)
	}
	return nil
}
