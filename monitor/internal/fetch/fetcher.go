// Package fetch retrieves documents over HTTP with conditional GET, and
// optionally renders script-built pages in a headless browser.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotModified is returned when the server answers 304 to a conditional
// request.
var ErrNotModified = errors.New("fetch: not modified")

// Result is one successful fetch. ETag and LastModified are the
// validators to send with the next conditional request.
type Result struct {
	Body         []byte
	ContentType  string
	StatusCode   int
	ETag         string
	LastModified string
}

// Config configures the HTTP fetcher.
type Config struct {
	Timeout      time.Duration `yaml:"timeout" toml:"timeout"`
	MaxBytes     int64         `yaml:"max_bytes" toml:"max_bytes"`
	UserAgent    string        `yaml:"user_agent" toml:"user_agent"`
	AllowPrivate bool          `yaml:"allow_private" toml:"allow_private"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "argus/1.0 (+change monitor)"
	}
}

// Fetcher performs HTTP GETs. It keeps no per-URL state: callers pass the
// validators of the copy they hold. It is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	cfg      Config
	validate func(string) error
}

// New creates a Fetcher. Redirect targets are validated like the original URL.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := ValidateURL
	if cfg.AllowPrivate {
		validate = func(u string) error { _, err := CheckScheme(u); return err }
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		cfg:      cfg,
		validate: validate,
	}
}

// Fetch retrieves url, advertising accept as the wanted content type. If
// etag or lastMod are provided the request is conditional and a 304
// answer yields ErrNotModified.
func (f *Fetcher) Fetch(ctx context.Context, url, accept, etag, lastMod string) (*Result, error) {
	if err := f.validate(url); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept+", */*;q=0.5")
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: %s: http %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	return &Result{
		Body:         body,
		ContentType:  resp.Header.Get("Content-Type"),
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}
