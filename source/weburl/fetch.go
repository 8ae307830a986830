package weburl

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultMaxBytes caps the page body.
	DefaultMaxBytes = 2 << 20
	// DefaultUserAgent identifies the fetcher.
	DefaultUserAgent = "semtest/1.0 (+story fetcher)"

	maxRedirects = 5
)

// Page is a fetched story page.
type Page struct {
	URL      string
	Title    string
	Markdown string
}

// Fetcher downloads pages and converts them to Markdown.
type Fetcher struct {
	client    *http.Client
	converter *Converter
	userAgent string
	maxBytes  int64
	validate  func(string) error
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithMaxBytes caps the accepted body size.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// NewFetcher returns a fetcher whose dialer refuses private addresses after
// DNS resolution, so a public name pointing at an internal host is rejected.
func NewFetcher(opts ...Option) *Fetcher {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}
		for _, ip := range ips {
			if IsPrivateIP(ip.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ip.IP)
			}
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("connect %s: %w", host, lastErr)
	}

	f := &Fetcher{
		converter: NewConverter(),
		userAgent: DefaultUserAgent,
		maxBytes:  DefaultMaxBytes,
		validate:  ValidateURL,
	}
	f.client = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext:         dial,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			if err := f.validate(req.URL.String()); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawURL and returns its main content as Markdown.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.validate(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown;q=0.9,text/plain;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("content too large (exceeds %d bytes)", f.maxBytes)
	}

	page := &Page{URL: rawURL}
	if !isHTML(resp.Header.Get("Content-Type")) {
		page.Markdown = strings.TrimSpace(string(body))
		return page, nil
	}

	converted, err := f.converter.Convert(body)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", rawURL, err)
	}
	page.Title = converted.Title
	page.Markdown = converted.Markdown
	return page, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html")
}
