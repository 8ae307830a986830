package weburl

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https URL", "https://wiki.example.com/stories/login", false},
		{"http URL rejected", "http://example.com", true},
		{"localhost rejected", "https://localhost:8080", true},
		{"localhost subdomain rejected", "https://app.localhost/story", true},
		{"loopback rejected", "https://127.0.0.1/path", true},
		{".local domain rejected", "https://jira.local/browse/X-1", true},
		{".internal domain rejected", "https://app.internal/api", true},
		{"private 192.168 rejected", "https://192.168.1.1/path", true},
		{"private 10/8 rejected", "https://10.0.0.1/path", true},
		{"unspecified rejected", "https://0.0.0.0/", true},
		{"no host", "https:///path", true},
		{"invalid URL", "not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		{"192.168.1.1", true},
		{"172.31.255.255", true},
		{"169.254.1.1", true},
		{"100.64.0.1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"::1", true},
		{"::ffff:192.168.1.1", true},
		{"::ffff:8.8.8.8", false},
		{"fe80::1", true},
		{"fc00::1", true},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP: %s", tt.ip)
			}
			if got := IsPrivateIP(ip); got != tt.expected {
				t.Errorf("IsPrivateIP(%q) = %v, want %v", tt.ip, got, tt.expected)
			}
		})
	}
}

const storyPage = `<!DOCTYPE html>
<html>
<head><title>User Login | Team Wiki</title><style>body { color: red }</style></head>
<body>
<nav><a href="/">Home</a> <a href="/admin">Admin panel</a></nav>
<main>
<h1>User Login</h1>
<p>As a registered user, I want to log into the system so that I can access my account.</p>
<h2>Acceptance Criteria</h2>
<ul>
<li>User can login with valid email and password</li>
<li>Rate limit after 5 failed attempts</li>
</ul>
<script>track()</script>
</main>
<footer>Copyright</footer>
</body>
</html>`

func TestConverter_Convert(t *testing.T) {
	got, err := NewConverter().Convert([]byte(storyPage))
	require.NoError(t, err)

	assert.Equal(t, "User Login | Team Wiki", got.Title)
	assert.Contains(t, got.Markdown, "# User Login")
	assert.Contains(t, got.Markdown, "As a registered user, I want to log into the system")
	assert.Contains(t, got.Markdown, "User can login with valid email and password")
	assert.Contains(t, got.Markdown, "Rate limit after 5 failed attempts")
	assert.NotContains(t, got.Markdown, "Admin panel")
	assert.NotContains(t, got.Markdown, "track()")
	assert.NotContains(t, got.Markdown, "Copyright")
	assert.NotContains(t, got.Markdown, "\n\n\n")
}

func TestConverter_TitleFromHeading(t *testing.T) {
	page := `<html><body><article><h1>Checkout</h1><p>As a shopper, I want to pay.</p></article></body></html>`
	got, err := NewConverter().Convert([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Checkout", got.Title)
}

func testFetcher(opts ...Option) *Fetcher {
	f := NewFetcher(opts...)
	f.client.Transport = http.DefaultTransport
	f.validate = func(string) error { return nil }
	return f
}

func TestFetcher_Fetch(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(storyPage))
	}))
	defer srv.Close()

	page, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, srv.URL, page.URL)
	assert.Equal(t, "User Login | Team Wiki", page.Title)
	assert.Contains(t, page.Markdown, "Rate limit after 5 failed attempts")
}

func TestFetcher_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		w.Write([]byte("  As a user, I want <b>raw</b> text  \n"))
	}))
	defer srv.Close()

	page, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "As a user, I want <b>raw</b> text", page.Markdown)
}

func TestFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")

	_, err = testFetcher(WithMaxBytes(16)).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	// Default validation blocks the plain-http loopback server.
	_, err = NewFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTPS")
}
