// Package weburl fetches user stories published as web pages. Requests are
// restricted to public HTTPS hosts and the page body is converted to Markdown
// so the story parser can read it.
package weburl

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Reserved ranges not covered by the net.IP predicates.
var reserved = mustCIDRs(
	"100.64.0.0/10", // carrier-grade NAT
	"fc00::/7",      // IPv6 unique local
	"fe80::/10",     // IPv6 link-local
	"0.0.0.0/8",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("weburl: bad CIDR " + c + ": " + err.Error())
		}
		out = append(out, n)
	}
	return out
}

// ValidateURL rejects anything but HTTPS URLs on public hosts.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("local domain URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
		return fmt.Errorf("private IP addresses are not allowed")
	}
	return nil
}

// IsPrivateIP reports loopback, private, link-local and reserved addresses,
// including IPv4-mapped IPv6 forms.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range reserved {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
