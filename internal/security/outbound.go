// Package security validates outbound webhook destinations so that
// tenant-supplied URLs cannot reach internal infrastructure.
package security

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrInvalidScheme    = errors.New("URL must use http or https scheme")
	ErrPrivateIP        = errors.New("URL points to a private IP address")
	ErrLoopbackIP       = errors.New("URL points to a loopback address")
	ErrLinkLocalIP      = errors.New("URL points to a link-local address")
	ErrMetadataEndpoint = errors.New("URL points to a cloud metadata endpoint")
	ErrUnresolvableHost = errors.New("cannot resolve hostname")
)

// blockedHosts are hostnames that must never be webhook targets.
var blockedHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata.goog":            true,
	"kubernetes.default.svc":   true,
	"kubernetes.default":       true,
	"localhost":                true,
	"localhost.localdomain":    true,
}

// ValidateWebhookURL checks that a tenant-configured webhook URL is an
// http(s) URL resolving only to public addresses.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidScheme
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return ErrInvalidURL
	}
	if blockedHosts[hostname] {
		return ErrMetadataEndpoint
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return ErrUnresolvableHost
	}
	for _, ip := range ips {
		if err := ValidateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIP rejects addresses an outbound delivery must never dial. It is
// applied on every dial, including redirects, so DNS rebinding after the
// initial URL check does not help an attacker.
func ValidateIP(ip net.IP) error {
	if ip.IsLoopback() {
		return ErrLoopbackIP
	}
	if ip.IsPrivate() {
		return ErrPrivateIP
	}
	// 169.254.0.0/16 and fe80::/10, which cover the AWS metadata endpoint
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ErrLinkLocalIP
	}
	if ip.IsUnspecified() {
		return ErrPrivateIP
	}
	// Alibaba metadata endpoint sits in shared address space, which
	// IsPrivate does not cover
	if ip.Equal(net.ParseIP("100.100.100.200")) {
		return ErrMetadataEndpoint
	}
	return nil
}
