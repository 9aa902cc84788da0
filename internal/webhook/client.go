package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/contestkit/eventcore/internal/security"
)

// newSafeHTTPClient creates an HTTP client that validates destination IPs on
// every connection, including redirects, so tenant-supplied URLs cannot be
// used for SSRF. Per-attempt timeouts come from the request context, not the
// client.
func newSafeHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.LookupIP(host)
			if err != nil {
				return nil, fmt.Errorf("cannot resolve %s: %w", host, err)
			}
			for _, ip := range ips {
				if err := security.ValidateIP(ip); err != nil {
					return nil, fmt.Errorf("blocked destination %s (%s): %w", host, ip, err)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}
