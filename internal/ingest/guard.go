package ingest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"

	"github.com/your-org/chirp/internal/models"
)

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// URLGuard rejects URLs that would make the server fetch from private,
// loopback, link-local or reserved addresses.
type URLGuard struct {
	resolver Resolver
	allowed  []netip.Prefix
}

type GuardOption func(*URLGuard)

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) GuardOption {
	return func(g *URLGuard) { g.resolver = r }
}

// WithAllowedPrefixes exempts the given networks from the address check.
func WithAllowedPrefixes(prefixes ...netip.Prefix) GuardOption {
	return func(g *URLGuard) { g.allowed = append(g.allowed, prefixes...) }
}

func NewURLGuard(opts ...GuardOption) *URLGuard {
	g := &URLGuard{resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// Blocked reports whether addr must not be fetched from.
func (g *URLGuard) Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range g.allowed {
		if p.Contains(addr) {
			return false
		}
	}
	if !addr.IsValid() || addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsInterfaceLocalMulticast() || addr.IsMulticast() ||
		addr.IsUnspecified() {
		return true
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Validate checks scheme, host and every resolved address of raw. Failures
// are *models.ValidationError.
func (g *URLGuard) Validate(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", models.NewValidationError("url", "cannot parse")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", models.NewValidationError("url", fmt.Sprintf("blocked scheme %q", u.Scheme))
	}
	host := u.Hostname()
	if host == "" {
		return "", models.NewValidationError("url", "missing hostname")
	}

	var addrs []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = g.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil || len(addrs) == 0 {
			return "", models.NewValidationError("url", "cannot resolve hostname "+host)
		}
	}
	for _, a := range addrs {
		if g.Blocked(a) {
			return "", models.NewValidationError("url", "blocked address "+a.String())
		}
	}
	return u.String(), nil
}

// HTTPClient returns a client that re-checks every address it connects to,
// including redirect targets.
func (g *URLGuard) HTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("guarded dial %s: %w", address, err)
			}
			if g.Blocked(ap.Addr()) {
				return models.NewValidationError("url", "blocked address "+ap.Addr().String())
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
