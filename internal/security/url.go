// Package security implements URL safety validation and webhook
// payload signing.
package security

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/common/logger"
)

// blockedNetworks covers private, loopback, link-local, carrier-grade
// NAT and IPv4-mapped ranges. Any URL resolving into one of these is
// rejected.
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
	"::ffff:0:0/96",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// ResolverFunc resolves a hostname to its IP addresses. Injectable so
// tests can run without real DNS.
type ResolverFunc func(ctx context.Context, host string) ([]net.IP, error)

// Validator checks URLs against the SSRF policy before any network
// contact is made with them.
type Validator struct {
	maxURLLength   int
	allowedDomains []string
	dnsTimeout     time.Duration
	resolve        ResolverFunc
	log            logger.Logger
}

// ValidatorOption customises a Validator.
type ValidatorOption func(*Validator)

// WithResolver overrides DNS resolution.
func WithResolver(r ResolverFunc) ValidatorOption {
	return func(v *Validator) { v.resolve = r }
}

// WithAllowedDomains restricts URLs to the given domains and their
// subdomains. Empty means any domain passes the allowlist stage.
func WithAllowedDomains(domains []string) ValidatorOption {
	return func(v *Validator) { v.allowedDomains = domains }
}

// WithMaxURLLength overrides the URL length cap.
func WithMaxURLLength(n int) ValidatorOption {
	return func(v *Validator) { v.maxURLLength = n }
}

// WithDNSTimeout overrides the resolution timeout.
func WithDNSTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) { v.dnsTimeout = d }
}

// NewValidator creates a Validator with production defaults.
func NewValidator(log logger.Logger, opts ...ValidatorOption) *Validator {
	v := &Validator{
		maxURLLength: 2048,
		dnsTimeout:   5 * time.Second,
		log:          log,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.resolve == nil {
		v.resolve = func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			return ips, nil
		}
	}
	return v
}

// ValidateURL runs the full SSRF pipeline against rawURL. purpose
// names the use of the URL ("document download", "webhook callback")
// and appears in the rejection message. The pipeline stops at the
// first failing stage.
func (v *Validator) ValidateURL(ctx context.Context, rawURL, purpose string) error {
	if len(rawURL) > v.maxURLLength {
		return apperrors.NewSSRFRejectedError(purpose,
			fmt.Sprintf("URL exceeds maximum length of %d", v.maxURLLength))
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return apperrors.NewSSRFRejectedError(purpose, fmt.Sprintf("unparseable URL: %v", err))
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return apperrors.NewSSRFRejectedError(purpose,
			fmt.Sprintf("scheme %q not allowed, only http and https", u.Scheme))
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return apperrors.NewSSRFRejectedError(purpose, "URL has no hostname")
	}
	if isLocalhostName(host) {
		return apperrors.NewSSRFRejectedError(purpose, "localhost is not allowed")
	}

	if len(v.allowedDomains) > 0 && !v.domainAllowed(host) {
		return apperrors.NewSSRFRejectedError(purpose,
			fmt.Sprintf("domain %q is not on the allowlist", host))
	}

	ips, err := v.resolveHost(ctx, host)
	if err != nil {
		return apperrors.NewSSRFRejectedError(purpose,
			fmt.Sprintf("hostname resolution failed: %v", err))
	}

	// Every resolved address must be safe. A single blocked A record
	// rejects the whole URL.
	for _, ip := range ips {
		if blocked, network := isBlockedIP(ip); blocked {
			v.log.Warn("url rejected by network policy", map[string]interface{}{
				"host":    host,
				"ip":      ip.String(),
				"network": network,
				"purpose": purpose,
			})
			return apperrors.NewSSRFRejectedError(purpose,
				fmt.Sprintf("host resolves to blocked address %s (%s)", ip, network))
		}
	}

	return nil
}

func (v *Validator) resolveHost(ctx context.Context, host string) ([]net.IP, error) {
	// Literal IPs skip DNS entirely.
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.dnsTimeout)
	defer cancel()

	ips, err := v.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return ips, nil
}

func (v *Validator) domainAllowed(host string) bool {
	for _, d := range v.allowedDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isLocalhostName(host string) bool {
	return host == "localhost" || strings.HasSuffix(host, ".localhost")
}

func isBlockedIP(ip net.IP) (bool, string) {
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true, n.String()
		}
	}
	return false, ""
}
