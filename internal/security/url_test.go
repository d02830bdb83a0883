package security

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/common/logger"
)

func staticResolver(hosts map[string][]string) ResolverFunc {
	return func(ctx context.Context, host string) ([]net.IP, error) {
		addrs, ok := hosts[host]
		if !ok {
			return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
		}
		ips := make([]net.IP, len(addrs))
		for i, a := range addrs {
			ips[i] = net.ParseIP(a)
		}
		return ips, nil
	}
}

func newTestValidator(t *testing.T, opts ...ValidatorOption) *Validator {
	t.Helper()
	return NewValidator(logger.NewNoOpLogger(), opts...)
}

func TestValidateURL_AcceptsPublicHost(t *testing.T) {
	v := newTestValidator(t, WithResolver(staticResolver(map[string][]string{
		"docs.example.com": {"93.184.216.34"},
	})))

	err := v.ValidateURL(context.Background(), "https://docs.example.com/report.txt", "document download")
	assert.NoError(t, err)
}

func TestValidateURL_RejectsOversizedURL(t *testing.T) {
	v := newTestValidator(t, WithMaxURLLength(32))

	err := v.ValidateURL(context.Background(), "https://example.com/a-very-long-path-beyond-the-cap", "document download")
	require.Error(t, err)

	stdErr := apperrors.Normalize(err)
	assert.Equal(t, apperrors.ErrCodeSSRFRejected, stdErr.Code)
	assert.False(t, stdErr.Retryable)
}

func TestValidateURL_RejectsBadScheme(t *testing.T) {
	v := newTestValidator(t)

	for _, raw := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"gopher://example.com",
	} {
		err := v.ValidateURL(context.Background(), raw, "document download")
		assert.Error(t, err, raw)
	}
}

func TestValidateURL_RejectsLocalhost(t *testing.T) {
	v := newTestValidator(t)

	for _, raw := range []string{
		"http://localhost/admin",
		"http://localhost:8080/admin",
		"http://api.localhost/admin",
	} {
		err := v.ValidateURL(context.Background(), raw, "webhook callback")
		assert.Error(t, err, raw)
	}
}

func TestValidateURL_RejectsMetadataEndpoint(t *testing.T) {
	v := newTestValidator(t)

	err := v.ValidateURL(context.Background(), "http://169.254.169.254/latest/meta-data/", "document download")
	require.Error(t, err)

	stdErr := apperrors.Normalize(err)
	assert.Equal(t, apperrors.ErrCodeSSRFRejected, stdErr.Code)
}

func TestValidateURL_RejectsBlockedLiteralIPs(t *testing.T) {
	v := newTestValidator(t)

	for _, raw := range []string{
		"http://127.0.0.1/",
		"http://10.1.2.3/",
		"http://172.16.0.1/",
		"http://192.168.1.1/",
		"http://100.64.0.1/",
		"http://[::1]/",
		"http://[fe80::1]/",
		"http://[fc00::1]/",
		"http://[::ffff:10.0.0.1]/",
	} {
		err := v.ValidateURL(context.Background(), raw, "document download")
		assert.Error(t, err, raw)
	}
}

func TestValidateURL_RejectsHostResolvingToPrivateIP(t *testing.T) {
	v := newTestValidator(t, WithResolver(staticResolver(map[string][]string{
		"rebind.example.com": {"93.184.216.34", "192.168.0.10"},
	})))

	err := v.ValidateURL(context.Background(), "https://rebind.example.com/doc", "document download")
	assert.Error(t, err, "one blocked A record must reject the URL")
}

func TestValidateURL_RejectsUnresolvableHost(t *testing.T) {
	v := newTestValidator(t, WithResolver(staticResolver(nil)))

	err := v.ValidateURL(context.Background(), "https://nonexistent.example.com/doc", "document download")
	assert.Error(t, err)
}

func TestValidateURL_DomainAllowlist(t *testing.T) {
	v := newTestValidator(t,
		WithAllowedDomains([]string{"example.com"}),
		WithResolver(staticResolver(map[string][]string{
			"example.com":         {"93.184.216.34"},
			"cdn.example.com":     {"93.184.216.35"},
			"example.com.evil.io": {"93.184.216.36"},
			"other.org":           {"93.184.216.37"},
		})),
	)

	ctx := context.Background()

	assert.NoError(t, v.ValidateURL(ctx, "https://example.com/doc", "document download"))
	assert.NoError(t, v.ValidateURL(ctx, "https://cdn.example.com/doc", "document download"),
		"subdomains of an allowed domain pass")

	assert.Error(t, v.ValidateURL(ctx, "https://other.org/doc", "document download"))
	assert.Error(t, v.ValidateURL(ctx, "https://example.com.evil.io/doc", "document download"),
		"suffix tricks must not match the allowlist")
}
