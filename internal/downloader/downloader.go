// Package downloader fetches remote documents within strict safety
// and size bounds.
package downloader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/IgnatG/langextract-api/internal/common/config"
	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/common/logger"
	"github.com/IgnatG/langextract-api/internal/common/metrics"
)

// URLValidator approves a URL for a given purpose before any network
// contact. Satisfied by security.Validator.
type URLValidator interface {
	ValidateURL(ctx context.Context, rawURL, purpose string) error
}

const validationPurpose = "document download"

// Downloader fetches text documents over HTTP within the configured
// limits. Every URL it touches, including each redirect hop, passes
// through the validator first.
type Downloader struct {
	client       *http.Client
	validator    URLValidator
	maxSize      int64
	maxRedirects int
	allowedTypes []string
	log          logger.Logger
}

// Option customises a Downloader.
type Option func(*Downloader)

// WithTransport overrides the HTTP transport, used by tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(d *Downloader) { d.client.Transport = rt }
}

// New creates a Downloader bound to the given validator.
func New(cfg config.DownloaderConfig, validator URLValidator, log logger.Logger, opts ...Option) *Downloader {
	d := &Downloader{
		validator:    validator,
		maxSize:      cfg.MaxSizeBytes,
		maxRedirects: cfg.MaxRedirects,
		allowedTypes: cfg.AllowedContentTypes,
		log:          log,
	}
	d.client = &http.Client{
		Timeout: config.GetDuration(cfg.Timeout),
		// Redirect targets get the same scrutiny as the original URL.
		// A safe URL redirecting into a private network is the classic
		// bypass.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= d.maxRedirects {
				return fmt.Errorf("stopped after %d redirects", d.maxRedirects)
			}
			return d.validator.ValidateURL(req.Context(), req.URL.String(), validationPurpose)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch validates rawURL, downloads it and returns the body as text
// along with the URL the response finally came from. Oversized
// responses, disallowed content types and unsafe redirects all fail
// the fetch.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (string, string, error) {
	if err := d.validator.ValidateURL(ctx, rawURL, validationPurpose); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", apperrors.NewDownloadError(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		// Redirect rejections surface wrapped in a *url.Error; keep
		// the SSRF code if that is what happened.
		if inner := unwrapStandardError(err); inner != nil {
			return "", "", inner
		}
		return "", "", apperrors.NewDownloadError(err)
	}
	defer resp.Body.Close()

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if resp.StatusCode != http.StatusOK {
		return "", "", apperrors.NewDownloadError(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := d.checkContentType(resp.Header.Get("Content-Type")); err != nil {
		return "", "", err
	}

	if resp.ContentLength > d.maxSize {
		return "", "", apperrors.NewDownloadError(
			fmt.Errorf("declared size %d exceeds limit %d", resp.ContentLength, d.maxSize))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return "", "", apperrors.NewDownloadError(err)
	}
	if int64(len(body)) > d.maxSize {
		return "", "", apperrors.NewDownloadError(
			fmt.Errorf("document exceeds size limit of %d bytes", d.maxSize))
	}

	metrics.DownloadBytes.Observe(float64(len(body)))
	d.log.Debug("document fetched", map[string]interface{}{
		"url":   finalURL,
		"bytes": len(body),
	})
	return string(body), finalURL, nil
}

func (d *Downloader) checkContentType(header string) error {
	// Servers that omit the header or fall back to octet-stream are
	// tolerated; the body is treated as text.
	if header == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return apperrors.NewDownloadError(fmt.Errorf("unparseable Content-Type %q", header))
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "application/octet-stream" {
		return nil
	}
	for _, allowed := range d.allowedTypes {
		if mediaType == allowed {
			return nil
		}
	}
	return apperrors.NewDownloadError(fmt.Errorf("content type %q not allowed", mediaType))
}

func unwrapStandardError(err error) *apperrors.StandardError {
	stdErr := apperrors.Normalize(err)
	if stdErr.Code != apperrors.ErrCodeInternal {
		return stdErr
	}
	return nil
}
