// Package remote implements a Source that downloads random bytes from a
// supply service over HTTPS.
//
// The service is treated as an opaque byte stream: a GET on the endpoint
// with a "bytes" query parameter returns exactly that many bytes as
// application/octet-stream. Requests carry the device token as a bearer
// credential.
package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/marmos91/randpool/internal/logger"
	poolerrors "github.com/marmos91/randpool/pkg/errors"
	"github.com/marmos91/randpool/pkg/supply"
)

// Config configures a Client.
type Config struct {
	Endpoint   string
	Token      string
	CACertPath string

	// Timeout bounds a single HTTP request. Default 30s.
	Timeout time.Duration

	// MaxRequestSize splits larger fetches into several requests.
	// Default 1 MiB.
	MaxRequestSize int

	// MaxRetries bounds retries of a failed request. Default 3.
	MaxRetries uint64

	// InitialBackoff is the first retry delay. Default 200ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay. Default 5s.
	MaxBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = 1 << 20
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

// Client is the supply service client.
type Client struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
	expiry     time.Time
	log        *slog.Logger
	now        func() time.Time
}

// New creates a client for the service at cfg.Endpoint.
func New(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	if cfg.Token == "" {
		return nil, poolerrors.NewInvalidArgumentError("supply", "token is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, poolerrors.NewInvalidArgumentError("supply", "invalid endpoint %q", cfg.Endpoint)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CACertPath != "" {
		pool, err := loadCertPool(cfg.CACertPath)
		if err != nil {
			return nil, poolerrors.Wrap(poolerrors.ErrInvalidArgument, "supply", err)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	c := &Client{
		cfg:        cfg,
		endpoint:   u,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		log:        logger.Component("supply").With(logger.KeyEndpoint, u.Host),
		now:        time.Now,
	}
	c.expiry = tokenExpiry(cfg.Token)
	if !c.expiry.IsZero() {
		c.log.Debug("Supply token expiry", "expires", c.expiry)
	}
	return c, nil
}

// NewFromEnvironment creates a client from an environment selection.
func NewFromEnvironment(env supply.Environment) (*Client, error) {
	return New(Config{Endpoint: env.Endpoint, Token: env.Token, CACertPath: env.CACertPath})
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// tokenExpiry returns the exp claim of a JWT token, or the zero time when the
// token is opaque or carries no expiry. The signature is not verified; the
// service does that.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Fetch downloads exactly n bytes, splitting the download into requests of
// at most MaxRequestSize bytes.
func (c *Client) Fetch(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, poolerrors.NewInvalidArgumentError("fetch", "requested %d bytes", n)
	}
	if !c.expiry.IsZero() && !c.now().Before(c.expiry) {
		return nil, poolerrors.New(poolerrors.ErrCannotDownload, "fetch", "supply token expired at %s", c.expiry.Format(time.RFC3339))
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := min(n-len(out), c.cfg.MaxRequestSize)
		data, err := c.fetchWithRetry(ctx, chunk)
		if err != nil {
			clear(out)
			return nil, poolerrors.Wrap(poolerrors.ErrCannotDownload, "fetch", err)
		}
		out = append(out, data...)
		clear(data)
	}
	return out, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, n int) ([]byte, error) {
	var b backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.cfg.InitialBackoff),
		backoff.WithMaxInterval(c.cfg.MaxBackoff),
	)
	b = backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), ctx)

	var data []byte
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		data, err = c.fetchOnce(ctx, n)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		c.log.Debug("Supply request failed, retrying",
			logger.KeyAttempt, attempt,
			"wait", wait,
			logger.KeyError, err)
	})
	return data, err
}

func (c *Client) fetchOnce(ctx context.Context, n int) ([]byte, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("bytes", strconv.Itoa(n))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	// One extra byte detects an oversized body.
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(n)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) != n {
		clear(data)
		return nil, fmt.Errorf("supply service returned %d bytes, requested %d", len(data), n)
	}

	c.log.Log(ctx, logger.SlogLevelTrace, "Supply request completed", logger.KeyBytes, n, logger.KeyDurationMs, logger.Duration(start))
	return data, nil
}

var _ supply.Source = (*Client)(nil)
