// Package authority talks to the municipal/national NFSe authority: it
// transmits signed documents with bounded retries and classifies the
// return codes that come back.
package authority

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rezonia/nfse-issuer/internal/model"
)

const (
	DefaultSubmitPath = "/nfse"
	DefaultLookupPath = "/dps/{id}"
	DefaultEventPath  = "/nfse/{chave}/eventos"

	contentTypeXML = "application/xml"
	maxBodyBytes   = 4 << 20
)

// Ledger reports identities the authority has already authorized
type Ledger interface {
	AuthorizedAccessKey(ctx context.Context, identity model.Identity) (string, bool, error)
}

// Config holds the endpoint layout and retry policy
type Config struct {
	BaseURL    string      `mapstructure:"base_url"`
	SubmitPath string      `mapstructure:"submit_path"`
	LookupPath string      `mapstructure:"lookup_path"`
	EventPath  string      `mapstructure:"event_path"`
	Retry      RetryPolicy `mapstructure:"retry"`
}

// Submission is one signed DPS bound for the authority
type Submission struct {
	Identity  model.Identity
	DPSID     string
	SignedXML []byte
}

// EventSubmission is one signed event (cancellation) for an authorized NFSe
type EventSubmission struct {
	AccessKey string
	SignedXML []byte
}

// Transmitter is the transport port the pipeline depends on
type Transmitter interface {
	Transmit(ctx context.Context, sub Submission) (*Response, error)
	Lookup(ctx context.Context, dpsID string) (*Response, error)
	SendEvent(ctx context.Context, ev EventSubmission) (*Response, error)
}

// Client is the HTTP Transmitter
type Client struct {
	cfg        Config
	httpClient *http.Client
	ledger     Ledger
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTLSCertificate enables mutual TLS with the provider certificate
func WithTLSCertificate(cert tls.Certificate) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				},
			},
		}
	}
}

// WithLedger makes Transmit short-circuit for already-authorized identities
func WithLedger(l Ledger) Option {
	return func(c *Client) {
		c.ledger = l
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new authority client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("authority base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = DefaultSubmitPath
	}
	if cfg.LookupPath == "" {
		cfg.LookupPath = DefaultLookupPath
	}
	if cfg.EventPath == "" {
		cfg.EventPath = DefaultEventPath
	}
	cfg.Retry = cfg.Retry.normalized()

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transmit submits a signed DPS, retrying network-level failures only
func (c *Client) Transmit(ctx context.Context, sub Submission) (*Response, error) {
	if c.ledger != nil {
		key, ok, err := c.ledger.AuthorizedAccessKey(ctx, sub.Identity)
		if err != nil {
			return nil, fmt.Errorf("failed to consult authorization ledger: %w", err)
		}
		if ok {
			c.logger.Info("identity already authorized, not resubmitting",
				slog.String("dps_id", sub.DPSID),
				slog.String("access_key", key))
			return &Response{AccessKey: key, AlreadyAuthorized: true}, nil
		}
	}
	if len(sub.SignedXML) == 0 {
		return nil, errors.New("submission has no signed XML")
	}
	return c.do(ctx, http.MethodPost, c.cfg.SubmitPath, sub.SignedXML, slog.String("dps_id", sub.DPSID))
}

// Lookup fetches what the authority holds for a DPS id
func (c *Client) Lookup(ctx context.Context, dpsID string) (*Response, error) {
	path := strings.ReplaceAll(c.cfg.LookupPath, "{id}", dpsID)
	return c.do(ctx, http.MethodGet, path, nil, slog.String("dps_id", dpsID))
}

// SendEvent submits a signed event against an authorized NFSe
func (c *Client) SendEvent(ctx context.Context, ev EventSubmission) (*Response, error) {
	if len(ev.SignedXML) == 0 {
		return nil, errors.New("event has no signed XML")
	}
	path := strings.ReplaceAll(c.cfg.EventPath, "{chave}", ev.AccessKey)
	return c.do(ctx, http.MethodPost, path, ev.SignedXML, slog.String("access_key", ev.AccessKey))
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, attr slog.Attr) (*Response, error) {
	endpoint := c.cfg.BaseURL + path
	policy := c.cfg.Retry

	var lastErr error
	attempt := 0
	for attempt < policy.MaxAttempts {
		attempt++
		resp, err := c.once(ctx, method, endpoint, body)
		if err == nil {
			resp.Attempts = attempt
			c.logger.Debug("authority responded", attr,
				slog.Int("attempt", attempt),
				slog.Int("status", resp.StatusCode),
				slog.String("code", resp.Code))
			return resp, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			break
		}
		c.logger.Warn("transmission attempt failed", attr,
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if attempt == policy.MaxAttempts {
			break
		}
		if werr := wait(ctx, policy.Delay(attempt)); werr != nil {
			lastErr = werr
			break
		}
	}
	return nil, model.NewTransmissionNetworkError(endpoint, attempt, lastErr)
}

func (c *Client) once(ctx context.Context, method, endpoint string, body []byte) (*Response, error) {
	attemptCtx := ctx
	if c.cfg.Retry.PerAttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Retry.PerAttemptTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, endpoint, reader)
	if err != nil {
		return nil, &TransportError{Cause: fmt.Errorf("failed to build request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeXML)
	}
	req.Header.Set("Accept", contentTypeXML+", application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(ctx, fmt.Errorf("failed to read response: %w", err))
	}

	resp := parseResponse(httpResp.StatusCode, raw)
	if retryableStatus(resp.StatusCode, resp.Code) {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Cause:      errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	return resp, nil
}
