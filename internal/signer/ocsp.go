package signer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Default OCSP configuration
const (
	DefaultOCSPTimeout  = 10 * time.Second
	DefaultOCSPCacheTTL = 1 * time.Hour
)

// RevocationChecker reports whether cert has been revoked by issuer
type RevocationChecker interface {
	Revoked(ctx context.Context, cert, issuer *x509.Certificate) (bool, error)
}

// OCSPCache caches OCSP answers per certificate
type OCSPCache struct {
	mu      sync.RWMutex
	entries map[string]ocspCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type ocspCacheEntry struct {
	revoked   bool
	expiresAt time.Time
}

// NewOCSPCache creates a new OCSP response cache
func NewOCSPCache(ttl time.Duration) *OCSPCache {
	return &OCSPCache{
		entries: make(map[string]ocspCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get retrieves a cached answer
func (c *OCSPCache) Get(cert *x509.Certificate) (revoked bool, found bool) {
	if cert == nil {
		return false, false
	}
	key := certCacheKey(cert)

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists {
		return false, false
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, false
	}
	return entry.revoked, true
}

// Set caches an answer
func (c *OCSPCache) Set(cert *x509.Certificate, revoked bool) {
	if cert == nil {
		return
	}
	c.mu.Lock()
	c.entries[certCacheKey(cert)] = ocspCacheEntry{
		revoked:   revoked,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Size returns the number of cached entries
func (c *OCSPCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func certCacheKey(cert *x509.Certificate) string {
	return fmt.Sprintf("%s:%s", cert.Issuer.String(), cert.SerialNumber.String())
}

// OCSPChecker queries the responders listed in the certificate
type OCSPChecker struct {
	client *http.Client
	cache  *OCSPCache
}

// OCSPOption configures an OCSPChecker
type OCSPOption func(*OCSPChecker)

// WithOCSPClient overrides the HTTP client used for responder queries
func WithOCSPClient(client *http.Client) OCSPOption {
	return func(c *OCSPChecker) {
		c.client = client
	}
}

// WithOCSPCache overrides the answer cache
func WithOCSPCache(cache *OCSPCache) OCSPOption {
	return func(c *OCSPChecker) {
		c.cache = cache
	}
}

// NewOCSPChecker creates a checker with default timeout and cache
func NewOCSPChecker(opts ...OCSPOption) *OCSPChecker {
	c := &OCSPChecker{
		client: &http.Client{Timeout: DefaultOCSPTimeout},
		cache:  NewOCSPCache(DefaultOCSPCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Revoked performs a cached OCSP check
func (c *OCSPChecker) Revoked(ctx context.Context, cert, issuer *x509.Certificate) (bool, error) {
	if revoked, found := c.cache.Get(cert); found {
		return revoked, nil
	}
	if len(cert.OCSPServer) == 0 {
		return false, fmt.Errorf("no OCSP server URL in certificate")
	}

	request, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return false, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	var lastErr error
	for _, server := range cert.OCSPServer {
		revoked, err := c.query(ctx, server, request, issuer)
		if err == nil {
			c.cache.Set(cert, revoked)
			return revoked, nil
		}
		lastErr = err
	}
	return false, fmt.Errorf("all OCSP servers failed: %w", lastErr)
}

func (c *OCSPChecker) query(ctx context.Context, serverURL string, request []byte, issuer *x509.Certificate) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(request))
	if err != nil {
		return false, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("OCSP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("OCSP server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read OCSP response: %w", err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, nil, issuer)
	if err != nil {
		return false, fmt.Errorf("failed to parse OCSP response: %w", err)
	}
	switch parsed.Status {
	case ocsp.Good:
		return false, nil
	case ocsp.Revoked:
		return true, nil
	case ocsp.Unknown:
		return false, fmt.Errorf("OCSP status unknown")
	default:
		return false, fmt.Errorf("unexpected OCSP status: %d", parsed.Status)
	}
}
