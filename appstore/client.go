package appstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-appstore-connect/core"
)

const (
	defaultAuthorizePath = "/appstore/oauth/authorize"
	defaultExchangePath  = "/appstore/oauth/access_token"

	defaultExchangeTimeout  = 10 * time.Second
	defaultRetryBaseDelay   = 250 * time.Millisecond
	maxExchangeBodyBytes    = 1 << 20 // 1 MiB
	maxExchangeErrorSnippet = 256
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes one registered marketplace application. Host is the bare
// marketplace domain (bokun.io, bokuntest.com); per-vendor endpoints are
// derived as https://{vendor}.{host}{path}.
type Config struct {
	Host          string
	AuthorizePath string
	ExchangePath  string

	ClientID     string
	ClientSecret string
	Scopes       []string
	RedirectURI  string

	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration

	HTTPClient HTTPDoer
}

// FromServiceConfig maps the resolved service configuration onto a client
// config. The HTTP client keeps its default.
func FromServiceConfig(cfg core.Config) Config {
	return Config{
		Host:           cfg.Marketplace.Host,
		AuthorizePath:  cfg.Marketplace.AuthorizePath,
		ExchangePath:   cfg.Marketplace.ExchangePath,
		ClientID:       cfg.OAuth.ClientID,
		ClientSecret:   cfg.OAuth.ClientSecret,
		Scopes:         append([]string(nil), cfg.OAuth.Scopes...),
		RedirectURI:    cfg.OAuth.RedirectURI,
		Timeout:        cfg.Exchange.Timeout,
		RetryAttempts:  cfg.Exchange.RetryAttempts,
		RetryBaseDelay: cfg.Exchange.RetryBaseDelay,
	}
}

// Client builds marketplace authorize redirects and performs the
// code-for-token exchange against per-vendor appstore endpoints.
type Client struct {
	cfg        Config
	httpClient HTTPDoer
}

type exchangeRequestPayload struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
}

type exchangeResponsePayload struct {
	AccessToken      string `json:"access_token"`
	Scope            string `json:"scope"`
	VendorID         string `json:"vendor_id"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

func NewClient(cfg Config) (*Client, error) {
	cfg.Host = strings.TrimSpace(strings.ToLower(cfg.Host))
	if cfg.Host == "" {
		return nil, fmt.Errorf("appstore: marketplace host is required")
	}
	if strings.Contains(cfg.Host, "://") || strings.Contains(cfg.Host, "/") {
		return nil, fmt.Errorf("appstore: marketplace host must be a bare domain, got %q", cfg.Host)
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("appstore: client id is required")
	}
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("appstore: client secret is required")
	}
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)

	cfg.AuthorizePath = normalizePath(cfg.AuthorizePath, defaultAuthorizePath)
	cfg.ExchangePath = normalizePath(cfg.ExchangePath, defaultExchangePath)

	scopes := make([]string, 0, len(cfg.Scopes))
	for _, scope := range cfg.Scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		scopes = append(scopes, scope)
	}
	cfg.Scopes = scopes

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultExchangeTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

// AuthorizeURL builds the browser redirect target for a vendor install. Per
// the marketplace protocol the scope list and redirect target are URL-encoded
// while client_id and state travel verbatim, so the query string is assembled
// by hand rather than through url.Values.
func (c *Client) AuthorizeURL(domain, state string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("appstore: client is not configured")
	}
	vendorHost, err := c.vendorHost(domain)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(state) == "" {
		return "", fmt.Errorf("appstore: state is required")
	}

	var query strings.Builder
	query.WriteString("client_id=")
	query.WriteString(c.cfg.ClientID)
	query.WriteString("&scope=")
	query.WriteString(url.QueryEscape(strings.Join(c.cfg.Scopes, ",")))
	query.WriteString("&redirect_uri=")
	query.WriteString(url.QueryEscape(c.cfg.RedirectURI))
	query.WriteString("&state=")
	query.WriteString(state)

	return fmt.Sprintf("https://%s%s?%s", vendorHost, c.cfg.AuthorizePath, query.String()), nil
}

// ExchangeCode swaps an authorization code for a token grant at the vendor's
// exchange endpoint. Transient failures (transport errors, 5xx, 429) are
// retried with jittered backoff up to the configured attempt budget; anything
// else fails immediately.
func (c *Client) ExchangeCode(ctx context.Context, domain, code string) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, fmt.Errorf("appstore: client is not configured")
	}
	if c.httpClient == nil {
		return core.TokenGrant{}, fmt.Errorf("appstore: http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenGrant{}, fmt.Errorf("appstore: authorization code is required")
	}
	vendorHost, err := c.vendorHost(domain)
	if err != nil {
		return core.TokenGrant{}, err
	}
	endpoint := fmt.Sprintf("https://%s%s", vendorHost, c.cfg.ExchangePath)

	payload, err := json.Marshal(exchangeRequestPayload{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Code:         code,
	})
	if err != nil {
		return core.TokenGrant{}, fmt.Errorf("appstore: encode exchange request: %w", err)
	}

	attempts := c.cfg.RetryAttempts + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if waitErr := waitBeforeRetry(ctx, retryDelay(c.cfg.RetryBaseDelay, attempt)); waitErr != nil {
				return core.TokenGrant{}, waitErr
			}
		}

		grant, transient, attemptErr := c.exchangeOnce(ctx, endpoint, payload)
		if attemptErr == nil {
			return grant, nil
		}
		lastErr = attemptErr
		if !transient {
			break
		}
	}
	return core.TokenGrant{}, lastErr
}

func (c *Client) exchangeOnce(ctx context.Context, endpoint string, payload []byte) (core.TokenGrant, bool, error) {
	requestCtx := ctx
	cancel := func() {}
	if c.cfg.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return core.TokenGrant{}, false, fmt.Errorf("appstore: build exchange request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.TokenGrant{}, true, fmt.Errorf("appstore: exchange request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxExchangeBodyBytes+1))
	if readErr != nil {
		return core.TokenGrant{}, true, fmt.Errorf("appstore: read exchange response: %w", readErr)
	}
	if int64(len(body)) > maxExchangeBodyBytes {
		return core.TokenGrant{}, false, fmt.Errorf("appstore: exchange response exceeds %d bytes", maxExchangeBodyBytes)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		transient := response.StatusCode >= http.StatusInternalServerError ||
			response.StatusCode == http.StatusTooManyRequests
		return core.TokenGrant{}, transient, fmt.Errorf(
			"appstore: exchange endpoint error (%d): %s",
			response.StatusCode,
			describeExchangeError(body),
		)
	}

	decoded := exchangeResponsePayload{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return core.TokenGrant{}, false, fmt.Errorf("appstore: decode exchange response: %w", err)
	}
	if decoded.ErrorCode != "" {
		return core.TokenGrant{}, false, fmt.Errorf("appstore: exchange endpoint error: %s", describeExchangeError(body))
	}
	if strings.TrimSpace(decoded.AccessToken) == "" {
		return core.TokenGrant{}, false, fmt.Errorf("appstore: exchange response missing access token")
	}

	return core.TokenGrant{
		AccessToken: strings.TrimSpace(decoded.AccessToken),
		Scope:       strings.TrimSpace(decoded.Scope),
		VendorID:    strings.TrimSpace(decoded.VendorID),
	}, false, nil
}

// vendorHost expands a vendor domain label into the full marketplace host.
// Bare labels get the marketplace suffix appended; fully qualified values
// must already live under it.
func (c *Client) vendorHost(domain string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(domain))
	if trimmed == "" {
		return "", fmt.Errorf("appstore: vendor domain is required")
	}
	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("appstore: parse vendor domain: %w", err)
		}
		trimmed = strings.TrimSpace(strings.ToLower(parsed.Hostname()))
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" || strings.ContainsAny(trimmed, "/?#&% ") {
		return "", fmt.Errorf("appstore: invalid vendor domain %q", domain)
	}
	suffix := "." + c.cfg.Host
	if !strings.Contains(trimmed, ".") {
		trimmed += suffix
	}
	if !strings.HasSuffix(trimmed, suffix) {
		return "", fmt.Errorf("appstore: vendor domain %q must live under %q", domain, c.cfg.Host)
	}
	if strings.TrimSuffix(trimmed, suffix) == "" {
		return "", fmt.Errorf("appstore: invalid vendor domain %q", domain)
	}
	return trimmed, nil
}

func normalizePath(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return strings.TrimSuffix(value, "/")
}

func describeExchangeError(body []byte) string {
	decoded := exchangeResponsePayload{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		if strings.TrimSpace(decoded.ErrorDescription) != "" {
			return strings.TrimSpace(decoded.ErrorDescription)
		}
		if strings.TrimSpace(decoded.Message) != "" {
			return strings.TrimSpace(decoded.Message)
		}
		if strings.TrimSpace(decoded.ErrorCode) != "" {
			return strings.TrimSpace(decoded.ErrorCode)
		}
	}
	snippet := strings.TrimSpace(string(body))
	snippet = strings.Join(strings.Fields(snippet), " ")
	if snippet == "" {
		return "empty response body"
	}
	if len(snippet) > maxExchangeErrorSnippet {
		snippet = snippet[:maxExchangeErrorSnippet]
	}
	return snippet
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	delay := base << (attempt - 1)
	return delay + time.Duration(rand.Int63n(int64(base)))
}

func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("appstore: exchange retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ core.MarketplaceClient = (*Client)(nil)
