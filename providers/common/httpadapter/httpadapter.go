package httpadapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
)

// Config configures a provider HTTP client.
type Config struct {
	ProviderID       string
	Endpoint         string
	APIKey           string
	APIKeyHeader     string
	APIKeyPrefix     string
	QueryAPIKeyParam string
	BasicAuthUser    string
	BasicAuthPass    string
	StaticHeaders    map[string]string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Request describes one provider call. Empty fields inherit from Config.
type Request struct {
	Method      string
	URL         string
	Query       url.Values
	Body        []byte
	ContentType string
	Accept      string
	Headers     map[string]string
}

// Response is a fully read provider response with a 2xx status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client executes provider requests and normalizes failures into contracts.ProviderError.
type Client struct {
	cfg    Config
	client *http.Client
}

type providerIOCaptureMode string

const (
	captureModeRedacted providerIOCaptureMode = "redacted"
	captureModeFull     providerIOCaptureMode = "full"
	captureModeHash     providerIOCaptureMode = "hash"

	envProviderIOCaptureMode = "FOLLOWUP_PROVIDER_IO_CAPTURE_MODE"

	defaultProviderIOCaptureMode = captureModeRedacted
	errorSampleBytes             = 512
	defaultMaxResponseBytes      = 32 << 20
)

// New constructs a provider HTTP client.
func New(cfg Config) (*Client, error) {
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("provider_id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	if cfg.StaticHeaders == nil {
		cfg.StaticHeaders = map[string]string{}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{cfg: cfg, client: client}, nil
}

// ProviderID returns provider identity.
func (c *Client) ProviderID() string {
	return c.cfg.ProviderID
}

// Do executes one provider attempt. Non-2xx statuses and transport failures are
// returned as *contracts.ProviderError.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	endpoint := req.URL
	if endpoint == "" {
		endpoint = c.cfg.Endpoint
	}
	if strings.TrimSpace(endpoint) == "" {
		return Response{}, contracts.NewProviderError(c.cfg.ProviderID, contracts.ReasonMissingConfig, errors.New("endpoint is empty"))
	}

	query := url.Values{}
	for key, values := range req.Query {
		query[key] = values
	}
	if c.cfg.QueryAPIKeyParam != "" && c.cfg.APIKey != "" {
		query.Set(c.cfg.QueryAPIKeyParam, c.cfg.APIKey)
	}
	if len(query) > 0 {
		var err error
		endpoint, err = withQuery(endpoint, query)
		if err != nil {
			return Response{}, contracts.NewProviderError(c.cfg.ProviderID, contracts.ReasonMissingConfig, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return Response{}, contracts.NewProviderError(c.cfg.ProviderID, contracts.ReasonClientError, err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}
	if c.cfg.APIKeyHeader != "" && c.cfg.APIKey != "" {
		httpReq.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKeyPrefix+c.cfg.APIKey)
	}
	if c.cfg.BasicAuthUser != "" {
		httpReq.SetBasicAuth(c.cfg.BasicAuthUser, c.cfg.BasicAuthPass)
	}
	for key, value := range c.cfg.StaticHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, normalizeNetworkError(c.cfg.ProviderID, err)
	}
	defer resp.Body.Close()

	payload, truncated, readErr := readBodySample(resp.Body, c.cfg.MaxResponseBytes)
	if readErr != nil {
		return Response{}, normalizeNetworkError(c.cfg.ProviderID, readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		providerErr := normalizeStatus(c.cfg.ProviderID, resp.StatusCode)
		sample, _ := capturePayload(payload, resolveProviderIOCaptureMode(), errorSampleBytes, truncated)
		providerErr.Cause = fmt.Errorf("response %s", sample)
		return Response{}, providerErr
	}
	if truncated {
		return Response{}, contracts.NewProviderError(c.cfg.ProviderID, contracts.ReasonParse, fmt.Errorf("response exceeds %d bytes", c.cfg.MaxResponseBytes))
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

// PostJSON marshals body and posts it to the configured endpoint (or req.URL).
func (c *Client) PostJSON(ctx context.Context, req Request, body any) (Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Response{}, contracts.NewProviderError(c.cfg.ProviderID, contracts.ReasonClientError, err)
	}
	req.Body = raw
	req.ContentType = "application/json"
	if req.Accept == "" {
		req.Accept = "application/json"
	}
	return c.Do(ctx, req)
}

// DecodeJSON unmarshals a provider response, normalizing parse failures.
func (c *Client) DecodeJSON(resp Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return contracts.NewProviderError(c.cfg.ProviderID, contracts.ReasonParse, err)
	}
	return nil
}

func withQuery(rawEndpoint string, values url.Values) (string, error) {
	u, err := url.Parse(rawEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for key, vals := range values {
		q.Del(key)
		for _, v := range vals {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func normalizeNetworkError(providerID string, err error) *contracts.ProviderError {
	if errors.Is(err, context.Canceled) {
		return contracts.NewProviderError(providerID, contracts.ReasonCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return contracts.NewProviderError(providerID, contracts.ReasonTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return contracts.NewProviderError(providerID, contracts.ReasonTimeout, err)
	}
	return contracts.NewProviderError(providerID, contracts.ReasonTransport, err)
}

func normalizeStatus(providerID string, status int) *contracts.ProviderError {
	out := &contracts.ProviderError{Provider: providerID, StatusCode: status}
	switch {
	case status == http.StatusTooManyRequests:
		out.Reason = contracts.ReasonOverload
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		out.Reason = contracts.ReasonTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusPaymentRequired:
		out.Reason = contracts.ReasonAuthBlock
	case status >= 400 && status <= 499:
		out.Reason = contracts.ReasonClientError
	default:
		out.Reason = contracts.ReasonServerError
	}
	return out
}

func resolveProviderIOCaptureMode() providerIOCaptureMode {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(envProviderIOCaptureMode)))
	switch providerIOCaptureMode(raw) {
	case captureModeFull, captureModeHash, captureModeRedacted:
		return providerIOCaptureMode(raw)
	default:
		return defaultProviderIOCaptureMode
	}
}

func capturePayload(raw []byte, mode providerIOCaptureMode, maxBytes int, preTruncated bool) (string, bool) {
	truncated := preTruncated
	sample := raw
	if len(sample) > maxBytes {
		sample = sample[:maxBytes]
		truncated = true
	}
	switch mode {
	case captureModeFull:
		if len(sample) == 0 {
			return "", truncated
		}
		if utf8.Valid(sample) {
			return string(sample), truncated
		}
		return "base64:" + base64.StdEncoding.EncodeToString(sample), truncated
	case captureModeHash:
		return fmt.Sprintf("sha256=%s bytes=%d", hashBytes(sample), len(sample)), truncated
	default:
		return fmt.Sprintf("redacted sha256=%s bytes=%d", hashBytes(sample), len(sample)), truncated
	}
}

func hashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func readBodySample(reader io.Reader, maxBytes int64) ([]byte, bool, error) {
	payload, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(payload)) > maxBytes {
		return payload[:maxBytes], true, nil
	}
	return payload, false, nil
}

// NormalizeNetworkError maps transport-level errors to provider errors. SDK-backed
// adapters use it for failures that never produced a service response.
func NormalizeNetworkError(providerID string, err error) *contracts.ProviderError {
	return normalizeNetworkError(providerID, err)
}
