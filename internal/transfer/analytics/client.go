// Package analytics is the export transport for the AirQo analytics API.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/export"
	"github.com/airdash/airdash/internal/provider/resilience"
	"github.com/airdash/airdash/internal/tabular"
)

const (
	// DefaultBaseURL is the base URL of the AirQo API.
	DefaultBaseURL = "https://api.airqo.net/api/v2"

	// ProviderName identifies this client in the provider registry.
	ProviderName = "analytics"

	downloadPath = "/analytics/data-download"
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the analytics client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Token is sent as the token query parameter when set.
	Token string

	// HTTPClient overrides the default resilient client.
	HTTPClient HTTPDoer

	// Timeout bounds one request when no HTTPClient is given.
	// Zero leaves requests bounded by the caller's deadline only.
	Timeout time.Duration

	// Registry receives breaker health when no HTTPClient is given.
	Registry *resilience.Registry

	// Logger for request diagnostics.
	Logger zerolog.Logger
}

// Client sends export requests to the analytics API. It never retries: a
// failed export is resubmitted by the user.
type Client struct {
	baseURL    string
	token      string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates an analytics client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		logger := cfg.Logger
		cb := resilience.DefaultCircuitBreakerConfig(ProviderName)
		cb.Logger = &logger
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:           ProviderName,
			Timeout:        cfg.Timeout,
			MaxRetries:     0,
			CircuitBreaker: &cb,
			Registry:       cfg.Registry,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "analytics").Logger(),
	}
}

// APIError is a non-2xx response from the analytics API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analytics API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("analytics API returned %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Message string `json:"message"`
}

// Send posts req to the data download endpoint.
//
// A JSON body whose data field is a string is returned as text; any other
// JSON body is decoded into records and returned as structured. Non-JSON
// bodies are returned as text.
func (c *Client) Send(ctx context.Context, req *export.Request) (export.RawResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return export.RawResponse{}, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.baseURL + downloadPath
	if c.token != "" {
		endpoint += "?token=" + url.QueryEscape(c.token)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return export.RawResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/csv")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return export.RawResponse{}, fmt.Errorf("data download: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return export.RawResponse{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(payload, &eb) == nil {
			apiErr.Message = eb.Message
		}
		if apiErr.Message == "" && !isJSON(resp.Header.Get("Content-Type"), payload) {
			apiErr.Message = strings.TrimSpace(string(payload))
		}
		return export.RawResponse{}, apiErr
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(payload)).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("data download response")

	return decodePayload(resp.Header.Get("Content-Type"), payload), nil
}

func decodePayload(contentType string, payload []byte) export.RawResponse {
	if !isJSON(contentType, payload) {
		return export.TextResponse(string(payload))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if json.Unmarshal(payload, &envelope) == nil && len(envelope.Data) > 0 {
		var text string
		if json.Unmarshal(envelope.Data, &text) == nil {
			return export.TextResponse(text)
		}
	}

	rows, err := tabular.DecodeRecords(payload)
	if err != nil {
		return export.TextResponse(string(payload))
	}
	return export.StructuredResponse(rows)
}

func isJSON(contentType string, payload []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
			return true
		}
		if mediaType == "text/csv" {
			return false
		}
	}
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
