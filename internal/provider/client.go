// Package provider wraps the mobile-money collections HTTP API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is returned for any non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider: %s (http %d)", e.Message, e.StatusCode)
}

// CollectionRequest initiates one mobile-money collection. Amount is in
// minor currency units. Reference is caller-generated and must be unique.
type CollectionRequest struct {
	Amount    int64  `json:"amount"`
	Phone     string `json:"phone"`
	Operator  string `json:"operator"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
	Currency  string `json:"currency"`
}

// Collection is the provider's view of one collection attempt. Status uses
// the provider vocabulary ("pending", "otp-required", "successful", ...).
type Collection struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type otpRequest struct {
	Reference string `json:"reference"`
	OTP       string `json:"otp"`
}

// apiEnvelope is the provider's response wrapper.
type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid provider base url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}, nil
}

func (c *Client) CreateMobileMoneyCollection(ctx context.Context, req CollectionRequest) (*Collection, error) {
	return c.do(ctx, http.MethodPost, "/collections/mobile-money", req)
}

func (c *Client) SubmitOTP(ctx context.Context, reference, otp string) (*Collection, error) {
	return c.do(ctx, http.MethodPost, "/collections/otp/submit", otpRequest{Reference: reference, OTP: otp})
}

func (c *Client) CollectionStatus(ctx context.Context, reference string) (*Collection, error) {
	return c.do(ctx, http.MethodGet, "/collections/status/"+url.PathEscape(reference), nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Collection, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env apiEnvelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var col Collection
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &col); err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}
	}
	return &col, nil
}
