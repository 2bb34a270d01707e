// Package provider talks to the remote video-generation service: asset
// upload, JSON task calls and result download. It holds no job state.
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

const (
	// DefaultAPIBaseURL serves task submission and status queries.
	DefaultAPIBaseURL = "https://api.kie.ai"
	// DefaultUploadBaseURL serves asset uploads.
	DefaultUploadBaseURL = "https://kieai.redpandaai.co"
	// DefaultUploadPath is the remote folder uploaded assets land in.
	DefaultUploadPath = "video-kit"

	defaultRequestTimeout  = 60 * time.Second
	defaultDownloadTimeout = 10 * time.Minute
)

// Options configures a Client.
type Options struct {
	APIKey          string
	APIBaseURL      string
	UploadBaseURL   string
	UploadPath      string
	HTTPClient      *http.Client
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
}

// Client performs authenticated HTTP calls against the provider.
type Client struct {
	apiKey          string
	apiBaseURL      string
	uploadBaseURL   string
	uploadPath      string
	httpClient      *http.Client
	requestTimeout  time.Duration
	downloadTimeout time.Duration
	// authHosts receive the bearer token on downloads.
	authHosts map[string]bool
}

// NewClient constructs a client. It fails with ErrMissingCredential when the
// API key is blank.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	c := &Client{
		apiKey:          apiKey,
		apiBaseURL:      strings.TrimRight(opts.APIBaseURL, "/"),
		uploadBaseURL:   strings.TrimRight(opts.UploadBaseURL, "/"),
		uploadPath:      strings.TrimSpace(opts.UploadPath),
		httpClient:      opts.HTTPClient,
		requestTimeout:  opts.RequestTimeout,
		downloadTimeout: opts.DownloadTimeout,
		authHosts:       make(map[string]bool),
	}
	if c.apiBaseURL == "" {
		c.apiBaseURL = DefaultAPIBaseURL
	}
	if c.uploadBaseURL == "" {
		c.uploadBaseURL = DefaultUploadBaseURL
	}
	if c.uploadPath == "" {
		c.uploadPath = DefaultUploadPath
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.downloadTimeout <= 0 {
		c.downloadTimeout = defaultDownloadTimeout
	}

	for _, base := range []string{c.apiBaseURL, c.uploadBaseURL} {
		u, err := url.Parse(base)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("provider: invalid base url %q", base)
		}
		c.authHosts[u.Host] = true
	}
	return c, nil
}

// PostJSON sends body as JSON to path on the API host and decodes the response
// into out. op names the call in errors.
func (c *Client) PostJSON(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("provider: encode %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("provider: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, op, out)
}

// GetJSON queries path on the API host and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	endpoint := c.apiBaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("provider: build %s request: %w", op, err)
	}
	return c.doJSON(req, op, out)
}

func (c *Client) doJSON(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, op); err != nil {
		return err
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("provider: read %s response: %w", op, err)
	}
	if err := checkEnvelope(raw, op); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, op, err)
	}
	return nil
}

// envelope is the wrapper most provider responses share. A 200 response can
// still carry a failing code.
type envelope struct {
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
}

func checkEnvelope(raw []byte, op string) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Not an object; leave it to the caller's decoder.
		return nil
	}
	if env.Code == nil || *env.Code == 0 || (*env.Code >= 200 && *env.Code < 300) {
		return nil
	}
	return &RequestError{Op: op, StatusCode: *env.Code, Body: env.Msg}
}

// checkStatus converts a non-2xx response into a RequestError.
func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RequestError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
