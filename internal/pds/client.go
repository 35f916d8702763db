package pds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client is a typed XRPC client for an AT Protocol personal data
// server. Access tokens are supplied per call by the auth layer; admin
// endpoints use the basic-auth credential held by the client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	adminUser  string
	adminPass  string
	logger     *slog.Logger
}

type Options struct {
	// BaseURL is the PDS origin, e.g. https://hypercerts.climateai.org.
	BaseURL string

	// AdminUsername/AdminPassword authenticate admin XRPC calls. Both
	// may be empty; admin calls then fail with
	// ErrAdminCredentialsMissing.
	AdminUsername string
	AdminPassword string

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pds base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("pds base url %q must be an absolute http(s) URL", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		adminUser:  opts.AdminUsername,
		adminPass:  opts.AdminPassword,
		logger:     logger,
	}, nil
}

// HasAdminCredentials reports whether admin XRPC calls can be made.
func (c *Client) HasAdminCredentials() bool {
	return c.adminPass != ""
}

type callOptions struct {
	query  url.Values
	body   any
	bearer string
	admin  bool
}

func (c *Client) call(ctx context.Context, method, nsid string, opts callOptions, out any) error {
	endpoint := c.baseURL + "/xrpc/" + nsid
	if len(opts.query) > 0 {
		endpoint += "?" + opts.query.Encode()
	}

	var reqBody io.Reader
	if opts.body != nil {
		payload, err := json.Marshal(opts.body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", nsid, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", nsid, err)
	}
	if opts.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case opts.admin:
		if !c.HasAdminCredentials() {
			return ErrAdminCredentialsMissing
		}
		req.SetBasicAuth(c.adminUser, c.adminPass)
	case opts.bearer != "":
		req.Header.Set("Authorization", "Bearer "+opts.bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", nsid, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", nsid, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(nsid, resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", nsid, err)
	}
	return nil
}

func (c *Client) apiError(nsid string, status int, raw []byte) *Error {
	apiErr := &Error{StatusCode: status, Body: string(raw)}
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		apiErr.ErrorCode = parsed.Error
		apiErr.Message = parsed.Message
	}
	c.logger.Debug("xrpc call failed", "nsid", nsid, "status", status, "error_code", apiErr.ErrorCode)
	return apiErr
}
