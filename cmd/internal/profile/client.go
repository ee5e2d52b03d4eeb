package profile

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

	"clavero/cmd/security/token"
)

const defaultHTTPTimeout = 10 * time.Second

// Client talks to the backend's profile endpoints.
//
// It performs no retries; retry/backoff policy belongs to the caller
// (the session manager applies one during startup hydration only).
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying http.Client (tests, proxies).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// NewClient constructs a profile Client for the given API base URL.
func NewClient(baseURL string, log *slog.Logger, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrConfig
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultHTTPTimeout},
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchMe retrieves the authoritative profile for the bearer token.
//
// Error kinds:
//   - ErrUnauthorized: any non-2xx status (the backend is the sole authority
//     on token validity; every rejection is an invalidation).
//   - ErrInvalidProfile: 2xx response whose payload fails normalization.
//   - ErrNetwork: transport failure.
func (c *Client) FetchMe(ctx context.Context, tok string) (Profile, error) {
	const op = "profile.FetchMe"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/usuarios/me", nil)
	if err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrNetwork, Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrNetwork, Msg: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		c.log.Debug("profile.fetch_me.rejected",
			"status", resp.StatusCode,
			"token_fp", token.ShortFingerprint(tok),
		)
		return Profile{}, OpError{Op: op, Kind: ErrUnauthorized, Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var body struct {
		Usuario map[string]any `json:"usuario"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidProfile, Msg: "undecodable response"}
	}
	if body.Usuario == nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidProfile, Msg: "missing usuario"}
	}

	p, err := Normalize(body.Usuario)
	if err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidProfile, Msg: "response failed normalization"}
	}
	return p, nil
}

// UpdateProfile edits the display attributes of the profile identified by
// email and returns the backend's normalized view of the result.
func (c *Client) UpdateProfile(ctx context.Context, tok, email string, u Update) (Profile, error) {
	const op = "profile.UpdateProfile"

	payload, err := json.Marshal(u)
	if err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidProfile, Msg: err.Error()}
	}

	target := c.baseURL + "/perfil/usuarios/" + url.PathEscape(email)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrNetwork, Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrNetwork, Msg: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return Profile{}, OpError{Op: op, Kind: ErrUnauthorized, Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var body struct {
		Perfil map[string]any `json:"perfil"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidProfile, Msg: "undecodable response"}
	}
	if body.Perfil == nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidProfile, Msg: "missing perfil"}
	}

	p, err := Normalize(body.Perfil)
	if err != nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidProfile, Msg: "response failed normalization"}
	}
	return p, nil
}

// drain lets the transport reuse the connection.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 1<<16))
}
