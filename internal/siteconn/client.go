// Package siteconn is a small JSON client for the server's REST API.
//
// A [Client] is one "site connection": it holds admin credentials, the site
// it is currently pointed at and the live session token. Sign-in and
// impersonated sign-in replace the token in place; the session registry
// swaps tokens and sites on a shared Client to act as different identities.
// Swapping identity is a mutation visible to every holder of the Client, so
// one Client must not serve concurrent requests for different identities.
package siteconn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthHeader carries the session token on authenticated requests.
const AuthHeader = "X-Tableau-Auth"

const (
	defaultTimeout      = 30 * time.Second
	maxResponseBodySize = 4 << 20
)

// Token is an issued session credential together with the identifiers it
// was issued for. The zero Token means "no session".
type Token struct {
	Value    string `json:"token"`
	UserLUID string `json:"user_luid"`
	SiteLUID string `json:"site_luid"`
}

// IsZero reports whether t carries no credential.
func (t Token) IsZero() bool { return t.Value == "" }

// Masked returns the token value with all but the last four characters
// hidden, for logs and diagnostics.
func (t Token) Masked() string {
	if len(t.Value) <= 4 {
		return strings.Repeat("*", len(t.Value))
	}
	return strings.Repeat("*", 8) + t.Value[len(t.Value)-4:]
}

// Site is one row of the server's site directory.
type Site struct {
	LUID       string `json:"id"`
	Name       string `json:"name"`
	ContentURL string `json:"contentUrl"`
}

// Config holds configuration for creating a Client.
type Config struct {
	// ServerURL is the base URL of the server (e.g. "https://bi.example.com").
	ServerURL string
	// APIVersion is the REST API version used in request paths.
	APIVersion string
	// Username and Password are the admin credentials used by SignIn.
	Username string
	Password string
	// Site is the content URL of the initial site. Empty means the default site.
	Site string
	// HTTPClient is used for all requests. If nil, a client with a 30s timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, zap.NewNop() is used.
	Logger *zap.Logger
}

// Client is a site connection.
type Client struct {
	id         string
	baseURL    string
	apiVersion string
	username   string
	password   string
	http       *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	site  string
	token Token
}

// NewClient creates an unauthenticated site connection.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("siteconn: ServerURL is required")
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("siteconn: invalid ServerURL %q: %w", cfg.ServerURL, err)
	}
	if cfg.APIVersion == "" {
		return nil, errors.New("siteconn: APIVersion is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	return &Client{
		id:         id,
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		apiVersion: cfg.APIVersion,
		username:   cfg.Username,
		password:   cfg.Password,
		http:       httpClient,
		logger:     logger.With(zap.String("conn_id", id)),
		site:       cfg.Site,
	}, nil
}

// ID returns the connection's correlation ID.
func (c *Client) ID() string { return c.id }

// Token returns the live session token.
func (c *Client) Token() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken replaces the live session token.
func (c *Client) SetToken(t Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = t
}

// Site returns the content URL of the site the connection points at.
func (c *Client) Site() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.site
}

// SetSite points the connection at another site. The token is left alone.
func (c *Client) SetSite(contentURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.site = contentURL
}

type signInCredentials struct {
	Name     string          `json:"name,omitempty"`
	Password string          `json:"password,omitempty"`
	Site     signInSite      `json:"site"`
	User     *signInImperson `json:"user,omitempty"`
}

type signInSite struct {
	ContentURL string `json:"contentUrl"`
}

type signInImperson struct {
	ID string `json:"id"`
}

type signInRequest struct {
	Credentials signInCredentials `json:"credentials"`
}

type signInResponse struct {
	Credentials struct {
		Token string `json:"token"`
		Site  struct {
			ID         string `json:"id"`
			ContentURL string `json:"contentUrl"`
		} `json:"site"`
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"credentials"`
}

// SignIn authenticates as the admin user on the current site and stores the
// issued token.
func (c *Client) SignIn(ctx context.Context) error {
	return c.signIn(ctx, "")
}

// SignInAs authenticates as the admin user impersonating userLUID on the
// current site and stores the issued token.
func (c *Client) SignInAs(ctx context.Context, userLUID string) error {
	if userLUID == "" {
		return errors.New("siteconn: user LUID is required for impersonation")
	}
	return c.signIn(ctx, userLUID)
}

func (c *Client) signIn(ctx context.Context, impersonate string) error {
	site := c.Site()
	req := signInRequest{Credentials: signInCredentials{
		Name:     c.username,
		Password: c.password,
		Site:     signInSite{ContentURL: site},
	}}
	if impersonate != "" {
		req.Credentials.User = &signInImperson{ID: impersonate}
	}

	var resp signInResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signin", "", req, &resp); err != nil {
		return fmt.Errorf("sign in to site %q: %w", site, err)
	}
	if resp.Credentials.Token == "" {
		return fmt.Errorf("sign in to site %q: response carried no token", site)
	}

	c.SetToken(Token{
		Value:    resp.Credentials.Token,
		UserLUID: resp.Credentials.User.ID,
		SiteLUID: resp.Credentials.Site.ID,
	})
	c.logger.Debug("signed in",
		zap.String("site", site),
		zap.String("user_luid", resp.Credentials.User.ID),
		zap.Bool("impersonated", impersonate != ""),
	)
	return nil
}

// SignOut invalidates the live token on the server and clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	tok := c.Token()
	if tok.IsZero() {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/auth/signout", tok.Value, nil, nil); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	c.SetToken(Token{})
	return nil
}

type sitesResponse struct {
	Sites struct {
		Site []Site `json:"site"`
	} `json:"sites"`
}

// ListSites returns the server's site directory.
func (c *Client) ListSites(ctx context.Context) ([]Site, error) {
	var resp sitesResponse
	if err := c.do(ctx, http.MethodGet, "/sites", c.Token().Value, nil, &resp); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return resp.Sites.Site, nil
}

type usersResponse struct {
	Users struct {
		User []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"user"`
	} `json:"users"`
}

// LookupUserLUID resolves username to its LUID on the current site.
func (c *Client) LookupUserLUID(ctx context.Context, username string) (string, error) {
	tok := c.Token()
	if tok.SiteLUID == "" {
		return "", ErrNoSite
	}

	path := "/sites/" + url.PathEscape(tok.SiteLUID) + "/users?filter=" + url.QueryEscape("name:eq:"+username)
	var resp usersResponse
	if err := c.do(ctx, http.MethodGet, path, tok.Value, nil, &resp); err != nil {
		return "", fmt.Errorf("look up user %q: %w", username, err)
	}
	for _, u := range resp.Users.User {
		if strings.EqualFold(u.Name, username) {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("look up user %q: %w", username, ErrNotFound)
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL + "/api/" + c.apiVersion + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(AuthHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var parsed errorResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			apiErr.Code = parsed.Error.Code
			apiErr.Summary = parsed.Error.Summary
			apiErr.Detail = parsed.Error.Detail
		}
		if apiErr.Summary == "" {
			apiErr.Summary = strings.TrimSpace(string(respBody))
		}
		if apiErr.Summary == "" {
			apiErr.Summary = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
