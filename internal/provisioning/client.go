package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/JonMunkholm/provisioner/internal/reason"
)

// Resource paths shared with the sandbox server.
const (
	LocationsPath  = "/v1/locations"
	PeoplePath     = "/v1/people"
	WorkspacesPath = "/v1/workspaces"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 2 << 20

// ListResponse is the envelope of every list endpoint.
type ListResponse[T any] struct {
	Items []T `json:"items"`
}

// ClientConfig holds connection settings for Client.
type ClientConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client talks to the provisioning API over HTTP.
//
// GET and PUT requests are retried up to MaxRetries times on 5xx responses and
// transport errors, with exponential backoff. POST is sent once: a create that
// timed out may still have been applied, and the executor's lookup-before-write
// is what makes a later attempt safe.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient builds a client that authenticates with a static bearer token.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid provisioning api base url %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("provisioning api token is required")
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = cfg.Timeout

	return &Client{
		baseURL:    base,
		http:       httpClient,
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    cfg.RetryBackoff,
		logger:     slog.Default(),
	}, nil
}

// WithLogger sets the logger used for retry messages.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

var _ API = (*Client)(nil)

// ============================================================================
// Locations
// ============================================================================

func (c *Client) ListLocations(ctx context.Context, name string) ([]Location, error) {
	return list[Location](ctx, c, LocationsPath, "name", name)
}

func (c *Client) CreateLocation(ctx context.Context, loc Location) (Location, error) {
	var out Location
	err := c.do(ctx, http.MethodPost, LocationsPath, nil, loc, &out)
	return out, err
}

func (c *Client) UpdateLocation(ctx context.Context, id string, loc Location) error {
	return c.do(ctx, http.MethodPut, LocationsPath+"/"+url.PathEscape(id), nil, loc, nil)
}

// ============================================================================
// People
// ============================================================================

func (c *Client) ListPeople(ctx context.Context, email string) ([]Person, error) {
	return list[Person](ctx, c, PeoplePath, "email", email)
}

func (c *Client) CreatePerson(ctx context.Context, p Person) (Person, error) {
	var out Person
	err := c.do(ctx, http.MethodPost, PeoplePath, nil, p, &out)
	return out, err
}

func (c *Client) UpdatePerson(ctx context.Context, id string, p Person) error {
	return c.do(ctx, http.MethodPut, PeoplePath+"/"+url.PathEscape(id), nil, p, nil)
}

// ============================================================================
// Workspaces
// ============================================================================

func (c *Client) ListWorkspaces(ctx context.Context, displayName string) ([]Workspace, error) {
	return list[Workspace](ctx, c, WorkspacesPath, "displayName", displayName)
}

func (c *Client) CreateWorkspace(ctx context.Context, w Workspace) (Workspace, error) {
	var out Workspace
	err := c.do(ctx, http.MethodPost, WorkspacesPath, nil, w, &out)
	return out, err
}

func (c *Client) UpdateWorkspace(ctx context.Context, id string, w Workspace) error {
	return c.do(ctx, http.MethodPut, WorkspacesPath+"/"+url.PathEscape(id), nil, w, nil)
}

// ============================================================================
// Transport
// ============================================================================

func list[T any](ctx context.Context, c *Client, path, filter, value string) ([]T, error) {
	var out ListResponse[T]
	if err := c.do(ctx, http.MethodGet, path, url.Values{filter: {value}}, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// do sends one logical request, retrying where the method allows it.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempts := 1
	if method != http.MethodPost {
		attempts += c.maxRetries
	}

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			c.logger.Debug("retrying provisioning request",
				"method", method,
				"path", path,
				"attempt", attempt+1,
				"wait", wait,
				"error", lastErr,
			)
			if err := sleep(ctx, wait); err != nil {
				return lastErr
			}
		}

		retry, err := c.send(ctx, method, target, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

// send performs a single HTTP exchange and reports whether a failure is worth
// another attempt.
func (c *Client) send(ctx context.Context, method, target string, payload []byte, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return true, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		return resp.StatusCode >= 500, apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		if out != nil {
			return false, fmt.Errorf("%w: empty body from %s %s", reason.ErrInvalidResponse, method, req.URL.Path)
		}
		return false, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return false, fmt.Errorf("%w: decode %s %s: %v", reason.ErrInvalidResponse, method, req.URL.Path, err)
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
