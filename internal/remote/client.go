// Package remote is the HTTP transport to the taskdesk API. It attaches the
// bearer token, encodes partial updates and turns non-2xx responses into
// typed errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taskdesk/internal/domain"
	"taskdesk/internal/events"
)

var (
	// ErrUnauthenticated is wrapped by every 401 response.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	// ErrUnavailable wraps failures to reach the server at all.
	ErrUnavailable = errors.New("service unavailable")
)

// Client is a taskdesk API client. BaseURL includes the API base path, e.g.
// http://127.0.0.1:8080/api.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrUnavailable
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Session is returned by Login and Register.
type Session struct {
	Token   string         `json:"token"`
	Account domain.Account `json:"account"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func collection(kind domain.Kind) (string, error) {
	switch kind {
	case domain.KindTask:
		return "tasks", nil
	case domain.KindAccount:
		return "users", nil
	}
	return "", fmt.Errorf("unknown resource kind %q", kind)
}

// List fetches every resource of kind the caller may see.
func (c *Client) List(ctx context.Context, kind domain.Kind) ([]domain.Resource, error) {
	coll, err := collection(kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case domain.KindTask:
		var resp listResponse[domain.Task]
		if err := c.do(ctx, http.MethodGet, coll, nil, &resp); err != nil {
			return nil, err
		}
		out := make([]domain.Resource, 0, len(resp.Items))
		for _, t := range resp.Items {
			out = append(out, t)
		}
		return out, nil
	default:
		var resp listResponse[domain.Account]
		if err := c.do(ctx, http.MethodGet, coll, nil, &resp); err != nil {
			return nil, err
		}
		out := make([]domain.Resource, 0, len(resp.Items))
		for _, a := range resp.Items {
			out = append(out, a)
		}
		return out, nil
	}
}

func (c *Client) Create(ctx context.Context, kind domain.Kind, fields domain.Fields) (domain.Resource, error) {
	coll, err := collection(kind)
	if err != nil {
		return nil, err
	}
	return c.one(ctx, kind, http.MethodPost, coll, fields)
}

// Update sends a partial update; only the given fields change.
func (c *Client) Update(ctx context.Context, kind domain.Kind, id string, fields domain.Fields) (domain.Resource, error) {
	coll, err := collection(kind)
	if err != nil {
		return nil, err
	}
	return c.one(ctx, kind, http.MethodPatch, coll+"/"+url.PathEscape(id), fields)
}

func (c *Client) Delete(ctx context.Context, kind domain.Kind, id string) error {
	coll, err := collection(kind)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, coll+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) one(ctx context.Context, kind domain.Kind, method, endpoint string, body any) (domain.Resource, error) {
	if kind == domain.KindTask {
		var t domain.Task
		if err := c.do(ctx, method, endpoint, body, &t); err != nil {
			return nil, err
		}
		return t, nil
	}
	var a domain.Account
	if err := c.do(ctx, method, endpoint, body, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// Login exchanges credentials for a token. The client keeps the token for
// later calls.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]any{
		"username": username,
		"password": password,
	}, &resp)
	if err == nil {
		c.Token = resp.Token
	}
	return resp, err
}

// Register creates a user account and logs in as it.
func (c *Client) Register(ctx context.Context, username, password, department string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "auth/register", map[string]any{
		"username":   username,
		"password":   password,
		"department": department,
	}, &resp)
	if err == nil {
		c.Token = resp.Token
	}
	return resp, err
}

// Me returns the account behind the current token.
func (c *Client) Me(ctx context.Context) (domain.Account, error) {
	var resp domain.Account
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Events reads the audit log, newest first. Empty filters match everything.
func (c *Client) Events(ctx context.Context, entityKind, entityID string, limit int) ([]events.Event, error) {
	q := url.Values{}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp listResponse[events.Event]
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", method, endpoint, ctxErr)
		}
		return fmt.Errorf("%s %s: %w: %v", method, endpoint, ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env errorEnvelope
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
