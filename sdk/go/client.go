package recordlinesdk

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

// Client is a minimal Recordline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Action represents one recorded action (partial).
type Action struct {
	ID                string         `json:"id"`
	TransactionID     string         `json:"transactionId,omitempty"`
	Type              string         `json:"type"`
	Status            string         `json:"status"`
	CreatedAt         string         `json:"createdAt"`
	CreatedBy         string         `json:"createdBy"`
	CreatedAtLocation string         `json:"createdAtLocation,omitempty"`
	Declaration       map[string]any `json:"declaration,omitempty"`
	Annotation        map[string]any `json:"annotation,omitempty"`
}

// Event represents the full event document.
type Event struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	TransactionID string   `json:"transactionId,omitempty"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt"`
	Actions       []Action `json:"actions"`
}

// EventState is the derived read model.
type EventState struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	TrackingID  string         `json:"trackingId,omitempty"`
	AssignedTo  string         `json:"assignedTo,omitempty"`
	Flags       []string       `json:"flags"`
	Declaration map[string]any `json:"declaration,omitempty"`
}

// SearchResult is one page of search matches.
type SearchResult struct {
	Total   int          `json:"total"`
	Results []EventState `json:"results"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateEvent creates an event with its CREATE action.
func (c *Client) CreateEvent(ctx context.Context, eventType, transactionID string, declaration map[string]any) (Event, error) {
	body := map[string]any{
		"type":          eventType,
		"transactionId": transactionID,
		"declaration":   declaration,
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, "v1/events", body, &resp)
	return resp, err
}

// GetEvent fetches the full event document.
func (c *Client) GetEvent(ctx context.Context, id string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/events/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// GetEventState fetches the derived state.
func (c *Client) GetEventState(ctx context.Context, id string) (EventState, error) {
	var resp EventState
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/events/%s/state", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// AvailableActions returns the scope-filtered next actions for an event.
func (c *Client) AvailableActions(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Actions []string `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/events/%s/actions", url.PathEscape(id)), nil, &resp)
	return resp.Actions, err
}

// AppendAction appends one action; fields follows the AppendActionRequest
// wire shape ("type" is required).
func (c *Client) AppendAction(ctx context.Context, id string, fields map[string]any) (Event, error) {
	var resp Event
	endpoint := fmt.Sprintf("v1/events/%s/actions", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, fields, &resp)
	return resp, err
}

// Search runs a query against the derived state. query is the JSON query
// document ("and"/"or" with clauses).
func (c *Client) Search(ctx context.Context, query map[string]any, limit, offset int) (SearchResult, error) {
	endpoint := "v1/search"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if offset > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%soffset=%d", endpoint, sep, offset)
	}
	var resp SearchResult
	err := c.do(ctx, http.MethodPost, endpoint, query, &resp)
	return resp, err
}

// DevLogin mints a dev JWT and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, actorID, location string, scopes []string) (string, error) {
	body := map[string]any{
		"actorId":  actorID,
		"location": location,
		"scopes":   scopes,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v1/auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
