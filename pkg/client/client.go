// Package client is a small SDK for the SCIM provisioning API. Resources
// are plain maps so custom-schema attributes round-trip untouched.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to one SCIM service instance.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
}

// Config holds configuration for the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Resource is a SCIM resource in its decoded JSON form.
type Resource = map[string]any

// ListResponse is the SCIM list envelope.
type ListResponse struct {
	TotalResults int        `json:"totalResults"`
	StartIndex   int        `json:"startIndex"`
	ItemsPerPage int        `json:"itemsPerPage"`
	Resources    []Resource `json:"Resources"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// New creates a new Client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetToken sets the bearer token for subsequent requests.
func (c *Client) SetToken(token string) {
	c.Token = token
}

// doRequest performs an authenticated request and decodes the response.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/scim+json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		detail := string(respBody)
		var envelope struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Detail != "" {
			detail = envelope.Detail
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent && resp.ContentLength != 0 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

func listPath(resource, filter string, startIndex, count int) string {
	q := url.Values{}
	if filter != "" {
		q.Set("filter", filter)
	}
	if startIndex > 0 {
		q.Set("startIndex", strconv.Itoa(startIndex))
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	path := "/scim/" + resource
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return path
}

// ListUsers lists users, optionally filtered.
func (c *Client) ListUsers(ctx context.Context, filter string, startIndex, count int) (*ListResponse, error) {
	var res ListResponse
	if err := c.doRequest(ctx, "GET", listPath("Users", filter, startIndex, count), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetUser fetches one user by id.
func (c *Client) GetUser(ctx context.Context, id string) (Resource, error) {
	var user Resource
	if err := c.doRequest(ctx, "GET", "/scim/Users/"+id, nil, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser provisions a user.
func (c *Client) CreateUser(ctx context.Context, user Resource) (Resource, error) {
	var created Resource
	if err := c.doRequest(ctx, "POST", "/scim/Users", user, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateUser merges attributes into a user.
func (c *Client) UpdateUser(ctx context.Context, id string, attrs Resource) (Resource, error) {
	var updated Resource
	if err := c.doRequest(ctx, "PUT", "/scim/Users/"+id, attrs, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes a user.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.doRequest(ctx, "DELETE", "/scim/Users/"+id, nil, nil)
}

// ListGroups lists groups, optionally filtered.
func (c *Client) ListGroups(ctx context.Context, filter string, startIndex, count int) (*ListResponse, error) {
	var res ListResponse
	if err := c.doRequest(ctx, "GET", listPath("Groups", filter, startIndex, count), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetGroup fetches one group by id.
func (c *Client) GetGroup(ctx context.Context, id string) (Resource, error) {
	var group Resource
	if err := c.doRequest(ctx, "GET", "/scim/Groups/"+id, nil, &group); err != nil {
		return nil, err
	}
	return group, nil
}

// CreateGroup provisions a group.
func (c *Client) CreateGroup(ctx context.Context, group Resource) (Resource, error) {
	var created Resource
	if err := c.doRequest(ctx, "POST", "/scim/Groups", group, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// PatchGroup applies a PatchOp operations list to a group.
func (c *Client) PatchGroup(ctx context.Context, id string, operations []Resource) (Resource, error) {
	body := Resource{
		"schemas":    []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		"Operations": operations,
	}
	var patched Resource
	if err := c.doRequest(ctx, "PATCH", "/scim/Groups/"+id, body, &patched); err != nil {
		return nil, err
	}
	return patched, nil
}

// DeleteGroup removes a group.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	return c.doRequest(ctx, "DELETE", "/scim/Groups/"+id, nil, nil)
}
