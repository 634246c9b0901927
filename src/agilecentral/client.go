// Package agilecentral is the typed query layer over the AgileCentral
// Web Services API (WSAPI v2.0).
package agilecentral

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

	"build-bridge/src/provider"
)

const (
	// APIVersion is the WSAPI version spoken by the client.
	APIVersion = "v2.0"
	// DefaultPageSize is the largest page WSAPI serves.
	DefaultPageSize = 200
)

// Client talks to one AgileCentral server.
type Client struct {
	baseURL    string
	apiKey     string
	username   string
	password   string
	headers    map[string]string
	httpClient *http.Client

	token string
}

// NewClient creates a client for server, a host name such as rally1.rallydev.com.
// An API key takes precedence over username and password.
func NewClient(server, apiKey, username, password string) *Client {
	return &Client{
		baseURL:  fmt.Sprintf("https://%s/slm/webservice/%s", server, APIVersion),
		apiKey:   apiKey,
		username: username,
		password: password,
		headers:  make(map[string]string),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetIntegration sets the X-RallyIntegration headers sent with every request.
func (c *Client) SetIntegration(name, vendor, version string) {
	c.headers["X-RallyIntegrationName"] = name
	c.headers["X-RallyIntegrationVendor"] = vendor
	c.headers["X-RallyIntegrationVersion"] = version
}

// Query describes one WSAPI collection read.
type Query struct {
	Entity    string
	Fetch     string
	Query     string
	Workspace string
	Project   string
	ScopeUp   bool
	ScopeDown bool
	Order     string
	PageSize  int
	// Limit caps the number of results read across pages. Zero reads everything.
	Limit int
}

func (q Query) values(start, pageSize int) url.Values {
	v := url.Values{}
	if q.Fetch != "" {
		v.Set("fetch", q.Fetch)
	}
	if q.Query != "" {
		v.Set("query", q.Query)
	}
	if q.Workspace != "" {
		v.Set("workspace", q.Workspace)
	}
	if q.Project != "" {
		v.Set("project", q.Project)
		v.Set("projectScopeUp", strconv.FormatBool(q.ScopeUp))
		v.Set("projectScopeDown", strconv.FormatBool(q.ScopeDown))
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	v.Set("start", strconv.Itoa(start))
	v.Set("pagesize", strconv.Itoa(pageSize))
	return v
}

type queryResult struct {
	QueryResult struct {
		Errors           []string        `json:"Errors"`
		Warnings         []string        `json:"Warnings"`
		TotalResultCount int             `json:"TotalResultCount"`
		StartIndex       int             `json:"StartIndex"`
		PageSize         int             `json:"PageSize"`
		Results          json.RawMessage `json:"Results"`
	} `json:"QueryResult"`
}

type createResult struct {
	CreateResult struct {
		Errors   []string        `json:"Errors"`
		Warnings []string        `json:"Warnings"`
		Object   json.RawMessage `json:"Object"`
	} `json:"CreateResult"`
}

// APIError carries the Errors list of a WSAPI response.
type APIError struct {
	Op     string
	Errors []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("AgileCentral %s failed: %s", e.Op, strings.Join(e.Errors, "; "))
}

// ErrDuplicate marks a create rejected because the object already exists.
var ErrDuplicate = errors.New("duplicate object")

// QueryAll reads every page of q, decoding results into T.
func QueryAll[T any](ctx context.Context, c *Client, q Query) ([]T, error) {
	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	var out []T
	start := 1
	for {
		u := fmt.Sprintf("%s/%s?%s", c.baseURL, strings.ToLower(q.Entity), q.values(start, pageSize).Encode())
		var page queryResult
		if err := c.do(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		qr := page.QueryResult
		if len(qr.Errors) > 0 {
			return nil, &APIError{Op: "query " + q.Entity, Errors: qr.Errors}
		}

		var items []T
		if len(qr.Results) > 0 {
			if err := json.Unmarshal(qr.Results, &items); err != nil {
				return nil, fmt.Errorf("failed to decode %s results: %w", q.Entity, err)
			}
		}
		out = append(out, items...)

		if q.Limit > 0 && len(out) >= q.Limit {
			return out[:q.Limit], nil
		}
		if len(items) == 0 || len(out) >= qr.TotalResultCount {
			return out, nil
		}
		start += len(items)
	}
}

// Create creates one object of entity from fields and decodes the created
// object into out.
func (c *Client) Create(ctx context.Context, entity string, fields map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(map[string]interface{}{entity: fields})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/%s/create", c.baseURL, strings.ToLower(entity))
	if c.apiKey == "" {
		token, err := c.securityToken(ctx)
		if err != nil {
			return err
		}
		u += "?key=" + url.QueryEscape(token)
	}

	var res createResult
	if err := c.do(ctx, http.MethodPost, u, body, &res); err != nil {
		return err
	}
	cr := res.CreateResult
	if len(cr.Errors) > 0 {
		apiErr := &APIError{Op: "create " + entity, Errors: cr.Errors}
		for _, e := range cr.Errors {
			if strings.Contains(strings.ToLower(e), "duplicate") || strings.Contains(strings.ToLower(e), "already exists") {
				return fmt.Errorf("%w: %v", ErrDuplicate, apiErr)
			}
		}
		return apiErr
	}
	if out != nil && len(cr.Object) > 0 {
		if err := json.Unmarshal(cr.Object, out); err != nil {
			return fmt.Errorf("failed to decode created %s: %w", entity, err)
		}
	}
	return nil
}

// securityToken obtains the token required for writes under basic auth.
func (c *Client) securityToken(ctx context.Context) (string, error) {
	if c.token != "" {
		return c.token, nil
	}
	var res struct {
		OperationResult struct {
			Errors        []string `json:"Errors"`
			SecurityToken string   `json:"SecurityToken"`
		} `json:"OperationResult"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/security/authorize", nil, &res); err != nil {
		return "", err
	}
	if len(res.OperationResult.Errors) > 0 {
		return "", &APIError{Op: "authorize", Errors: res.OperationResult.Errors}
	}
	c.token = res.OperationResult.SecurityToken
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}

	if c.apiKey != "" {
		req.Header.Set("ZSESSIONID", c.apiKey)
	} else {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach AgileCentral: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: AgileCentral returned %d", provider.ErrAuthFailed, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", provider.ErrNotFound, u)
	case http.StatusTooManyRequests:
		return provider.ErrRateLimited
	default:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("AgileCentral API error %d: %s", resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode AgileCentral response: %w", err)
	}
	return nil
}
