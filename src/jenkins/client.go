// Package jenkins reads the job inventory and build history of a Jenkins server.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"build-bridge/src/provider"
)

// buildFields is the tree selector for one build, covering freestyle
// changeSet and pipeline changeSets shapes as well as git BuildData actions.
const buildFields = "number,id,timestamp,duration,result,building,url," +
	"changeSet[kind,items[commitId,timestamp,msg,comment,date],revisions[module,revision]]," +
	"changeSets[kind,items[commitId,timestamp,msg,comment,date],revisions[module,revision]]," +
	"actions[remoteUrls]"

// Client is a Jenkins JSON API client.
type Client struct {
	baseURL    string
	username   string
	credential string
	httpClient *http.Client
}

// NewClient creates a new Jenkins client. username and credential may be empty
// for anonymous access.
func NewClient(baseURL, username, credential string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		credential: credential,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Version returns the server version reported in the X-Jenkins header.
func (c *Client) Version(ctx context.Context) (string, error) {
	header, err := c.getJSON(ctx, c.baseURL+"/api/json?tree=mode", nil)
	if err != nil {
		return "", err
	}
	return header.Get("X-Jenkins"), nil
}

// Tree fetches the job hierarchy nested maxDepth levels deep.
func (c *Client) Tree(ctx context.Context, maxDepth int) (*RawNode, error) {
	q := url.Values{}
	q.Set("tree", treeSelector(maxDepth))
	u := c.baseURL + "/api/json?" + q.Encode()

	var root RawNode
	if _, err := c.getJSON(ctx, u, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// Builds fetches the build list of the job at jobURL, newest first.
// jobURL must be an absolute http(s) URL as reported by the server.
func (c *Client) Builds(ctx context.Context, jobURL string) ([]RawBuild, error) {
	if ju, err := url.Parse(jobURL); err != nil || (ju.Scheme != "http" && ju.Scheme != "https") || ju.Host == "" {
		return nil, fmt.Errorf("%w: job URL %q", provider.ErrInvalidURL, jobURL)
	}
	q := url.Values{}
	q.Set("tree", "builds["+buildFields+"]")
	u := strings.TrimSuffix(jobURL, "/") + "/api/json?" + q.Encode()

	var resp struct {
		Builds []RawBuild `json:"builds"`
	}
	if _, err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Builds, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.credential)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach Jenkins: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: Jenkins returned %d for %s", provider.ErrAuthFailed, resp.StatusCode, u)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, u)
	case http.StatusTooManyRequests:
		return nil, provider.ErrRateLimited
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Jenkins API error %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode Jenkins response: %w", err)
		}
	}
	return resp.Header, nil
}

// treeSelector builds the tree= parameter that returns folders nested depth levels.
func treeSelector(depth int) string {
	if depth < 1 {
		depth = 1
	}
	const view = "views[_class,name,url,jobs[_class,name,url]]"
	node := "_class,name,url"
	for i := 1; i < depth; i++ {
		node = "_class,name,url,jobs[" + node + "]," + view
	}
	return "jobs[" + node + "]," + view
}
