// Package bitbucket is the destination side of a migration: a Bitbucket Server REST client.
package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
	"github.com/manicminer/gitlab2bitbucket/internal/transport"
)

const (
	apiPath         = "rest/api/1.0"
	latestAPIPath   = "rest/api/latest"
	branchUtilsPath = "rest/branch-utils/1.0"
	labelsPath      = "rest/io.reconquest.bitbucket.labels/1.0"

	pageLimit = 100
)

var _ migrate.Destination = &Client{}

type Options struct {
	// URL is the server base URL, ending in "/".
	URL    string
	User   string
	Token  string
	HTTP   transport.Options
	Logger hclog.Logger
}

// Client talks to Bitbucket Server (Data Center).
type Client struct {
	baseURL string
	http    *http.Client
	logger  hclog.Logger
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.HTTP.Logger == nil {
		opts.HTTP.Logger = logger
	}

	httpClient := transport.NewClient(opts.HTTP)
	httpClient.Transport = &serverTransport{base: httpClient.Transport, user: opts.User, token: opts.Token}

	baseURL := opts.URL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Client{baseURL: baseURL, http: httpClient, logger: logger}
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	var props struct {
		Version     string `json:"version"`
		DisplayName string `json:"displayName"`
	}
	if err := c.do(ctx, http.MethodGet, apiPath+"/application-properties", nil, &props); err != nil {
		return fmt.Errorf("connecting to bitbucket: %w", err)
	}
	c.logger.Debug("connected to bitbucket", "version", props.Version, "name", props.DisplayName)
	return nil
}

type request struct {
	query       url.Values
	body        any
	form        url.Values
	contentType string
}

func jsonBody(v any) *request {
	return &request{body: v}
}

func (c *Client) do(ctx context.Context, method, path string, req *request, model any) error {
	_, err := c.send(ctx, method, path, req, model)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, req *request, model any) (*http.Response, error) {
	target := c.baseURL + path
	if req != nil && len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	contentType := ""
	if req != nil {
		switch {
		case req.form != nil:
			body = strings.NewReader(req.form.Encode())
			contentType = "application/x-www-form-urlencoded"
		case req.body != nil:
			buf, err := json.Marshal(req.body)
			if err != nil {
				return nil, fmt.Errorf("marshaling request body: %v", err)
			}
			body = bytes.NewReader(buf)
			contentType = "application/json"
		}
		if req.contentType != "" {
			contentType = req.contentType
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %v", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	c.logger.Trace("bitbucket request", "method", method, "url", target)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: transport.ReadBody(resp)}
	}

	if err = transport.UnmarshalResp(resp, model); err != nil {
		return resp, fmt.Errorf("%s %s: %v", method, target, err)
	}
	return resp, nil
}

type page[T any] struct {
	Values        []T  `json:"values"`
	IsLastPage    bool `json:"isLastPage"`
	NextPageStart int  `json:"nextPageStart"`
}

// getAll follows start/limit paging until the last page.
func getAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", strconv.Itoa(pageLimit))

	var all []T
	start := 0
	for {
		query.Set("start", strconv.Itoa(start))

		var result page[T]
		if err := c.do(ctx, http.MethodGet, path, &request{query: query}, &result); err != nil {
			return nil, err
		}
		all = append(all, result.Values...)

		if result.IsLastPage || len(result.Values) == 0 {
			break
		}
		start = result.NextPageStart
	}

	return all, nil
}

func repoPath(project, slug string) string {
	return fmt.Sprintf("%s/projects/%s/repos/%s", apiPath, url.PathEscape(project), url.PathEscape(slug))
}
