// Package jenkins reads and rewrites Jenkins job configurations over the REST API.
package jenkins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
	"github.com/manicminer/gitlab2bitbucket/internal/transport"
)

var _ migrate.CI = &Client{}

type Options struct {
	URL    string
	User   string
	Token  string
	HTTP   transport.Options
	Logger hclog.Logger
}

// Client is a Jenkins API client authenticating with a user API token.
type Client struct {
	baseURL string
	user    string
	token   string
	http    *http.Client
	logger  hclog.Logger

	crumbOnce sync.Once
	crumb     *crumb
	crumbErr  error
}

type crumb struct {
	Field string `json:"crumbRequestField"`
	Value string `json:"crumb"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.HTTP.Logger == nil {
		opts.HTTP.Logger = logger
	}

	baseURL := opts.URL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Client{
		baseURL: baseURL,
		user:    opts.User,
		token:   opts.Token,
		http:    transport.NewClient(opts.HTTP),
		logger:  logger,
	}
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	var me struct {
		ID string `json:"id"`
	}
	resp, err := c.do(ctx, http.MethodGet, "me/api/json", "", "", false)
	if err != nil {
		return fmt.Errorf("connecting to jenkins: %w", err)
	}
	if err = transport.UnmarshalResp(resp, &me); err != nil {
		return fmt.Errorf("connecting to jenkins: %v", err)
	}
	c.logger.Debug("connected to jenkins", "user", me.ID)
	return nil
}

type jobNode struct {
	Name  string    `json:"name"`
	URL   string    `json:"url"`
	Class string    `json:"_class"`
	Jobs  []jobNode `json:"jobs"`
}

// ListJobs returns jobs down to folderDepth levels of folders. Full names join folder and job
// names with "/".
func (c *Client) ListJobs(ctx context.Context, folderDepth int) ([]migrate.CIJob, error) {
	resp, err := c.do(ctx, http.MethodGet, "api/json?tree="+url.QueryEscape(jobsTree(folderDepth)), "", "", false)
	if err != nil {
		return nil, fmt.Errorf("listing jenkins jobs: %w", err)
	}

	var root jobNode
	if err = transport.UnmarshalResp(resp, &root); err != nil {
		return nil, fmt.Errorf("listing jenkins jobs: %v", err)
	}

	var jobs []migrate.CIJob
	var walk func(prefix string, nodes []jobNode, depth int)
	walk = func(prefix string, nodes []jobNode, depth int) {
		for _, n := range nodes {
			fullName := n.Name
			if prefix != "" {
				fullName = prefix + "/" + n.Name
			}
			if len(n.Jobs) > 0 && depth < folderDepth {
				walk(fullName, n.Jobs, depth+1)
				continue
			}
			jobs = append(jobs, migrate.CIJob{FullName: fullName, Name: n.Name})
		}
	}
	walk("", root.Jobs, 0)

	return jobs, nil
}

// jobsTree builds the tree query selecting names down to depth nested folders.
func jobsTree(depth int) string {
	tree := "jobs[name,url]"
	for i := 0; i < depth; i++ {
		tree = "jobs[name,url," + tree + "]"
	}
	return tree
}

func (c *Client) GetJobConfig(ctx context.Context, fullName string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, jobPath(fullName)+"config.xml", "", "", false)
	if err != nil {
		return "", fmt.Errorf("retrieving config of job %s: %w", fullName, err)
	}
	return transport.ReadBody(resp), nil
}

func (c *Client) ReconfigJob(ctx context.Context, fullName, config string) error {
	resp, err := c.do(ctx, http.MethodPost, jobPath(fullName)+"config.xml", config, "text/xml; charset=utf-8", true)
	if err != nil {
		return fmt.Errorf("updating config of job %s: %w", fullName, err)
	}
	_ = resp.Body.Close()
	return nil
}

// jobPath turns "folder/name" into "job/folder/job/name/".
func jobPath(fullName string) string {
	var b strings.Builder
	for _, part := range strings.Split(fullName, "/") {
		if part == "" {
			continue
		}
		b.WriteString("job/")
		b.WriteString(url.PathEscape(part))
		b.WriteString("/")
	}
	return b.String()
}

func (c *Client) do(ctx context.Context, method, path, body, contentType string, withCrumb bool) (*http.Response, error) {
	target := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %v", err)
	}
	req.SetBasicAuth(c.user, c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if withCrumb {
		cr, err := c.getCrumb(ctx)
		if err != nil {
			return nil, err
		}
		if cr != nil {
			req.Header.Set(cr.Field, cr.Value)
		}
	}

	c.logger.Trace("jenkins request", "method", method, "url", target)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: transport.ReadBody(resp)}
	}
	return resp, nil
}

// getCrumb fetches the CSRF crumb once. Servers with CSRF protection disabled answer 404 and
// need no crumb.
func (c *Client) getCrumb(ctx context.Context) (*crumb, error) {
	c.crumbOnce.Do(func() {
		resp, err := c.do(ctx, http.MethodGet, "crumbIssuer/api/json", "", "", false)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
				c.logger.Debug("jenkins has no crumb issuer")
				return
			}
			c.crumbErr = fmt.Errorf("retrieving jenkins crumb: %w", err)
			return
		}

		var cr crumb
		if err = transport.UnmarshalResp(resp, &cr); err != nil {
			c.crumbErr = fmt.Errorf("retrieving jenkins crumb: %v", err)
			return
		}
		c.crumb = &cr
	})
	return c.crumb, c.crumbErr
}
