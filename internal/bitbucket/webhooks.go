package bitbucket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
)

type webhook struct {
	ID            int               `json:"id,omitempty"`
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Events        []string          `json:"events"`
	Active        bool              `json:"active"`
	Configuration map[string]string `json:"configuration,omitempty"`
}

func webhooksPath(project, slug string) string {
	return fmt.Sprintf("%s/projects/%s/repos/%s/webhooks", latestAPIPath, url.PathEscape(project), url.PathEscape(slug))
}

func (c *Client) ListWebhooks(ctx context.Context, project, slug string) ([]migrate.Webhook, error) {
	result, err := getAll[webhook](ctx, c, webhooksPath(project, slug), nil)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks of %s/%s: %w", project, slug, err)
	}

	hooks := make([]migrate.Webhook, 0, len(result))
	for _, h := range result {
		hooks = append(hooks, migrate.Webhook{Name: h.Name, URL: h.URL, Events: h.Events, Active: h.Active})
	}
	return hooks, nil
}

func (c *Client) CreateWebhook(ctx context.Context, project, slug string, hook migrate.Webhook) error {
	body := webhook{
		Name:          hook.Name,
		URL:           hook.URL,
		Events:        hook.Events,
		Active:        hook.Active,
		Configuration: map[string]string{"createdBy": "bitbucket"},
	}
	if err := c.do(ctx, http.MethodPost, webhooksPath(project, slug), jsonBody(body), nil); err != nil {
		return fmt.Errorf("creating webhook %s for %s/%s: %w", hook.Name, project, slug, err)
	}
	return nil
}
