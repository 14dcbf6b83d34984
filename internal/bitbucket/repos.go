package bitbucket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
)

type repository struct {
	ID      int    `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Project struct {
		ID  int    `json:"id"`
		Key string `json:"key"`
	} `json:"project"`
	Links struct {
		Clone []struct {
			Href string `json:"href"`
			Name string `json:"name"`
		} `json:"clone"`
	} `json:"links"`
}

func (r repository) toRepo() migrate.DestinationRepo {
	repo := migrate.DestinationRepo{
		ID:         r.ID,
		ProjectID:  r.Project.ID,
		ProjectKey: r.Project.Key,
		Slug:       r.Slug,
		Name:       r.Name,
	}
	for _, link := range r.Links.Clone {
		switch link.Name {
		case "ssh":
			repo.SSHCloneURL = link.Href
		case "http", "https":
			repo.HTTPCloneURL = link.Href
		}
	}
	return repo
}

func (c *Client) CreateRepo(ctx context.Context, project, name string) error {
	body := map[string]any{
		"name":     name,
		"scmId":    "git",
		"forkable": true,
		"public":   false,
	}
	path := fmt.Sprintf("%s/projects/%s/repos", apiPath, url.PathEscape(project))
	if err := c.do(ctx, http.MethodPost, path, jsonBody(body), nil); err != nil {
		return fmt.Errorf("creating repository %s/%s: %w", project, name, err)
	}
	return nil
}

func (c *Client) DeleteRepo(ctx context.Context, project, slug string) error {
	if err := c.do(ctx, http.MethodDelete, repoPath(project, slug), nil, nil); err != nil {
		return fmt.Errorf("deleting repository %s/%s: %w", project, slug, err)
	}
	return nil
}

func (c *Client) GetRepo(ctx context.Context, project, slug string) (migrate.DestinationRepo, error) {
	var result repository
	if err := c.do(ctx, http.MethodGet, repoPath(project, slug), nil, &result); err != nil {
		return migrate.DestinationRepo{}, fmt.Errorf("retrieving repository %s/%s: %w", project, slug, err)
	}
	return result.toRepo(), nil
}

func (c *Client) SetDefaultBranch(ctx context.Context, project, slug, branch string) error {
	body := map[string]string{"id": "refs/heads/" + branch}
	if err := c.do(ctx, http.MethodPut, repoPath(project, slug)+"/branches/default", jsonBody(body), nil); err != nil {
		return fmt.Errorf("setting default branch of %s/%s: %w", project, slug, err)
	}
	return nil
}

func (c *Client) DeleteBranch(ctx context.Context, project, slug, branch string) error {
	body := map[string]any{
		"name":   "refs/heads/" + branch,
		"dryRun": false,
	}
	path := fmt.Sprintf("%s/projects/%s/repos/%s/branches", branchUtilsPath, url.PathEscape(project), url.PathEscape(slug))
	if err := c.do(ctx, http.MethodDelete, path, jsonBody(body), nil); err != nil {
		return fmt.Errorf("deleting branch %s in %s/%s: %w", branch, project, slug, err)
	}
	return nil
}
