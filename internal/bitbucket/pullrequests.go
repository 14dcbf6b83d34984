package bitbucket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
)

type pullRequest struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
}

type ref struct {
	ID         string  `json:"id"`
	Repository refRepo `json:"repository"`
}

type refRepo struct {
	Slug    string `json:"slug"`
	Project struct {
		Key string `json:"key"`
	} `json:"project"`
}

type comment struct {
	ID int `json:"id"`
}

type commentParent struct {
	ID int `json:"id"`
}

type commentAnchor struct {
	DiffType string `json:"diffType"`
	Path     string `json:"path"`
	SrcPath  string `json:"srcPath,omitempty"`
	Line     int    `json:"line"`
	LineType string `json:"lineType"`
	FileType string `json:"fileType"`
}

func (c *Client) ListOpenPullRequests(ctx context.Context, project, slug string) ([]migrate.PullRequest, error) {
	query := url.Values{}
	query.Set("state", "OPEN")
	query.Set("order", "newest")

	result, err := getAll[pullRequest](ctx, c, repoPath(project, slug)+"/pull-requests", query)
	if err != nil {
		return nil, fmt.Errorf("listing pull requests of %s/%s: %w", project, slug, err)
	}

	prs := make([]migrate.PullRequest, 0, len(result))
	for _, pr := range result {
		prs = append(prs, migrate.PullRequest{ID: pr.ID, Title: pr.Title, State: pr.State})
	}
	return prs, nil
}

func (c *Client) OpenPullRequest(ctx context.Context, project, slug string, pr migrate.NewPullRequest) (migrate.PullRequest, error) {
	repo := refRepo{Slug: slug}
	repo.Project.Key = project

	body := map[string]any{
		"title":       pr.Title,
		"description": pr.Description,
		"fromRef":     ref{ID: "refs/heads/" + pr.FromBranch, Repository: repo},
		"toRef":       ref{ID: "refs/heads/" + pr.ToBranch, Repository: repo},
	}

	var result pullRequest
	if err := c.do(ctx, http.MethodPost, repoPath(project, slug)+"/pull-requests", jsonBody(body), &result); err != nil {
		return migrate.PullRequest{}, fmt.Errorf("creating pull request %q: %w", pr.Title, err)
	}
	return migrate.PullRequest{ID: result.ID, Title: result.Title, State: result.State}, nil
}

// AddPullRequestComment posts a general comment, or a reply when parentID is not zero.
func (c *Client) AddPullRequestComment(ctx context.Context, project, slug string, prID int, text string, parentID int) (int, error) {
	body := map[string]any{"text": text}
	if parentID != 0 {
		body["parent"] = commentParent{ID: parentID}
	}
	return c.postComment(ctx, project, slug, prID, body)
}

func (c *Client) PostInlineComment(ctx context.Context, project, slug string, prID int, ic migrate.InlineComment) (int, error) {
	body := map[string]any{
		"text":     ic.Text,
		"severity": "NORMAL",
		"anchor": commentAnchor{
			DiffType: "EFFECTIVE",
			Path:     ic.Anchor.Path,
			SrcPath:  ic.Anchor.SrcPath,
			Line:     ic.Anchor.Line,
			LineType: string(ic.Anchor.LineType),
			FileType: string(ic.Anchor.FileType),
		},
	}
	return c.postComment(ctx, project, slug, prID, body)
}

func (c *Client) postComment(ctx context.Context, project, slug string, prID int, body map[string]any) (int, error) {
	path := repoPath(project, slug) + "/pull-requests/" + strconv.Itoa(prID) + "/comments"

	var result comment
	if err := c.do(ctx, http.MethodPost, path, jsonBody(body), &result); err != nil {
		return 0, fmt.Errorf("commenting on pull request %d: %w", prID, err)
	}
	return result.ID, nil
}
