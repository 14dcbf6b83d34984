package bitbucket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
)

// Pull request labels come from the Reconquest "Labels for Bitbucket" plugin, which addresses
// repositories by numeric project and repository IDs.

func labelPath(repo migrate.DestinationRepo, prID int) string {
	return fmt.Sprintf("%s/%d/%d/pull-requests/%d", labelsPath, repo.ProjectID, repo.ID, prID)
}

func (c *Client) ListPullRequestLabels(ctx context.Context, repo migrate.DestinationRepo, prID int) ([]string, error) {
	var result struct {
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := c.do(ctx, http.MethodGet, labelPath(repo, prID), nil, &result); err != nil {
		return nil, fmt.Errorf("listing labels of pull request %d: %w", prID, err)
	}

	names := make([]string, 0, len(result.Labels))
	for _, l := range result.Labels {
		names = append(names, l.Name)
	}
	return names, nil
}

func (c *Client) CreatePullRequestLabel(ctx context.Context, repo migrate.DestinationRepo, prID int, label migrate.PRLabel) error {
	form := url.Values{}
	form.Set("name", label.Name)
	form.Set("color", label.Color)

	if err := c.do(ctx, http.MethodPost, labelPath(repo, prID), &request{form: form}, nil); err != nil {
		return fmt.Errorf("adding label %q to pull request %d: %w", label.Name, prID, err)
	}
	return nil
}
