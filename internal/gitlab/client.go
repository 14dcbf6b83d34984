// Package gitlab is the source side of a migration, built on go-gitlab.
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/xanzy/go-gitlab"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
)

const (
	perPage      = 100
	diffNoteType = "DiffNote"
)

var _ migrate.Source = &Client{}

type Options struct {
	URL        string
	Token      string
	HTTPClient *http.Client
	RetryMax   int
	Logger     hclog.Logger
}

// Client talks to the GitLab v4 API.
type Client struct {
	gl     *gitlab.Client
	logger hclog.Logger
}

func NewClient(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	clientOpts := []gitlab.ClientOptionFunc{
		gitlab.WithBaseURL(opts.URL),
		gitlab.WithCustomLeveledLogger(logger.Named("http")),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, gitlab.WithHTTPClient(opts.HTTPClient))
	}
	if opts.RetryMax > 0 {
		clientOpts = append(clientOpts, gitlab.WithCustomRetryMax(opts.RetryMax))
	}

	gl, err := gitlab.NewClient(opts.Token, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %v", err)
	}

	return &Client{gl: gl, logger: logger}, nil
}

// Ping verifies the token by fetching the current user.
func (c *Client) Ping(ctx context.Context) error {
	user, _, err := c.gl.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connecting to gitlab: %v", err)
	}
	c.logger.Debug("connected to gitlab", "user", user.Username)
	return nil
}

// ListGroupProjects returns the projects of group, or only the named project when project is
// set. A group or project that cannot be found yields a warning and no projects.
func (c *Client) ListGroupProjects(ctx context.Context, group, project string) ([]migrate.Project, error) {
	if project != "" {
		path := fmt.Sprintf("%s/%s", group, project)
		c.logger.Debug("retrieving GitLab project", "path", path)
		result, resp, err := c.gl.Projects.GetProject(path, nil, gitlab.WithContext(ctx))
		if isNotFound(resp) {
			c.logger.Warn("GitLab project not found", "path", path)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("retrieving gitlab project %s: %v", path, err)
		}
		return []migrate.Project{toProject(result)}, nil
	}

	groupID, found, err := c.findGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	if !found {
		c.logger.Warn("GitLab group not found", "group", group)
		return nil, nil
	}

	var projects []migrate.Project
	opts := &gitlab.ListGroupProjectsOptions{
		ListOptions: gitlab.ListOptions{PerPage: perPage},
		OrderBy:     pointer("path"),
		Sort:        pointer("asc"),
	}

	c.logger.Debug("listing GitLab group projects", "group", group, "group_id", groupID)
	for {
		result, resp, err := c.gl.Groups.ListGroupProjects(groupID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing projects of group %s: %v", group, err)
		}

		for _, p := range result {
			if p != nil {
				projects = append(projects, toProject(p))
			}
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return projects, nil
}

// findGroup locates a group by full path, ignoring case.
func (c *Client) findGroup(ctx context.Context, fullPath string) (int, bool, error) {
	search := fullPath
	if i := strings.LastIndex(fullPath, "/"); i >= 0 {
		search = fullPath[i+1:]
	}

	opts := &gitlab.ListGroupsOptions{
		ListOptions:  gitlab.ListOptions{PerPage: perPage},
		AllAvailable: pointer(true),
		Search:       pointer(search),
	}

	for {
		result, resp, err := c.gl.Groups.ListGroups(opts, gitlab.WithContext(ctx))
		if err != nil {
			return 0, false, fmt.Errorf("listing gitlab groups: %v", err)
		}

		for _, g := range result {
			if g != nil && strings.EqualFold(g.FullPath, fullPath) {
				return g.ID, true, nil
			}
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return 0, false, nil
}

func (c *Client) ArchiveProject(ctx context.Context, projectID int) error {
	if _, _, err := c.gl.Projects.ArchiveProject(projectID, gitlab.WithContext(ctx)); err != nil {
		return fmt.Errorf("archiving project %d: %v", projectID, err)
	}
	return nil
}

// ListOpenReviewRequests returns open merge requests, oldest first.
func (c *Client) ListOpenReviewRequests(ctx context.Context, projectID int) ([]migrate.ReviewRequest, error) {
	var mergeRequests []migrate.ReviewRequest

	opts := &gitlab.ListProjectMergeRequestsOptions{
		ListOptions: gitlab.ListOptions{PerPage: perPage},
		State:       pointer("opened"),
		OrderBy:     pointer("created_at"),
		Sort:        pointer("asc"),
	}

	c.logger.Debug("retrieving GitLab merge requests", "project_id", projectID)
	for {
		result, resp, err := c.gl.MergeRequests.ListProjectMergeRequests(projectID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("retrieving gitlab merge requests: %v", err)
		}

		for _, mr := range result {
			if mr == nil {
				continue
			}
			mergeRequests = append(mergeRequests, migrate.ReviewRequest{
				IID:          mr.IID,
				Title:        mr.Title,
				Description:  mr.Description,
				SourceBranch: mr.SourceBranch,
				TargetBranch: mr.TargetBranch,
				Author:       authorName(mr.Author),
				CreatedAt:    timeValue(mr.CreatedAt),
				Labels:       []string(mr.Labels),
			})
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return mergeRequests, nil
}

// ListDiscussions returns the discussions of a merge request ordered by their first note.
// System notes are included.
func (c *Client) ListDiscussions(ctx context.Context, projectID, reviewIID int) ([]migrate.Discussion, error) {
	var discussions []migrate.Discussion
	var started []int64

	opts := &gitlab.ListMergeRequestDiscussionsOptions{PerPage: perPage}

	c.logger.Debug("retrieving GitLab merge request discussions", "project_id", projectID, "merge_request_id", reviewIID)
	for {
		result, resp, err := c.gl.Discussions.ListMergeRequestDiscussions(projectID, reviewIID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing merge request discussions: %v", err)
		}

		for _, d := range result {
			if d == nil {
				continue
			}
			discussion := migrate.Discussion{ID: d.ID}
			for _, note := range d.Notes {
				if note == nil {
					continue
				}
				discussion.Comments = append(discussion.Comments, toComment(note))
			}
			if len(discussion.Comments) == 0 {
				continue
			}
			discussions = append(discussions, discussion)
			started = append(started, discussion.Comments[0].CreatedAt.UnixNano())
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	sort.Stable(byStart{discussions, started})
	return discussions, nil
}

type byStart struct {
	discussions []migrate.Discussion
	started     []int64
}

func (b byStart) Len() int           { return len(b.discussions) }
func (b byStart) Less(i, j int) bool { return b.started[i] < b.started[j] }
func (b byStart) Swap(i, j int) {
	b.discussions[i], b.discussions[j] = b.discussions[j], b.discussions[i]
	b.started[i], b.started[j] = b.started[j], b.started[i]
}

func (c *Client) ListLabels(ctx context.Context, projectID int) ([]migrate.SourceLabel, error) {
	var labels []migrate.SourceLabel

	opts := &gitlab.ListLabelsOptions{
		ListOptions:           gitlab.ListOptions{PerPage: perPage},
		IncludeAncestorGroups: pointer(true),
	}

	for {
		result, resp, err := c.gl.Labels.ListLabels(projectID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing project labels: %v", err)
		}

		for _, l := range result {
			if l != nil {
				labels = append(labels, migrate.SourceLabel{Name: l.Name, Color: l.Color, Description: l.Description})
			}
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return labels, nil
}

// ListRemoteMirrors returns the URLs of the project's push mirrors. GitLab masks credentials.
func (c *Client) ListRemoteMirrors(ctx context.Context, projectID int) ([]string, error) {
	var urls []string

	opts := &gitlab.ListProjectMirrorOptions{PerPage: perPage}
	for {
		result, resp, err := c.gl.ProjectMirrors.ListProjectMirror(projectID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("listing remote mirrors: %v", err)
		}

		for _, m := range result {
			if m != nil {
				urls = append(urls, m.URL)
			}
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return urls, nil
}

// CreateRemoteMirror adds an enabled push mirror covering every branch.
func (c *Client) CreateRemoteMirror(ctx context.Context, projectID int, mirrorURL string) error {
	_, _, err := c.gl.ProjectMirrors.AddProjectMirror(projectID, &gitlab.AddProjectMirrorOptions{
		URL:                   pointer(mirrorURL),
		Enabled:               pointer(true),
		OnlyProtectedBranches: pointer(false),
		KeepDivergentRefs:     pointer(false),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("adding remote mirror: %v", err)
	}
	return nil
}

func toProject(p *gitlab.Project) migrate.Project {
	return migrate.Project{
		ID:                p.ID,
		Path:              p.Path,
		PathWithNamespace: p.PathWithNamespace,
		DefaultBranch:     p.DefaultBranch,
		WebURL:            p.WebURL,
	}
}

func toComment(note *gitlab.Note) migrate.Comment {
	comment := migrate.Comment{
		Author:    note.Author.Name,
		CreatedAt: timeValue(note.CreatedAt),
		Body:      note.Body,
		Inline:    string(note.Type) == diffNoteType,
	}
	if comment.Author == "" {
		comment.Author = note.Author.Username
	}
	if p := note.Position; p != nil {
		comment.Anchor = &migrate.DiffAnchor{
			NewPath: p.NewPath,
			OldPath: p.OldPath,
			NewLine: p.NewLine,
			OldLine: p.OldLine,
		}
	}
	return comment
}

func authorName(u *gitlab.BasicUser) string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

func isNotFound(resp *gitlab.Response) bool {
	return resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotFound
}
