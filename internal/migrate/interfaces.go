package migrate

import (
	"context"
)

// Source is the GitLab side of a migration.
type Source interface {
	ListGroupProjects(ctx context.Context, group, project string) ([]Project, error)
	ArchiveProject(ctx context.Context, projectID int) error
	ListOpenReviewRequests(ctx context.Context, projectID int) ([]ReviewRequest, error)
	ListDiscussions(ctx context.Context, projectID, reviewIID int) ([]Discussion, error)
	ListLabels(ctx context.Context, projectID int) ([]SourceLabel, error)
	ListRemoteMirrors(ctx context.Context, projectID int) ([]string, error)
	CreateRemoteMirror(ctx context.Context, projectID int, mirrorURL string) error
}

// Destination is the Bitbucket side of a migration.
type Destination interface {
	CreateRepo(ctx context.Context, project, name string) error
	DeleteRepo(ctx context.Context, project, slug string) error
	GetRepo(ctx context.Context, project, slug string) (DestinationRepo, error)
	SetDefaultBranch(ctx context.Context, project, slug, branch string) error
	DeleteBranch(ctx context.Context, project, slug, branch string) error

	ListOpenPullRequests(ctx context.Context, project, slug string) ([]PullRequest, error)
	OpenPullRequest(ctx context.Context, project, slug string, pr NewPullRequest) (PullRequest, error)
	AddPullRequestComment(ctx context.Context, project, slug string, prID int, text string, parentID int) (int, error)
	PostInlineComment(ctx context.Context, project, slug string, prID int, comment InlineComment) (int, error)

	ListPullRequestLabels(ctx context.Context, repo DestinationRepo, prID int) ([]string, error)
	CreatePullRequestLabel(ctx context.Context, repo DestinationRepo, prID int, label PRLabel) error

	ListWebhooks(ctx context.Context, project, slug string) ([]Webhook, error)
	CreateWebhook(ctx context.Context, project, slug string, hook Webhook) error
}

// CI is the Jenkins side of a migration.
type CI interface {
	ListJobs(ctx context.Context, folderDepth int) ([]CIJob, error)
	GetJobConfig(ctx context.Context, fullName string) (string, error)
	ReconfigJob(ctx context.Context, fullName, config string) error
}
