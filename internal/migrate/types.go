// Package migrate moves a GitLab project to Bitbucket: branches and tags, open merge requests
// with their discussions and labels, push mirroring, Jenkins job repointing and webhooks.
package migrate

import (
	"fmt"
	"strings"
	"time"
)

// Spec is the resolved, immutable migration configuration for one configured repository entry.
type Spec struct {
	GitlabGroup      string
	GitlabProject    string
	BitbucketProject string
	BitbucketPrefix  string

	Clone             bool
	DeleteDestination bool
	Mirror            bool
	ArchiveSource     bool
	DuplicateReviews  bool
	PatchCIJobs       bool
	BackupCIJobs      bool
	ClearLocal        bool

	WebhookName string
	WebhookURL  string
}

// WebhookEnabled reports whether a webhook URL resolved for this repository.
func (s Spec) WebhookEnabled() bool {
	return s.WebhookURL != ""
}

// DestinationName is the Bitbucket repository name used for a source project path.
func (s Spec) DestinationName(projectPath string) string {
	return fmt.Sprintf("%s.%s", s.BitbucketPrefix, projectPath)
}

// Project is a source GitLab project.
type Project struct {
	ID                int
	Path              string
	PathWithNamespace string
	DefaultBranch     string
	WebURL            string
}

// ReviewRequest is an open GitLab merge request.
type ReviewRequest struct {
	IID          int
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	Author       string
	CreatedAt    time.Time
	Labels       []string
}

// Discussion is an ordered thread of comments.
type Discussion struct {
	ID       string
	Comments []Comment
}

// Comment is a single note inside a discussion. Inline is set for diff notes; Anchor may
// still be nil for those when GitLab did not return a position.
type Comment struct {
	Author    string
	CreatedAt time.Time
	Body      string
	Inline    bool
	Anchor    *DiffAnchor
}

// DiffAnchor pins a comment to a diff line. Zero line numbers mean the side is absent.
type DiffAnchor struct {
	NewPath string
	OldPath string
	NewLine int
	OldLine int
}

// SourceLabel is a project label definition on GitLab.
type SourceLabel struct {
	Name        string
	Color       string
	Description string
}

// DestinationRepo is a Bitbucket repository and its clone links.
type DestinationRepo struct {
	ID           int
	ProjectID    int
	ProjectKey   string
	Slug         string
	Name         string
	HTTPCloneURL string
	SSHCloneURL  string
}

// CloneURL returns the clone link of the given kind ("ssh" or "http").
func (r DestinationRepo) CloneURL(kind string) string {
	switch strings.ToLower(kind) {
	case "http", "https":
		return r.HTTPCloneURL
	default:
		return r.SSHCloneURL
	}
}

// PullRequest is a Bitbucket pull request.
type PullRequest struct {
	ID    int
	Title string
	State string
}

type NewPullRequest struct {
	Title       string
	Description string
	FromBranch  string
	ToBranch    string
}

type LineType string

const (
	LineRemoved LineType = "REMOVED"
	LineAdded   LineType = "ADDED"
	LineContext LineType = "CONTEXT"
)

type FileType string

const (
	FileFrom FileType = "FROM"
	FileTo   FileType = "TO"
)

// Anchor is the Bitbucket-side placement of an inline comment.
type Anchor struct {
	Path     string
	SrcPath  string
	Line     int
	LineType LineType
	FileType FileType
}

type InlineComment struct {
	Text   string
	Anchor Anchor
}

type PRLabel struct {
	Name  string
	Color string
}

// Webhook is a repository webhook on Bitbucket.
type Webhook struct {
	Name   string
	URL    string
	Events []string
	Active bool
}

// WebhookEvents are the pull request events subscribed by migrated repositories.
var WebhookEvents = []string{"pr:opened", "pr:from_ref_updated", "pr:modified"}

// CIJob is a Jenkins job as returned by a folder listing.
type CIJob struct {
	FullName string
	Name     string
}
