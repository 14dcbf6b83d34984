package migrate

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/manicminer/gitlab2bitbucket/internal/shell"
)

// Settings are the process-wide values shared by every repository migration.
type Settings struct {
	// LocalRoot holds one working directory per repository: <LocalRoot>/<group>/<project>.
	LocalRoot string
	// GitlabSSHURL is the ssh base URL used to clone source repositories.
	GitlabSSHURL string

	BitbucketUser  string
	BitbucketToken string

	MaxPushAttempts int

	JobFolderPattern string
	JobNameAddon     string
	JobRepoURLType   string
	JobBackups       billy.Filesystem
}

// State is the terminal state of a repository migration.
type State string

const (
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

type StepResult struct {
	Name string
	Ran  bool
}

// Result describes one repository migration.
type Result struct {
	Project        string
	State          State
	Steps          []StepResult
	NonFatalErrors int
	Duration       time.Duration
	Err            error
}

// Ran reports whether the named step performed work.
func (r Result) Ran(step string) bool {
	for _, s := range r.Steps {
		if s.Name == step {
			return s.Ran
		}
	}
	return false
}

// Step names, in pipeline order.
const (
	StepDeleteDestination = "delete-destination"
	StepCreateDestination = "create-destination"
	StepEnsureDestination = "ensure-destination"
	StepArchiveSource     = "archive-source"
	StepClonePush         = "clone-push"
	StepEnableMirroring   = "enable-mirroring"
	StepReplicateReviews  = "replicate-reviews"
	StepPatchCIJobs       = "patch-ci-jobs"
	StepEnableWebhook     = "enable-webhook"
	StepClearLocalClone   = "clear-local-clone"
)

// Migrator runs the migration pipeline for a single source project.
type Migrator struct {
	spec     Spec
	project  Project
	settings Settings

	source Source
	dest   Destination
	ci     CI
	runner shell.Runner
	logger hclog.Logger

	repo     *DestinationRepo
	errCount int
}

func NewMigrator(spec Spec, project Project, settings Settings, source Source, dest Destination, ci CI, runner shell.Runner, logger hclog.Logger) *Migrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Migrator{
		spec:     spec,
		project:  project,
		settings: settings,
		source:   source,
		dest:     dest,
		ci:       ci,
		runner:   runner,
		logger:   logger.With("group", spec.GitlabGroup, "project", project.Path),
	}
}

type step struct {
	name string
	run  func(ctx context.Context) (bool, error)
}

func (m *Migrator) steps() []step {
	return []step{
		{StepDeleteDestination, m.deleteDestination},
		{StepCreateDestination, m.createDestination},
		{StepEnsureDestination, m.ensureDestinationRepo},
		{StepArchiveSource, m.archiveSource},
		{StepClonePush, m.cloneAndPush},
		{StepEnableMirroring, m.enableMirroring},
		{StepReplicateReviews, m.replicateReviews},
		{StepPatchCIJobs, m.patchCIJobs},
		{StepEnableWebhook, m.enableWebhook},
		{StepClearLocalClone, m.clearLocalClone},
	}
}

// Run executes every step in order. The first step error aborts the migration and is
// returned; steps already completed are not rolled back.
func (m *Migrator) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	result := Result{Project: m.projectPath(), State: StateCompleted}

	m.logger.Info(fmt.Sprintf("=== Starting work with repo [%s] ===", result.Project))
	for _, s := range m.steps() {
		if err := ctx.Err(); err != nil {
			result.State, result.Err = StateAborted, fmt.Errorf("%s: %w", s.name, err)
			break
		}

		ran, err := s.run(ctx)
		result.Steps = append(result.Steps, StepResult{Name: s.name, Ran: ran})
		if err != nil {
			m.logger.Error("migration step failed, stopping", "step", s.name, "error", err)
			result.State, result.Err = StateAborted, fmt.Errorf("%s: %w", s.name, err)
			break
		}
		if ran {
			m.logger.Debug("step finished", "step", s.name)
		}
	}

	result.NonFatalErrors = m.errCount
	result.Duration = time.Since(start).Round(time.Millisecond)
	m.logger.Info("finished work with repo", "state", result.State, "errors", result.NonFatalErrors, "duration", result.Duration)

	return result, result.Err
}

func (m *Migrator) sendErr(err error) {
	m.errCount++
	m.logger.Error(err.Error())
}

func (m *Migrator) projectPath() string {
	return fmt.Sprintf("%s/%s", m.spec.GitlabGroup, m.project.Path)
}

func (m *Migrator) destinationName() string {
	return m.spec.DestinationName(m.project.Path)
}

func (m *Migrator) localPath() string {
	return filepath.Join(m.settings.LocalRoot, filepath.FromSlash(m.spec.GitlabGroup), m.project.Path)
}

func (m *Migrator) needsDestinationRepo() bool {
	return m.spec.Clone || m.spec.Mirror || m.spec.DuplicateReviews || m.spec.PatchCIJobs || m.spec.WebhookEnabled()
}

func (m *Migrator) deleteDestination(ctx context.Context) (bool, error) {
	if !m.spec.DeleteDestination {
		return false, nil
	}

	m.logger.Info("deleting Bitbucket repo", "bitbucket_project", m.spec.BitbucketProject, "repo", m.destinationName())
	if err := m.dest.DeleteRepo(ctx, m.spec.BitbucketProject, m.destinationName()); err != nil {
		m.logger.Warn("error while deleting Bitbucket repo", "error", err)
	}
	return true, nil
}

func (m *Migrator) createDestination(ctx context.Context) (bool, error) {
	if !m.spec.Clone {
		return false, nil
	}

	name := m.destinationName()
	m.logger.Info("creating Bitbucket repo", "bitbucket_project", m.spec.BitbucketProject, "repo", name)
	if err := m.dest.CreateRepo(ctx, m.spec.BitbucketProject, name); err != nil {
		m.logger.Warn("Bitbucket repo was not created, already exists?", "error", err)
		return true, nil
	}

	m.logger.Info("Bitbucket repo created", "repo", name)
	if m.project.DefaultBranch == "" {
		return true, nil
	}
	if err := m.dest.SetDefaultBranch(ctx, m.spec.BitbucketProject, name, m.project.DefaultBranch); err != nil {
		m.logger.Warn("default branch was not set", "repo", name, "branch", m.project.DefaultBranch, "error", err)
	} else {
		m.logger.Info("default branch set", "repo", name, "branch", m.project.DefaultBranch)
	}
	return true, nil
}

// ensureDestinationRepo fetches the destination repository once for all later steps.
func (m *Migrator) ensureDestinationRepo(ctx context.Context) (bool, error) {
	if !m.needsDestinationRepo() {
		return false, nil
	}

	repo, err := m.dest.GetRepo(ctx, m.spec.BitbucketProject, m.destinationName())
	if err != nil {
		return false, fmt.Errorf("retrieving Bitbucket repo %s/%s: %w", m.spec.BitbucketProject, m.destinationName(), err)
	}
	if repo.ProjectKey == "" {
		repo.ProjectKey = m.spec.BitbucketProject
	}
	if repo.Slug == "" {
		repo.Slug = m.destinationName()
	}
	m.repo = &repo
	m.logger.Debug("found Bitbucket repo", "repo_id", repo.ID, "slug", repo.Slug, "ssh_url", repo.SSHCloneURL, "http_url", repo.HTTPCloneURL)

	return true, nil
}

func (m *Migrator) archiveSource(ctx context.Context) (bool, error) {
	if !m.spec.ArchiveSource {
		return false, nil
	}

	m.logger.Info("putting source repo in readonly state")
	if err := m.source.ArchiveProject(ctx, m.project.ID); err != nil {
		return false, fmt.Errorf("archiving gitlab project: %w", err)
	}
	return true, nil
}

func (m *Migrator) cloneAndPush(ctx context.Context) (bool, error) {
	if !m.spec.Clone {
		return false, nil
	}

	destinationURL := m.repo.SSHCloneURL
	if destinationURL == "" {
		return false, fmt.Errorf("no ssh clone URL for Bitbucket repo %s", m.repo.Slug)
	}
	sourceURL := fmt.Sprintf("%s%s/%s.git", m.settings.GitlabSSHURL, m.spec.GitlabGroup, m.project.Path)

	pusher := NewPusher(m.runner, func(ctx context.Context, branch string) error {
		return m.dest.DeleteBranch(ctx, m.repo.ProjectKey, m.repo.Slug, branch)
	}, m.logger.Named("push"))
	pusher.MaxAttempts = m.settings.MaxPushAttempts

	m.logger.Info("cloning", "from", sourceURL, "to", destinationURL)
	report, err := pusher.Push(ctx, sourceURL, destinationURL, m.localPath())
	if err != nil {
		return false, err
	}
	m.logger.Info("repository pushed", "attempts", report.Attempts, "deleted_branches", len(report.DeletedBranches))
	if len(report.Unverified) > 0 {
		m.sendErr(fmt.Errorf("branches not found on destination after push: %s", strings.Join(report.Unverified, ", ")))
	}

	return true, nil
}

func (m *Migrator) enableMirroring(ctx context.Context) (bool, error) {
	if !m.spec.Mirror {
		return false, nil
	}

	mirrorURL, err := withCredentials(m.repo.HTTPCloneURL, m.settings.BitbucketUser, m.settings.BitbucketToken)
	if err != nil {
		return false, fmt.Errorf("building mirror URL: %w", err)
	}

	existing, err := m.source.ListRemoteMirrors(ctx, m.project.ID)
	if err != nil {
		return false, fmt.Errorf("listing remote mirrors: %w", err)
	}
	for _, mirror := range existing {
		if sameRemote(mirror, m.repo.HTTPCloneURL) {
			m.logger.Info("remote mirror already configured", "url", m.repo.HTTPCloneURL)
			return true, nil
		}
	}

	m.logger.Info("enabling mirroring", "url", m.repo.HTTPCloneURL)
	if err = m.source.CreateRemoteMirror(ctx, m.project.ID, mirrorURL); err != nil {
		return false, fmt.Errorf("enabling mirroring: %w", err)
	}
	return true, nil
}

func (m *Migrator) replicateReviews(ctx context.Context) (bool, error) {
	if !m.spec.DuplicateReviews {
		return false, nil
	}

	m.logger.Info("duplicating merge requests")
	mergeRequests, err := m.source.ListOpenReviewRequests(ctx, m.project.ID)
	if err != nil {
		return false, fmt.Errorf("retrieving gitlab merge requests: %w", err)
	}
	pullRequests, err := m.dest.ListOpenPullRequests(ctx, m.repo.ProjectKey, m.repo.Slug)
	if err != nil {
		return false, fmt.Errorf("retrieving bitbucket pull requests: %w", err)
	}

	replicator := NewReplicator(m.dest, *m.repo, m.project.WebURL, m.logger.Named("discussions"))
	labels := NewLabelSynchronizer(m.dest, *m.repo, m.logger.Named("labels"))

	var definitions []SourceLabel
	definitionsLoaded := false

	for _, mergeRequest := range mergeRequests {
		pullRequest, found := matchPullRequest(pullRequests, mergeRequest.Title)
		if found {
			m.logger.Debug("found existing pull request", "title", mergeRequest.Title, "pr_id", pullRequest.ID)
		} else {
			created, err := m.openPullRequest(ctx, mergeRequest)
			if err != nil {
				m.sendErr(fmt.Errorf("creating pull request for merge request %d: %w", mergeRequest.IID, err))
				continue
			}
			pullRequest = created

			discussions, err := m.source.ListDiscussions(ctx, m.project.ID, mergeRequest.IID)
			if err != nil {
				return true, fmt.Errorf("listing discussions of merge request %d: %w", mergeRequest.IID, err)
			}
			posted, err := replicator.Replicate(ctx, pullRequest.ID, discussions)
			if err != nil {
				return true, err
			}
			m.logger.Info("migrated merge request comments", "merge_request", mergeRequest.IID, "pr_id", pullRequest.ID, "discussions", len(discussions), "comments", posted)
		}

		if len(mergeRequest.Labels) == 0 {
			continue
		}
		if !definitionsLoaded {
			if definitions, err = m.source.ListLabels(ctx, m.project.ID); err != nil {
				return true, fmt.Errorf("listing gitlab project labels: %w", err)
			}
			definitionsLoaded = true
		}
		if _, err = labels.Sync(ctx, pullRequest.ID, mergeRequest.Labels, definitions); err != nil {
			return true, err
		}
	}

	return true, nil
}

func (m *Migrator) openPullRequest(ctx context.Context, mergeRequest ReviewRequest) (PullRequest, error) {
	m.logger.Info("creating pull request", "title", mergeRequest.Title, "source_branch", mergeRequest.SourceBranch, "target_branch", mergeRequest.TargetBranch)
	pullRequest, err := m.dest.OpenPullRequest(ctx, m.repo.ProjectKey, m.repo.Slug, NewPullRequest{
		Title:       mergeRequest.Title,
		Description: RewriteUploadLinks(mergeRequest.Description, m.project.WebURL),
		FromBranch:  mergeRequest.SourceBranch,
		ToBranch:    mergeRequest.TargetBranch,
	})
	if err != nil {
		return PullRequest{}, err
	}

	note := fmt.Sprintf("This pull request was created in Gitlab \non %s \nby %s", mergeRequest.CreatedAt.Format(dateFormat), mergeRequest.Author)
	if _, err = m.dest.AddPullRequestComment(ctx, m.repo.ProjectKey, m.repo.Slug, pullRequest.ID, note, 0); err != nil {
		m.sendErr(fmt.Errorf("posting creation note on pull request %d: %w", pullRequest.ID, err))
	}

	return pullRequest, nil
}

func matchPullRequest(pullRequests []PullRequest, title string) (PullRequest, bool) {
	for _, pr := range pullRequests {
		if pr.Title == title {
			return pr, true
		}
	}
	return PullRequest{}, false
}

func (m *Migrator) patchCIJobs(ctx context.Context) (bool, error) {
	if !m.spec.PatchCIJobs {
		return false, nil
	}
	if m.ci == nil {
		return false, fmt.Errorf("jenkins connection is not configured")
	}

	newURL := m.repo.CloneURL(m.settings.JobRepoURLType)
	if newURL == "" {
		return false, fmt.Errorf("no %s clone URL for Bitbucket repo %s", m.settings.JobRepoURLType, m.repo.Slug)
	}

	m.logger.Info("changing Jenkins jobs", "repo", m.project.Path)
	patcher := NewJobPatcher(m.ci, JobPatcherOptions{
		FolderPattern: m.settings.JobFolderPattern,
		NameAddon:     m.settings.JobNameAddon,
		Backups:       m.settings.JobBackups,
		Backup:        m.spec.BackupCIJobs,
	}, m.logger.Named("jenkins"))

	patched, err := patcher.Patch(ctx, m.project.Path, newURL)
	if err != nil {
		return false, err
	}
	m.logger.Info("jenkins jobs reconfigured", "count", patched)
	return true, nil
}

func (m *Migrator) enableWebhook(ctx context.Context) (bool, error) {
	if !m.spec.WebhookEnabled() {
		return false, nil
	}

	m.logger.Info("enabling webhook for Bitbucket repo", "name", m.spec.WebhookName, "url", m.spec.WebhookURL)
	hooks, err := m.dest.ListWebhooks(ctx, m.repo.ProjectKey, m.repo.Slug)
	if err != nil {
		m.sendErr(fmt.Errorf("listing webhooks: %w", err))
		return false, nil
	}
	for _, hook := range hooks {
		if hook.Name == m.spec.WebhookName && hook.URL == m.spec.WebhookURL {
			m.logger.Debug("webhook already exists", "name", hook.Name)
			return true, nil
		}
	}

	if err = m.dest.CreateWebhook(ctx, m.repo.ProjectKey, m.repo.Slug, Webhook{
		Name:   m.spec.WebhookName,
		URL:    m.spec.WebhookURL,
		Events: WebhookEvents,
		Active: true,
	}); err != nil {
		m.sendErr(fmt.Errorf("creating webhook: %w", err))
		return false, nil
	}
	return true, nil
}

func (m *Migrator) clearLocalClone(_ context.Context) (bool, error) {
	if !m.spec.ClearLocal {
		return false, nil
	}

	m.logger.Info("cleaning local traces", "dir", m.localPath())
	if err := os.RemoveAll(m.localPath()); err != nil {
		m.sendErr(fmt.Errorf("removing local clone: %w", err))
	}
	return true, nil
}

// withCredentials embeds user and token into an http(s) clone URL, replacing any user info
// already present.
func withCredentials(cloneURL, user, token string) (string, error) {
	if cloneURL == "" {
		return "", fmt.Errorf("no http clone URL")
	}
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword(user, token)
	return u.String(), nil
}

// sameRemote compares two remote URLs by host and path, ignoring credentials (GitLab masks
// them when listing mirrors).
func sameRemote(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host) && strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/")
}
