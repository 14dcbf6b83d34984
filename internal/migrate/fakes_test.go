package migrate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/manicminer/gitlab2bitbucket/internal/shell"
)

type fakeShell struct {
	mu      sync.Mutex
	calls   []shell.Command
	handler func(cmd shell.Command) (shell.Result, error)
}

func (f *fakeShell) Run(_ context.Context, cmd shell.Command) (shell.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
	if f.handler == nil {
		return shell.Result{}, nil
	}
	return f.handler(cmd)
}

func (f *fakeShell) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c.Args, " "))
	}
	return out
}

type fakeSource struct {
	mu sync.Mutex

	projects    map[string][]Project
	projectsErr map[string]error

	archiveErr error
	archived   []int

	reviews     []ReviewRequest
	reviewsErr  error
	discussions map[int][]Discussion
	labels      []SourceLabel
	labelCalls  int

	mirrors        []string
	createdMirrors []string
	mirrorErr      error
}

func (f *fakeSource) ListGroupProjects(_ context.Context, group, project string) ([]Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.projectsErr[group]; err != nil {
		return nil, err
	}
	var out []Project
	for _, p := range f.projects[group] {
		if project == "" || project == p.Path {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeSource) ArchiveProject(_ context.Context, projectID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.archived = append(f.archived, projectID)
	return nil
}

func (f *fakeSource) ListOpenReviewRequests(context.Context, int) ([]ReviewRequest, error) {
	return f.reviews, f.reviewsErr
}

func (f *fakeSource) ListDiscussions(_ context.Context, _ int, reviewIID int) ([]Discussion, error) {
	return f.discussions[reviewIID], nil
}

func (f *fakeSource) ListLabels(context.Context, int) ([]SourceLabel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labelCalls++
	return f.labels, nil
}

func (f *fakeSource) ListRemoteMirrors(context.Context, int) ([]string, error) {
	return f.mirrors, nil
}

func (f *fakeSource) CreateRemoteMirror(_ context.Context, _ int, mirrorURL string) error {
	if f.mirrorErr != nil {
		return f.mirrorErr
	}
	f.createdMirrors = append(f.createdMirrors, mirrorURL)
	return nil
}

type postedComment struct {
	PRID     int
	ID       int
	Text     string
	ParentID int
	Anchor   *Anchor
}

type fakeDestination struct {
	mu sync.Mutex

	calls []string

	repo      DestinationRepo
	getErr    error
	createErr error

	defaultBranches map[string]string
	deletedRepos    []string
	deletedBranches []string
	deleteBranchErr error

	pulls   []PullRequest
	openErr map[string]error
	opened  []NewPullRequest

	commentErr error
	comments   []postedComment
	nextID     int

	prLabels      map[int][]string
	createdLabels []PRLabel
	labelErr      error

	hooks        []Webhook
	createdHooks []Webhook
	hookErr      error
}

func (f *fakeDestination) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeDestination) id() int {
	f.nextID++
	return f.nextID
}

func (f *fakeDestination) CreateRepo(_ context.Context, project, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create %s/%s", project, name)
	return f.createErr
}

func (f *fakeDestination) DeleteRepo(_ context.Context, project, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete %s/%s", project, slug)
	f.deletedRepos = append(f.deletedRepos, slug)
	return nil
}

func (f *fakeDestination) GetRepo(_ context.Context, project, slug string) (DestinationRepo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get %s/%s", project, slug)
	return f.repo, f.getErr
}

func (f *fakeDestination) SetDefaultBranch(_ context.Context, _, slug, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("default-branch %s %s", slug, branch)
	if f.defaultBranches == nil {
		f.defaultBranches = map[string]string{}
	}
	f.defaultBranches[slug] = branch
	return nil
}

func (f *fakeDestination) DeleteBranch(_ context.Context, _, _, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteBranchErr != nil {
		return f.deleteBranchErr
	}
	f.deletedBranches = append(f.deletedBranches, branch)
	return nil
}

func (f *fakeDestination) ListOpenPullRequests(context.Context, string, string) ([]PullRequest, error) {
	return f.pulls, nil
}

func (f *fakeDestination) OpenPullRequest(_ context.Context, _, _ string, pr NewPullRequest) (PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[pr.Title]; err != nil {
		return PullRequest{}, err
	}
	f.opened = append(f.opened, pr)
	return PullRequest{ID: 100 + len(f.opened), Title: pr.Title, State: "OPEN"}, nil
}

func (f *fakeDestination) AddPullRequestComment(_ context.Context, _, _ string, prID int, text string, parentID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return 0, f.commentErr
	}
	id := f.id()
	f.comments = append(f.comments, postedComment{PRID: prID, ID: id, Text: text, ParentID: parentID})
	return id, nil
}

func (f *fakeDestination) PostInlineComment(_ context.Context, _, _ string, prID int, comment InlineComment) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return 0, f.commentErr
	}
	id := f.id()
	anchor := comment.Anchor
	f.comments = append(f.comments, postedComment{PRID: prID, ID: id, Text: comment.Text, Anchor: &anchor})
	return id, nil
}

func (f *fakeDestination) ListPullRequestLabels(_ context.Context, _ DestinationRepo, prID int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prLabels[prID], nil
}

func (f *fakeDestination) CreatePullRequestLabel(_ context.Context, _ DestinationRepo, prID int, label PRLabel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labelErr != nil {
		return f.labelErr
	}
	if f.prLabels == nil {
		f.prLabels = map[int][]string{}
	}
	f.prLabels[prID] = append(f.prLabels[prID], label.Name)
	f.createdLabels = append(f.createdLabels, label)
	return nil
}

func (f *fakeDestination) ListWebhooks(context.Context, string, string) ([]Webhook, error) {
	return f.hooks, nil
}

func (f *fakeDestination) CreateWebhook(_ context.Context, _, _ string, hook Webhook) error {
	if f.hookErr != nil {
		return f.hookErr
	}
	f.createdHooks = append(f.createdHooks, hook)
	return nil
}

type fakeCI struct {
	jobs         []CIJob
	configs      map[string]string
	reconfigured map[string]string
}

func (f *fakeCI) ListJobs(context.Context, int) ([]CIJob, error) {
	return f.jobs, nil
}

func (f *fakeCI) GetJobConfig(_ context.Context, fullName string) (string, error) {
	config, ok := f.configs[fullName]
	if !ok {
		return "", fmt.Errorf("job %s not found", fullName)
	}
	return config, nil
}

func (f *fakeCI) ReconfigJob(_ context.Context, fullName, config string) error {
	if f.reconfigured == nil {
		f.reconfigured = map[string]string{}
	}
	f.reconfigured[fullName] = config
	return nil
}
