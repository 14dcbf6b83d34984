package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manicminer/gitlab2bitbucket/internal/shell"
)

const rejectedPushOutput = `To ssh://git@bitbucket.example.com:7999/proj/pre.api.git
 = [up to date]      main -> main
 ! [rejected]        feature/login -> feature/login (fetch first)
 ! [rejected]        hotfix -> hotfix (non-fast-forward)
error: failed to push some refs to 'ssh://git@bitbucket.example.com:7999/proj/pre.api.git'`

func TestParseRejectedBranches(t *testing.T) {
	refs := ParseRejectedBranches(rejectedPushOutput)
	require.Len(t, refs, 2)
	assert.Equal(t, RejectedRef{Source: "feature/login", Destination: "feature/login", Reason: "fetch first"}, refs[0])
	assert.Equal(t, RejectedRef{Source: "hotfix", Destination: "hotfix", Reason: "non-fast-forward"}, refs[1])

	assert.Empty(t, ParseRejectedBranches("Everything up-to-date"))
	assert.Empty(t, ParseRejectedBranches(" ! [rejected] garbage"))

	withCR := strings.ReplaceAll(rejectedPushOutput, "\n", "\r\n")
	assert.Len(t, ParseRejectedBranches(withCR), 2)
}

// gitScript answers git invocations made by the Pusher. pushOutputs are consumed one per
// `push origin --all`; the last one repeats.
type gitScript struct {
	cloneExit     int
	remoteAddExit int
	pushOutputs   []string
	pushes        int
	lsRemote      string
	onClone       func(dir string)
}

func (s *gitScript) handle(cmd shell.Command) (shell.Result, error) {
	switch {
	case len(cmd.Args) > 1 && cmd.Args[1] == "clone":
		if s.onClone != nil && s.cloneExit == 0 {
			s.onClone(cmd.Args[len(cmd.Args)-1])
		}
		return shell.Result{ExitCode: s.cloneExit}, nil
	case cmd.Args[0] == "remote" && cmd.Args[1] == "add":
		return shell.Result{ExitCode: s.remoteAddExit}, nil
	case cmd.Args[0] == "push" && cmd.Args[2] == "--all":
		out := ""
		if len(s.pushOutputs) > 0 {
			i := s.pushes
			if i >= len(s.pushOutputs) {
				i = len(s.pushOutputs) - 1
			}
			out = s.pushOutputs[i]
		}
		s.pushes++
		exit := 0
		if strings.Contains(out, rejectedMarker) {
			exit = 1
		}
		return shell.Result{Output: out, ExitCode: exit}, nil
	case cmd.Args[0] == "ls-remote":
		return shell.Result{Output: s.lsRemote}, nil
	}
	return shell.Result{}, nil
}

func initBareRepo(t *testing.T, dir string, branches ...string) {
	t.Helper()
	repo, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	for _, b := range branches {
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(b), plumbing.NewHash("4b825dc642cb6eb9a060e54bf8d69288fbee4904"))
		require.NoError(t, repo.Storer.SetReference(ref))
	}
}

func TestPusherDeletesRejectedBranchesAndRetries(t *testing.T) {
	script := &gitScript{pushOutputs: []string{rejectedPushOutput, " ! [rejected]        hotfix -> hotfix (fetch first)", "Everything up-to-date"}}
	sh := &fakeShell{handler: script.handle}

	var deleted []string
	pusher := NewPusher(sh, func(_ context.Context, branch string) error {
		deleted = append(deleted, branch)
		return nil
	}, nil)

	dir := filepath.Join(t.TempDir(), "group", "api")
	report, err := pusher.Push(context.Background(), "ssh://git@gitlab.example.com/group/api.git", "ssh://git@bitbucket.example.com/proj/pre.api.git", dir)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, []string{"feature/login", "hotfix", "hotfix"}, deleted)
	assert.Equal(t, deleted, report.DeletedBranches)
	assert.DirExists(t, dir)

	cmds := sh.commands()
	require.GreaterOrEqual(t, len(cmds), 7)
	assert.Equal(t, "--no-pager clone --progress --mirror ssh://git@gitlab.example.com/group/api.git "+dir, cmds[0])
	assert.Equal(t, "remote rm origin", cmds[1])
	assert.Equal(t, "remote add origin ssh://git@bitbucket.example.com/proj/pre.api.git", cmds[2])
	assert.Equal(t, "push origin --tags", cmds[6])

	for _, c := range sh.calls {
		assert.Contains(t, c.Env, "GIT_TERMINAL_PROMPT=0")
	}
}

func TestPusherStopsAtAttemptCap(t *testing.T) {
	script := &gitScript{pushOutputs: []string{rejectedPushOutput}}
	pusher := NewPusher(&fakeShell{handler: script.handle}, func(context.Context, string) error { return nil }, nil)
	pusher.MaxAttempts = 2

	report, err := pusher.Push(context.Background(), "src", "dst", filepath.Join(t.TempDir(), "repo"))
	require.ErrorIs(t, err, ErrPushAttemptsExhausted)
	assert.Equal(t, 2, report.Attempts)
	assert.Equal(t, 2, script.pushes)
}

func TestPusherDeleteFailureIsNotFatal(t *testing.T) {
	script := &gitScript{pushOutputs: []string{rejectedPushOutput, ""}}
	pusher := NewPusher(&fakeShell{handler: script.handle}, func(context.Context, string) error {
		return errors.New("409 conflict")
	}, nil)

	report, err := pusher.Push(context.Background(), "src", "dst", filepath.Join(t.TempDir(), "repo"))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempts)
	assert.Empty(t, report.DeletedBranches)
}

func TestPusherFatalGitFailures(t *testing.T) {
	t.Run("clone", func(t *testing.T) {
		sh := &fakeShell{handler: (&gitScript{cloneExit: 128}).handle}
		_, err := NewPusher(sh, nil, nil).Push(context.Background(), "src", "dst", filepath.Join(t.TempDir(), "repo"))
		require.Error(t, err)
		assert.Len(t, sh.commands(), 1)
	})

	t.Run("remote add", func(t *testing.T) {
		sh := &fakeShell{handler: (&gitScript{remoteAddExit: 3}).handle}
		_, err := NewPusher(sh, nil, nil).Push(context.Background(), "src", "dst", filepath.Join(t.TempDir(), "repo"))
		require.Error(t, err)
		assert.Len(t, sh.commands(), 3)
	})
}

func TestPusherReportsBranchesMissingOnDestination(t *testing.T) {
	script := &gitScript{
		lsRemote: "4b825dc642cb6eb9a060e54bf8d69288fbee4904\trefs/heads/main\n",
		onClone: func(dir string) {
			initBareRepo(t, dir, "main", "develop")
		},
	}
	pusher := NewPusher(&fakeShell{handler: script.handle}, nil, nil)

	report, err := pusher.Push(context.Background(), "src", "dst", filepath.Join(t.TempDir(), "repo"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, []string{"develop"}, report.Unverified)
}

func TestLocalBranches(t *testing.T) {
	dir := t.TempDir()
	initBareRepo(t, dir, "main", "feature/x", "develop")

	branches, err := LocalBranches(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"develop", "feature/x", "main"}, branches)

	_, err = LocalBranches(t.TempDir())
	assert.Error(t, err)
}

func TestParseLsRemoteHeads(t *testing.T) {
	heads := parseLsRemoteHeads("abc\trefs/heads/main\nabc\trefs/heads/feature/a\nabc\trefs/tags/v1\n\n")
	assert.Len(t, heads, 2)
	assert.Contains(t, heads, "main")
	assert.Contains(t, heads, "feature/a")
}
