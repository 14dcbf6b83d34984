package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"

	"github.com/manicminer/gitlab2bitbucket/internal/shell"
)

// ErrPushAttemptsExhausted is returned when branch rejections persist past the configured cap.
var ErrPushAttemptsExhausted = errors.New("push attempts exhausted")

const (
	rejectedMarker = "[rejected]"
	refArrow       = "->"
)

// RejectedRef is one "[rejected]" line of git push output.
type RejectedRef struct {
	Source      string
	Destination string
	Reason      string
}

// ParseRejectedBranches extracts rejected refs from the combined output of `git push`.
// A rejection line looks like:
//
//	! [rejected]        feature -> feature (fetch first)
func ParseRejectedBranches(output string) []RejectedRef {
	lines := strings.FieldsFunc(output, func(r rune) bool { return r == '\n' || r == '\r' })

	var refs []RejectedRef
	for _, line := range lines {
		idx := strings.Index(line, rejectedMarker)
		if idx < 0 {
			continue
		}

		fields := strings.Fields(line[idx+len(rejectedMarker):])
		arrow := -1
		for i, f := range fields {
			if f == refArrow {
				arrow = i
				break
			}
		}
		if arrow < 1 || arrow+1 >= len(fields) {
			continue
		}

		ref := RejectedRef{
			Source:      fields[arrow-1],
			Destination: fields[arrow+1],
		}
		if rest := strings.TrimSpace(strings.Join(fields[arrow+2:], " ")); rest != "" {
			ref.Reason = strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")")
		}
		refs = append(refs, ref)
	}

	return refs
}

// BranchDeleter removes a branch on the destination.
type BranchDeleter func(ctx context.Context, branch string) error

// Pusher mirror-clones a source repository and pushes every branch and tag to a destination,
// deleting rejected branches on the destination and retrying until a push is clean.
type Pusher struct {
	runner       shell.Runner
	deleteBranch BranchDeleter
	logger       hclog.Logger

	// MaxAttempts caps branch push attempts; zero means no cap.
	MaxAttempts int
}

func NewPusher(runner shell.Runner, deleteBranch BranchDeleter, logger hclog.Logger) *Pusher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Pusher{runner: runner, deleteBranch: deleteBranch, logger: logger}
}

// PushReport summarises a completed push.
type PushReport struct {
	Attempts        int
	DeletedBranches []string
	Unverified      []string
}

// Push runs the clone, push and retry sequence in dir, which is emptied first.
func (p *Pusher) Push(ctx context.Context, sourceURL, destinationURL, dir string) (*PushReport, error) {
	report := &PushReport{}

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("removing local directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating local directory %s: %w", dir, err)
	}

	p.logger.Debug("cloning repository", "url", sourceURL, "dir", dir)
	if _, err := p.mustGit(ctx, "", "--no-pager", "clone", "--progress", "--mirror", sourceURL, dir); err != nil {
		return nil, fmt.Errorf("cloning source repo: %w", err)
	}

	if res, err := p.git(ctx, dir, "remote", "rm", "origin"); err != nil {
		return nil, err
	} else if !res.Success() {
		p.logger.Warn("removing origin remote failed", "exit_code", res.ExitCode, "output", res.Output)
	}

	p.logger.Info("adding new remote", "url", destinationURL)
	if _, err := p.mustGit(ctx, dir, "remote", "add", "origin", destinationURL); err != nil {
		return nil, fmt.Errorf("adding destination remote: %w", err)
	}

	p.logger.Info("pushing branches")
	for {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("pushing branches: %w", err)
		}
		if p.MaxAttempts > 0 && report.Attempts >= p.MaxAttempts {
			return report, fmt.Errorf("%w: branches still rejected after %d attempts", ErrPushAttemptsExhausted, report.Attempts)
		}
		report.Attempts++

		res, err := p.git(ctx, dir, "push", "origin", "--all")
		if err != nil {
			return report, err
		}

		rejected := ParseRejectedBranches(res.Output)
		if len(rejected) == 0 {
			if !res.Success() {
				p.logger.Warn("branch push reported failure without rejected branches", "attempt", report.Attempts, "exit_code", res.ExitCode, "output", res.Output)
			}
			break
		}

		p.logger.Debug("branches rejected by destination", "attempt", report.Attempts, "count", len(rejected))
		for _, ref := range rejected {
			if err := p.deleteBranch(ctx, ref.Destination); err != nil {
				p.logger.Warn("deleting rejected branch failed", "branch", ref.Destination, "reason", ref.Reason, "error", err)
				continue
			}
			p.logger.Debug("deleted rejected branch", "branch", ref.Destination, "reason", ref.Reason)
			report.DeletedBranches = append(report.DeletedBranches, ref.Destination)
		}
	}

	p.logger.Info("pushing tags")
	if res, err := p.git(ctx, dir, "push", "origin", "--tags"); err != nil {
		return report, err
	} else if !res.Success() {
		p.logger.Warn("tag push failed", "exit_code", res.ExitCode, "output", res.Output)
	}

	report.Unverified = p.verify(ctx, dir)

	return report, nil
}

// verify compares the local mirror's branches with the destination heads and returns the
// local branches missing on the destination. Failures here are only logged.
func (p *Pusher) verify(ctx context.Context, dir string) []string {
	local, err := LocalBranches(dir)
	if err != nil {
		p.logger.Warn("reading local branches failed, skipping verification", "error", err)
		return nil
	}

	res, err := p.git(ctx, dir, "ls-remote", "--heads", "origin")
	if err != nil || !res.Success() {
		p.logger.Warn("listing destination branches failed, skipping verification", "error", err, "output", res.Output)
		return nil
	}
	remote := parseLsRemoteHeads(res.Output)

	var missing []string
	for _, b := range local {
		if _, ok := remote[b]; !ok {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		p.logger.Warn("branches missing on destination after push", "branches", missing)
	} else {
		p.logger.Debug("destination has all branches", "count", len(local))
	}
	return missing
}

func (p *Pusher) git(ctx context.Context, dir string, args ...string) (shell.Result, error) {
	res, err := p.runner.Run(ctx, shell.Command{
		Name: "git",
		Args: args,
		Dir:  dir,
		Env:  []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		return res, fmt.Errorf("running git %s: %w", strings.Join(args, " "), err)
	}
	return res, nil
}

func (p *Pusher) mustGit(ctx context.Context, dir string, args ...string) (shell.Result, error) {
	res, err := p.git(ctx, dir, args...)
	if err != nil {
		return res, err
	}
	if !res.Success() {
		p.logger.Error("git command failed", "args", strings.Join(args, " "), "exit_code", res.ExitCode, "output", res.Output)
		return res, fmt.Errorf("git %s exited with code %d", strings.Join(args, " "), res.ExitCode)
	}
	return res, nil
}

// LocalBranches lists branch names in the (bare) repository at dir.
func LocalBranches(dir string) ([]string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	branches, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("retrieving branches: %w", err)
	}

	var names []string
	if err = branches.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	}); err != nil {
		return nil, fmt.Errorf("parsing branches: %w", err)
	}
	sort.Strings(names)

	return names, nil
}

func parseLsRemoteHeads(output string) map[string]struct{} {
	heads := make(map[string]struct{})
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if name, ok := strings.CutPrefix(fields[1], "refs/heads/"); ok {
			heads[name] = struct{}{}
		}
	}
	return heads
}
