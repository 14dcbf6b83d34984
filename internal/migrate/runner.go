package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/manicminer/gitlab2bitbucket/internal/shell"
)

// Runner migrates every project selected by a list of specs.
type Runner struct {
	Source   Source
	Dest     Destination
	CI       CI
	Shell    shell.Runner
	Settings Settings
	Logger   hclog.Logger

	// Parallelism is the number of repositories migrated at once; values below 1 mean 1.
	Parallelism int
}

type job struct {
	spec    Spec
	project Project
}

// Run resolves each spec to its source projects and migrates them. The first fatal error stops
// the run: repositories not yet started are skipped and running ones abort at their next step.
// Results are returned for every repository that was started.
func (r *Runner) Run(ctx context.Context, specs []Spec) ([]Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	start := time.Now()

	var jobs []job
	for _, spec := range specs {
		projects, err := r.Source.ListGroupProjects(ctx, spec.GitlabGroup, spec.GitlabProject)
		if err != nil {
			return nil, fmt.Errorf("listing projects for %s: %w", spec.GitlabGroup, err)
		}
		if len(projects) == 0 {
			logger.Warn("no projects found", "group", spec.GitlabGroup, "project", spec.GitlabProject)
		}
		for _, p := range projects {
			jobs = append(jobs, job{spec: spec, project: p})
		}
	}
	logger.Info("processing repositories", "count", len(jobs))

	parallelism := r.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]*Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			m := NewMigrator(j.spec, j.project, r.Settings, r.Source, r.Dest, r.CI, r.Shell, logger.Named("migrate"))
			res, err := m.Run(gctx)
			results[i] = &res
			if err != nil {
				return fmt.Errorf("%s: %w", res.Project, err)
			}
			return nil
		})
	}
	err := g.Wait()

	var done []Result
	completed := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.State == StateCompleted {
			completed++
		}
		done = append(done, *res)
	}
	logger.Info("migration finished", "repositories", len(jobs), "started", len(done), "completed", completed, "duration", time.Since(start).Round(time.Second))

	return done, err
}
