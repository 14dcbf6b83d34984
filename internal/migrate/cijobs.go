package migrate

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/beevik/etree"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/go-hclog"
)

// ErrBackupPathNotSet is returned when job backups are enabled without a backup location.
var ErrBackupPathNotSet = errors.New("folder for Jenkins job backups not set")

const (
	stringParameterTag = "hudson.model.StringParameterDefinition"
	repoURLParameter   = "PROJECT_GIT"

	// Jobs are listed one folder deep: "<folder>/<job>".
	jobFolderDepth = 1
)

// JobPatcherOptions selects and backs up jobs.
type JobPatcherOptions struct {
	// FolderPattern must occur (case-insensitively) in the job's full name.
	FolderPattern string
	// NameAddon follows the repository name in the job's short name, e.g. "_".
	NameAddon string
	// Backups receives a copy of each job config before it is changed; nil when unset.
	Backups billy.Filesystem
	// Backup enables writing backups.
	Backup bool
}

// JobPatcher repoints Jenkins jobs of a repository at its new clone URL.
type JobPatcher struct {
	ci     CI
	opts   JobPatcherOptions
	logger hclog.Logger
}

func NewJobPatcher(ci CI, opts JobPatcherOptions, logger hclog.Logger) *JobPatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &JobPatcher{ci: ci, opts: opts, logger: logger}
}

// MatchJob reports whether the job belongs to repoName: its full name contains the folder
// pattern and its short name starts with repoName followed by the addon.
func MatchJob(job CIJob, folderPattern, repoName, addon string) bool {
	inFolder := strings.Contains(strings.ToLower(job.FullName), strings.ToLower(folderPattern))
	named := strings.HasPrefix(strings.ToLower(job.Name), strings.ToLower(repoName+addon))
	return inFolder && named
}

// BackupPath is where a job's config is saved, relative to the backup root.
func BackupPath(job CIJob) string {
	folder, _, _ := strings.Cut(job.FullName, "/")
	return path.Join(folder, job.Name+"_config.xml")
}

// Patch rewrites every job of repoName to use newURL and returns the number of jobs pushed
// back to Jenkins.
func (p *JobPatcher) Patch(ctx context.Context, repoName, newURL string) (int, error) {
	if p.opts.Backup && p.opts.Backups == nil {
		return 0, ErrBackupPathNotSet
	}

	jobs, err := p.ci.ListJobs(ctx, jobFolderDepth)
	if err != nil {
		return 0, fmt.Errorf("listing jenkins jobs: %w", err)
	}

	patched := 0
	for _, job := range jobs {
		if !MatchJob(job, p.opts.FolderPattern, repoName, p.opts.NameAddon) {
			continue
		}

		config, err := p.ci.GetJobConfig(ctx, job.FullName)
		if err != nil {
			return patched, fmt.Errorf("retrieving config of job %s: %w", job.FullName, err)
		}

		if p.opts.Backup {
			if err = p.backup(job, config); err != nil {
				return patched, err
			}
		}

		updated, changed, err := PatchJobConfig(config, newURL)
		if err != nil {
			return patched, fmt.Errorf("patching config of job %s: %w", job.FullName, err)
		}
		if !changed {
			p.logger.Debug("job has no repository parameter, leaving untouched", "job", job.FullName)
			continue
		}

		p.logger.Info("reconfiguring job", "job", job.FullName, "url", newURL)
		if err = p.ci.ReconfigJob(ctx, job.FullName, updated); err != nil {
			return patched, fmt.Errorf("reconfiguring job %s: %w", job.FullName, err)
		}
		patched++
	}

	return patched, nil
}

func (p *JobPatcher) backup(job CIJob, config string) error {
	target := BackupPath(job)
	p.logger.Info("backing up job", "job", job.FullName, "path", target)

	if err := p.opts.Backups.MkdirAll(path.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating backup folder for job %s: %w", job.FullName, err)
	}
	if err := util.WriteFile(p.opts.Backups, target, []byte(config), 0o644); err != nil {
		return fmt.Errorf("writing backup of job %s: %w", job.FullName, err)
	}
	return nil
}

// PatchJobConfig sets every PROJECT_GIT string parameter of a Jenkins job config to newURL and
// records the previous URL in its description. It reports whether anything changed; the XML
// declaration of the input is preserved as-is.
func PatchJobConfig(config, newURL string) (string, bool, error) {
	declaration, body := splitDeclaration(config)

	doc := etree.NewDocument()
	if err := doc.ReadFromString(body); err != nil {
		return "", false, fmt.Errorf("parsing job config: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", false, errors.New("parsing job config: no root element")
	}

	changed := false
	for _, param := range findElements(root, stringParameterTag) {
		name := param.SelectElement("name")
		if name == nil || strings.TrimSpace(name.Text()) != repoURLParameter {
			continue
		}

		defaultValue := childOrCreate(param, "defaultValue")
		description := childOrCreate(param, "description")

		oldURL := defaultValue.Text()
		description.SetText(fmt.Sprintf("%s --- %s", newURL, oldURL))
		defaultValue.SetText(newURL)
		changed = true
	}

	if !changed {
		return config, false, nil
	}

	out, err := doc.WriteToString()
	if err != nil {
		return "", false, fmt.Errorf("rendering job config: %w", err)
	}
	if declaration != "" {
		out = declaration + "\n" + strings.TrimLeft(out, "\r\n")
	}
	return out, true, nil
}

// splitDeclaration separates the XML declaration, since Jenkins writes version 1.1 which
// encoding/xml refuses to parse.
func splitDeclaration(doc string) (string, string) {
	trimmed := strings.TrimLeft(strings.TrimPrefix(doc, "\xef\xbb\xbf"), " \t\r\n")
	if !strings.HasPrefix(trimmed, "<?xml") {
		return "", doc
	}
	end := strings.Index(trimmed, "?>")
	if end < 0 {
		return "", doc
	}
	return trimmed[:end+2], trimmed[end+2:]
}

func findElements(el *etree.Element, tag string) []*etree.Element {
	var found []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			found = append(found, child)
		}
		found = append(found, findElements(child, tag)...)
	}
	return found
}

func childOrCreate(el *etree.Element, tag string) *etree.Element {
	if child := el.SelectElement(tag); child != nil {
		return child
	}
	return el.CreateElement(tag)
}
