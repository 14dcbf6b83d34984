package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
)

const sampleConfig = `
user: migrator
gitlab:
  url: gitlab.example.com
  ssh_url: git@gitlab.example.com
bitbucket:
  url: https://bitbucket.example.com
  user: svc-bitbucket
jenkins:
  url: jenkins.example.com/
  backup_path: ~/jenkins-backups
local_root: /tmp/migration
max_push_attempts: 20
webhook:
  name: jenkins
  url: https://jenkins.example.com/bitbucket-hook/
defaults:
  clone: true
  duplicate_reviews: true
repos:
  - gitlab_group: team/platform
    bitbucket_project: PLAT
    bitbucket_prefix: plat
    webhook_url_parameter: "?job=api"
  - gitlab_group: team/tools
    gitlab_project: cli
    bitbucket_project: TOOLS
    bitbucket_prefix: tools
    clone: false
    clear_local: false
    patch_ci_jobs: true
    webhook_name: custom
    webhook_url: https://hooks.example.com/
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migration_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func setTokens(t *testing.T) {
	t.Setenv("GITLAB_TOKEN", "gl-token")
	t.Setenv("BITBUCKET_TOKEN", "bb-token")
	t.Setenv("JENKINS_TOKEN", "jk-token")
}

func TestLoad(t *testing.T) {
	setTokens(t)
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://gitlab.example.com/", cfg.Gitlab.URL)
	assert.Equal(t, "ssh://git@gitlab.example.com/", cfg.Gitlab.SSHURL)
	assert.Equal(t, "https://bitbucket.example.com/", cfg.Bitbucket.URL)
	assert.Equal(t, "https://jenkins.example.com/", cfg.Jenkins.URL)

	assert.Equal(t, "migrator", cfg.Gitlab.User)
	assert.Equal(t, "svc-bitbucket", cfg.Bitbucket.User)
	assert.Equal(t, "migrator", cfg.Jenkins.User)

	assert.Equal(t, "gl-token", cfg.Gitlab.Token)
	assert.Equal(t, "bb-token", cfg.Bitbucket.Token)
	assert.Equal(t, "jk-token", cfg.Jenkins.Token)

	assert.Equal(t, filepath.Join(home, "jenkins-backups"), cfg.Jenkins.BackupPath)
	assert.Equal(t, "backend", cfg.Jenkins.FolderPattern)
	assert.Equal(t, "_", cfg.Jenkins.JobNameAddon)
	assert.Equal(t, "ssh", cfg.Jenkins.RepoURLType)
	assert.Equal(t, 1, cfg.Parallelism)
	assert.Equal(t, 20, cfg.MaxPushAttempts)

	assert.True(t, cfg.Defaults.BackupCIJobs)
	assert.True(t, cfg.Defaults.ClearLocal)
	assert.False(t, cfg.Defaults.Mirror)
	assert.True(t, cfg.NeedsJenkins())
}

func TestSpecs(t *testing.T) {
	setTokens(t)
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	specs := cfg.Specs()
	require.Len(t, specs, 2)

	assert.Equal(t, migrate.Spec{
		GitlabGroup:      "team/platform",
		BitbucketProject: "PLAT",
		BitbucketPrefix:  "plat",
		Clone:            true,
		DuplicateReviews: true,
		BackupCIJobs:     true,
		ClearLocal:       true,
		WebhookName:      "jenkins",
		WebhookURL:       "https://jenkins.example.com/bitbucket-hook/?job=api",
	}, specs[0])

	assert.Equal(t, migrate.Spec{
		GitlabGroup:      "team/tools",
		GitlabProject:    "cli",
		BitbucketProject: "TOOLS",
		BitbucketPrefix:  "tools",
		DuplicateReviews: true,
		PatchCIJobs:      true,
		BackupCIJobs:     true,
		WebhookName:      "custom",
		WebhookURL:       "https://hooks.example.com/",
	}, specs[1])
}

func TestSpecsWithoutWebhook(t *testing.T) {
	setTokens(t)
	cfg, err := Load(writeConfig(t, `
gitlab: {url: gitlab.example.com, ssh_url: git@gitlab.example.com}
bitbucket: {url: bitbucket.example.com, user: svc}
local_root: /tmp/m
repos:
  - {gitlab_group: g, bitbucket_project: P, bitbucket_prefix: p, webhook_url_parameter: "?x=1"}
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	spec := cfg.Specs()[0]
	assert.False(t, spec.WebhookEnabled())
	assert.Empty(t, spec.WebhookURL)
}

func TestSettings(t *testing.T) {
	setTokens(t)
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	backups := t.TempDir()
	cfg.Jenkins.BackupPath = backups
	settings := cfg.Settings()

	assert.Equal(t, "/tmp/migration", settings.LocalRoot)
	assert.Equal(t, "ssh://git@gitlab.example.com/", settings.GitlabSSHURL)
	assert.Equal(t, "svc-bitbucket", settings.BitbucketUser)
	assert.Equal(t, "bb-token", settings.BitbucketToken)
	assert.Equal(t, 20, settings.MaxPushAttempts)
	require.NotNil(t, settings.JobBackups)
	assert.Equal(t, backups, settings.JobBackups.Root())

	cfg.Jenkins.BackupPath = ""
	assert.Nil(t, cfg.Settings().JobBackups)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Setenv("GITLAB_TOKEN", "")
	t.Setenv("BITBUCKET_TOKEN", "")
	cfg, err := Load(writeConfig(t, `
jenkins:
  repo_url_type: ftp
parallelism: 0
repos:
  - gitlab_group: g
    patch_ci_jobs: true
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, msg := range []string{
		"gitlab.url is required",
		"gitlab.ssh_url is required",
		"GITLAB_TOKEN is not set",
		"bitbucket.url is required",
		"BITBUCKET_TOKEN is not set",
		"local_root is required",
		`jenkins.repo_url_type must be ssh or http, got "ftp"`,
		"parallelism must be at least 1",
		"repos[0]: bitbucket_project is required",
		"repos[0]: bitbucket_prefix is required",
		"repos[0]: patch_ci_jobs needs jenkins.url",
	} {
		assert.Contains(t, err.Error(), msg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("BITBUCKET_TOKEN", "")
	require.NoError(t, os.Unsetenv("BITBUCKET_TOKEN"))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BITBUCKET_TOKEN=from-dotenv\n"), 0o600))

	require.NoError(t, LoadEnvFile(path, true))
	assert.Equal(t, "from-dotenv", os.Getenv("BITBUCKET_TOKEN"))

	missing := filepath.Join(t.TempDir(), ".env")
	assert.NoError(t, LoadEnvFile(missing, false))
	assert.Error(t, LoadEnvFile(missing, true))
}
