package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
user: migrator
gitlab: {url: gitlab.example.com, ssh_url: git@gitlab.example.com}
bitbucket: {url: bitbucket.example.com}
local_root: /tmp/migration
repos:
  - {gitlab_group: team/platform, bitbucket_project: PLAT, bitbucket_prefix: plat}
`

func runRoot(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestValidateCommand(t *testing.T) {
	t.Setenv("GITLAB_TOKEN", "gl")
	t.Setenv("BITBUCKET_TOKEN", "bb")
	path := filepath.Join(t.TempDir(), "migration_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	assert.NoError(t, runRoot(t, "validate", "--config", path, "--log-level", "off"))
}

func TestValidateCommandRejectsBadConfig(t *testing.T) {
	t.Setenv("GITLAB_TOKEN", "")
	t.Setenv("BITBUCKET_TOKEN", "")
	path := filepath.Join(t.TempDir(), "migration_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repos: []\n"), 0o600))

	err := runRoot(t, "validate", "--config", path, "--log-level", "off")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestExplicitEnvFileMustExist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migration_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	err := runRoot(t, "validate", "--config", path, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "--log-level", "off")
	assert.Error(t, err)
}

func TestNewLoggerLevel(t *testing.T) {
	t.Setenv(logLevelEnv, "DEBUG")
	assert.Equal(t, hclog.Debug, newLogger("").GetLevel())
	assert.Equal(t, hclog.Warn, newLogger("warn").GetLevel())

	t.Setenv(logLevelEnv, "")
	assert.Equal(t, hclog.Info, newLogger("").GetLevel())
}
