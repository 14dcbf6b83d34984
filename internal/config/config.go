// Package config loads the migration configuration file and resolves it into migration specs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
)

const (
	DefaultConfigFile = "migration_config.yaml"
	DefaultEnvFile    = ".env"
)

type Config struct {
	User               string          `mapstructure:"user"`
	Gitlab             GitlabConfig    `mapstructure:"gitlab"`
	Bitbucket          BitbucketConfig `mapstructure:"bitbucket"`
	Jenkins            JenkinsConfig   `mapstructure:"jenkins"`
	LocalRoot          string          `mapstructure:"local_root"`
	InsecureSkipVerify bool            `mapstructure:"insecure_skip_verify"`
	MaxPushAttempts    int             `mapstructure:"max_push_attempts"`
	Parallelism        int             `mapstructure:"parallelism"`
	Webhook            WebhookConfig   `mapstructure:"webhook"`
	Defaults           Toggles         `mapstructure:"defaults"`
	Repos              []RepoConfig    `mapstructure:"repos"`
}

type GitlabConfig struct {
	URL    string `mapstructure:"url"`
	SSHURL string `mapstructure:"ssh_url"`
	User   string `mapstructure:"user"`
	Token  string `mapstructure:"token"`
}

type BitbucketConfig struct {
	URL   string `mapstructure:"url"`
	User  string `mapstructure:"user"`
	Token string `mapstructure:"token"`
}

type JenkinsConfig struct {
	URL           string `mapstructure:"url"`
	User          string `mapstructure:"user"`
	Token         string `mapstructure:"token"`
	BackupPath    string `mapstructure:"backup_path"`
	FolderPattern string `mapstructure:"folder_pattern"`
	JobNameAddon  string `mapstructure:"job_name_addon"`
	RepoURLType   string `mapstructure:"repo_url_type"`
}

type WebhookConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// Toggles are the default step switches applied to every repository.
type Toggles struct {
	Clone             bool `mapstructure:"clone"`
	DeleteDestination bool `mapstructure:"delete_destination"`
	Mirror            bool `mapstructure:"mirror"`
	ArchiveSource     bool `mapstructure:"archive_source"`
	DuplicateReviews  bool `mapstructure:"duplicate_reviews"`
	PatchCIJobs       bool `mapstructure:"patch_ci_jobs"`
	BackupCIJobs      bool `mapstructure:"backup_ci_jobs"`
	ClearLocal        bool `mapstructure:"clear_local"`
}

// RepoConfig is one entry of the repos list. Unset toggles fall back to Config.Defaults.
type RepoConfig struct {
	GitlabGroup      string `mapstructure:"gitlab_group"`
	GitlabProject    string `mapstructure:"gitlab_project"`
	BitbucketProject string `mapstructure:"bitbucket_project"`
	BitbucketPrefix  string `mapstructure:"bitbucket_prefix"`

	Clone             *bool `mapstructure:"clone"`
	DeleteDestination *bool `mapstructure:"delete_destination"`
	Mirror            *bool `mapstructure:"mirror"`
	ArchiveSource     *bool `mapstructure:"archive_source"`
	DuplicateReviews  *bool `mapstructure:"duplicate_reviews"`
	PatchCIJobs       *bool `mapstructure:"patch_ci_jobs"`
	BackupCIJobs      *bool `mapstructure:"backup_ci_jobs"`
	ClearLocal        *bool `mapstructure:"clear_local"`

	WebhookName         string `mapstructure:"webhook_name"`
	WebhookURL          string `mapstructure:"webhook_url"`
	WebhookURLParameter string `mapstructure:"webhook_url_parameter"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jenkins.folder_pattern", "backend")
	v.SetDefault("jenkins.job_name_addon", "_")
	v.SetDefault("jenkins.repo_url_type", "ssh")
	v.SetDefault("parallelism", 1)
	v.SetDefault("max_push_attempts", 0)

	v.SetDefault("defaults.clone", false)
	v.SetDefault("defaults.delete_destination", false)
	v.SetDefault("defaults.mirror", false)
	v.SetDefault("defaults.archive_source", false)
	v.SetDefault("defaults.duplicate_reviews", false)
	v.SetDefault("defaults.patch_ci_jobs", false)
	v.SetDefault("defaults.backup_ci_jobs", true)
	v.SetDefault("defaults.clear_local", true)
}

// LoadEnvFile loads variables from a dotenv file without overriding the environment. A missing
// file is only an error when required is set.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration file at path. Tokens come from GITLAB_TOKEN, BITBUCKET_TOKEN
// and JENKINS_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	_ = v.BindEnv("gitlab.token", "GITLAB_TOKEN")
	_ = v.BindEnv("bitbucket.token", "BITBUCKET_TOKEN")
	_ = v.BindEnv("jenkins.token", "JENKINS_TOKEN")

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Gitlab.URL = baseURL(c.Gitlab.URL)
	c.Bitbucket.URL = baseURL(c.Bitbucket.URL)
	c.Jenkins.URL = baseURL(c.Jenkins.URL)

	if c.Gitlab.SSHURL != "" {
		if !strings.HasPrefix(c.Gitlab.SSHURL, "ssh://") {
			c.Gitlab.SSHURL = "ssh://" + c.Gitlab.SSHURL
		}
		if !strings.HasSuffix(c.Gitlab.SSHURL, "/") {
			c.Gitlab.SSHURL += "/"
		}
	}

	if c.Gitlab.User == "" {
		c.Gitlab.User = c.User
	}
	if c.Bitbucket.User == "" {
		c.Bitbucket.User = c.User
	}
	if c.Jenkins.User == "" {
		c.Jenkins.User = c.User
	}

	c.LocalRoot = expandHome(c.LocalRoot)
	c.Jenkins.BackupPath = expandHome(c.Jenkins.BackupPath)
	c.Jenkins.RepoURLType = strings.ToLower(c.Jenkins.RepoURLType)
}

func baseURL(u string) string {
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http") {
		u = "https://" + u
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Gitlab.URL == "" {
		errs = append(errs, errors.New("gitlab.url is required"))
	}
	if c.Gitlab.SSHURL == "" {
		errs = append(errs, errors.New("gitlab.ssh_url is required"))
	}
	if c.Gitlab.Token == "" {
		errs = append(errs, errors.New("GITLAB_TOKEN is not set"))
	}
	if c.Bitbucket.URL == "" {
		errs = append(errs, errors.New("bitbucket.url is required"))
	}
	if c.Bitbucket.User == "" {
		errs = append(errs, errors.New("bitbucket.user (or user) is required"))
	}
	if c.Bitbucket.Token == "" {
		errs = append(errs, errors.New("BITBUCKET_TOKEN is not set"))
	}
	if c.LocalRoot == "" {
		errs = append(errs, errors.New("local_root is required"))
	}
	switch c.Jenkins.RepoURLType {
	case "ssh", "http":
	default:
		errs = append(errs, fmt.Errorf("jenkins.repo_url_type must be ssh or http, got %q", c.Jenkins.RepoURLType))
	}
	if c.MaxPushAttempts < 0 {
		errs = append(errs, errors.New("max_push_attempts must not be negative"))
	}
	if c.Parallelism < 1 {
		errs = append(errs, errors.New("parallelism must be at least 1"))
	}

	if len(c.Repos) == 0 {
		errs = append(errs, errors.New("repos must list at least one repository"))
	}
	for i, r := range c.Repos {
		if r.GitlabGroup == "" {
			errs = append(errs, fmt.Errorf("repos[%d]: gitlab_group is required", i))
		}
		if r.BitbucketProject == "" {
			errs = append(errs, fmt.Errorf("repos[%d]: bitbucket_project is required", i))
		}
		if r.BitbucketPrefix == "" {
			errs = append(errs, fmt.Errorf("repos[%d]: bitbucket_prefix is required", i))
		}
		if resolve(r.PatchCIJobs, c.Defaults.PatchCIJobs) && c.Jenkins.URL == "" {
			errs = append(errs, fmt.Errorf("repos[%d]: patch_ci_jobs needs jenkins.url", i))
		}
	}

	return errors.Join(errs...)
}

// NeedsJenkins reports whether any repository patches CI jobs.
func (c *Config) NeedsJenkins() bool {
	for _, r := range c.Repos {
		if resolve(r.PatchCIJobs, c.Defaults.PatchCIJobs) {
			return true
		}
	}
	return false
}

// Specs resolves every repos entry against the defaults.
func (c *Config) Specs() []migrate.Spec {
	specs := make([]migrate.Spec, 0, len(c.Repos))
	for _, r := range c.Repos {
		spec := migrate.Spec{
			GitlabGroup:      r.GitlabGroup,
			GitlabProject:    r.GitlabProject,
			BitbucketProject: r.BitbucketProject,
			BitbucketPrefix:  r.BitbucketPrefix,

			Clone:             resolve(r.Clone, c.Defaults.Clone),
			DeleteDestination: resolve(r.DeleteDestination, c.Defaults.DeleteDestination),
			Mirror:            resolve(r.Mirror, c.Defaults.Mirror),
			ArchiveSource:     resolve(r.ArchiveSource, c.Defaults.ArchiveSource),
			DuplicateReviews:  resolve(r.DuplicateReviews, c.Defaults.DuplicateReviews),
			PatchCIJobs:       resolve(r.PatchCIJobs, c.Defaults.PatchCIJobs),
			BackupCIJobs:      resolve(r.BackupCIJobs, c.Defaults.BackupCIJobs),
			ClearLocal:        resolve(r.ClearLocal, c.Defaults.ClearLocal),

			WebhookName: r.WebhookName,
			WebhookURL:  r.WebhookURL,
		}
		if spec.WebhookName == "" {
			spec.WebhookName = c.Webhook.Name
		}
		if spec.WebhookURL == "" {
			spec.WebhookURL = c.Webhook.URL
		}
		if spec.WebhookURL != "" {
			spec.WebhookURL += r.WebhookURLParameter
		}
		specs = append(specs, spec)
	}
	return specs
}

// Settings returns the process-wide migration settings.
func (c *Config) Settings() migrate.Settings {
	settings := migrate.Settings{
		LocalRoot:        c.LocalRoot,
		GitlabSSHURL:     c.Gitlab.SSHURL,
		BitbucketUser:    c.Bitbucket.User,
		BitbucketToken:   c.Bitbucket.Token,
		MaxPushAttempts:  c.MaxPushAttempts,
		JobFolderPattern: c.Jenkins.FolderPattern,
		JobNameAddon:     c.Jenkins.JobNameAddon,
		JobRepoURLType:   c.Jenkins.RepoURLType,
	}
	if c.Jenkins.BackupPath != "" {
		settings.JobBackups = osfs.New(c.Jenkins.BackupPath)
	}
	return settings
}

func resolve(override *bool, def bool) bool {
	if override != nil {
		return *override
	}
	return def
}
