package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/manicminer/gitlab2bitbucket/internal/bitbucket"
	"github.com/manicminer/gitlab2bitbucket/internal/config"
	"github.com/manicminer/gitlab2bitbucket/internal/gitlab"
	"github.com/manicminer/gitlab2bitbucket/internal/jenkins"
	"github.com/manicminer/gitlab2bitbucket/internal/migrate"
	"github.com/manicminer/gitlab2bitbucket/internal/shell"
	"github.com/manicminer/gitlab2bitbucket/internal/transport"
)

const (
	appName     = "gitlab2bitbucket"
	logLevelEnv = "GIT_MIGRATION_LOG_LEVEL"
)

type globalFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Migrate GitLab repositories to Bitbucket Server",
		Long: `Copies GitLab projects into Bitbucket Server repositories, including branches, tags,
open merge requests with their discussions and labels. Optionally archives the source,
sets up a push mirror, re-points Jenkins jobs at the new repository and registers a webhook.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", config.DefaultConfigFile, "path to the migration config file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", config.DefaultEnvFile, "dotenv file holding the API tokens")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); defaults to $"+logLevelEnv+" or info")

	cmd.AddCommand(newMigrateCommand(flags), newValidateCommand(flags))
	return cmd
}

func newLogger(level string) hclog.Logger {
	if level == "" {
		level = os.Getenv(logLevelEnv)
	}
	if level == "" {
		level = "info"
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  appName,
		Level: hclog.LevelFromString(strings.ToLower(level)),
	})
}

// loadConfig reads the env file and config file, logging any problem before returning it.
func loadConfig(cmd *cobra.Command, flags *globalFlags, logger hclog.Logger) (*config.Config, error) {
	envRequired := cmd.Flags().Changed("env-file")
	if err := config.LoadEnvFile(flags.envFile, envRequired); err != nil {
		logger.Error("could not load env file", "path", flags.envFile, "error", err)
		return nil, err
	}

	cfg, err := config.Load(flags.configFile)
	if err != nil {
		logger.Error("could not load config", "path", flags.configFile, "error", err)
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			logger.Error("invalid config", "problem", line)
		}
		return nil, fmt.Errorf("invalid config %s", flags.configFile)
	}
	return cfg, nil
}

func newValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file without migrating anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(cmd, flags, logger)
			if err != nil {
				return err
			}
			logger.Info("config is valid", "path", flags.configFile, "repos", len(cfg.Repos), "jenkins", cfg.NeedsJenkins())
			return nil
		},
	}
}

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	var parallelism int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate every repository listed in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(flags.logLevel)
			cfg, err := loadConfig(cmd, flags, logger)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("parallelism") {
				if parallelism < 1 {
					logger.Error("parallelism must be at least 1", "parallelism", parallelism)
					return fmt.Errorf("invalid parallelism %d", parallelism)
				}
				cfg.Parallelism = parallelism
			}
			return runMigration(cmd, cfg, logger)
		},
	}
	cmd.Flags().IntVarP(&parallelism, "parallelism", "p", 1, "number of repositories migrated at once, overrides the config file")
	return cmd
}

func runMigration(cmd *cobra.Command, cfg *config.Config, logger hclog.Logger) error {
	ctx := cmd.Context()
	httpOpts := transport.Options{InsecureSkipVerify: cfg.InsecureSkipVerify}

	gl, err := gitlab.NewClient(gitlab.Options{
		URL:        cfg.Gitlab.URL,
		Token:      cfg.Gitlab.Token,
		HTTPClient: transport.NewPooledClient(httpOpts),
		Logger:     logger.Named("gitlab"),
	})
	if err != nil {
		logger.Error("could not create GitLab client", "error", err)
		return err
	}
	if err = gl.Ping(ctx); err != nil {
		logger.Error("could not connect to GitLab", "url", cfg.Gitlab.URL, "error", err)
		return err
	}

	bb := bitbucket.NewClient(bitbucket.Options{
		URL:    cfg.Bitbucket.URL,
		User:   cfg.Bitbucket.User,
		Token:  cfg.Bitbucket.Token,
		HTTP:   httpOpts,
		Logger: logger.Named("bitbucket"),
	})
	if err = bb.Ping(ctx); err != nil {
		logger.Error("could not connect to Bitbucket", "url", cfg.Bitbucket.URL, "error", err)
		return err
	}

	runner := &migrate.Runner{
		Source:      gl,
		Dest:        bb,
		Shell:       shell.NewOSRunner(logger.Named("shell")),
		Settings:    cfg.Settings(),
		Logger:      logger,
		Parallelism: cfg.Parallelism,
	}

	if cfg.NeedsJenkins() {
		jk := jenkins.NewClient(jenkins.Options{
			URL:    cfg.Jenkins.URL,
			User:   cfg.Jenkins.User,
			Token:  cfg.Jenkins.Token,
			HTTP:   httpOpts,
			Logger: logger.Named("jenkins"),
		})
		if err = jk.Ping(ctx); err != nil {
			logger.Error("could not connect to Jenkins", "url", cfg.Jenkins.URL, "error", err)
			return err
		}
		runner.CI = jk
	}

	results, err := runner.Run(ctx, cfg.Specs())
	for _, res := range results {
		var ran []string
		for _, step := range res.Steps {
			if step.Ran {
				ran = append(ran, step.Name)
			}
		}
		logger.Info("repository summary", "repo", res.Project, "state", res.State, "steps", strings.Join(ran, ","), "errors", res.NonFatalErrors, "duration", res.Duration)
	}
	if err != nil {
		logger.Error("migration stopped", "error", err)
		return err
	}
	return nil
}
