// Package cli implements the filetree command tree.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/filetree/internal/config"
	"github.com/fruitsalade/filetree/internal/logging"
	"github.com/fruitsalade/filetree/pkg/client"
	"github.com/fruitsalade/filetree/pkg/retry"
)

// app carries the state shared by all subcommands. It is filled in by the
// root command's PersistentPreRunE.
type app struct {
	version string

	configFile string
	server     string
	logLevel   string
	output     string

	cfg    *config.Config
	client *client.Client
}

// NewRootCmd builds the filetree command.
func NewRootCmd(version string) *cobra.Command {
	a := &app{version: version}

	cmd := &cobra.Command{
		Use:           "filetree",
		Short:         "Manage a remote file tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&a.server, "server", "", "Backend URL (overrides server_url)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVarP(&a.output, "output", "o", outputText, "Output format: text, json or yaml")

	cmd.AddCommand(
		newListCmd(a),
		newTagsCmd(a),
		newMkdirCmd(a),
		newTouchCmd(a),
		newRemoveCmd(a),
		newMoveCmd(a),
		newCopyCmd(a),
		newTagCmd(a),
		newLoadCmd(a),
		newUploadCmd(a),
		newDevserverCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

func (a *app) setup() error {
	switch a.output {
	case outputText, outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.server != "" {
		cfg.ServerURL = strings.TrimSuffix(a.server, "/")
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	a.cfg = cfg
	a.client = client.New(client.Config{
		BaseURL: cfg.ServerURL,
		Timeout: cfg.Timeout,
		ReadRetry: retry.Config{
			MaxAttempts: cfg.ReadRetries,
			InitialWait: 100 * time.Millisecond,
			MaxWait:     5 * time.Second,
		},
		AuthToken: cfg.AuthToken,
	})
	return nil
}

// loaded fetches the tree before an operation so local validation runs
// against the backend's current state.
func (a *app) loaded(ctx context.Context) (*client.Client, error) {
	if err := a.client.LoadTree(ctx); err != nil {
		return nil, err
	}
	return a.client, nil
}
