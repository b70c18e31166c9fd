package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/logship/internal/auth"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// CollectFlags holds flags for the collect command
type CollectFlags struct {
	Listen        string
	BasePath      string
	SinkDSN       string
	MetricsListen string
	Tokens        []string
	TLSCert       string
	TLSKey        string
	TLSDir        string
	TLSAuto       bool
}

// QueueFlags holds flags shared by the queue subcommands
type QueueFlags struct {
	DSN       string
	Namespace string
	Max       int
	URL       string
	Timeout   time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	collectFlags := &CollectFlags{}
	queueFlags := &QueueFlags{}
	initFlags := &InitFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createCollectCommand(collectFlags),
		createExecCommand(globalFlags),
		createQueueCommand(queueFlags),
		createInitCommand(initFlags),
		createHashTokenCommand(),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "logship",
		Short: "Capture process output and ship it to a collector",
		Long: `Logship captures log and error output, keeps a local copy and delivers it
to an HTTP collector, queueing what could not be sent and retrying it later.

Examples:
  logship collect --listen=:8080 --sink=file:///var/lib/logship
  logship exec --config=agent.toml -- ./server --port 9000
  logship queue len --dsn=sqlite:///var/lib/logship/queue.db`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to agent config file (TOML, YAML or JSON)")
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the logship version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "logship", version)
		},
	}
}

func createHashTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash of an ingest token for collect --token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashToken(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
}

// exitError carries a child's exit status out of Execute.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
