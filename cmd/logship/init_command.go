package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/logship/pkg/template"
)

// InitFlags holds flags for the init command
type InitFlags struct {
	Type   string
	Name   string
	Output string
	Force  bool
}

func createInitCommand(flags *InitFlags) *cobra.Command {
	gen := template.NewGenerator()
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter agent config file",
		Long: `Write a starter agent config file for one of the built-in profiles.

Examples:
  logship init --type=durable --name=billing --output=agent.toml
  logship init --type=production > agent.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := gen.GenerateTOML(template.TemplateType(flags.Type), flags.Name)
			if err != nil {
				return err
			}
			if flags.Output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if _, err := os.Stat(flags.Output); err == nil && !flags.Force {
				return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", flags.Output)
			}
			if err := os.WriteFile(flags.Output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written: %s\n", flags.Output)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", string(template.TypeMinimal),
		"profile ("+strings.Join(gen.GetSupportedTypes(), ", ")+")")
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name, used as the queue namespace")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "", "file to write (default stdout)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	return cmd
}
