package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/toolmesh"
	"github.com/ajitpratap0/toolmesh/pkg/config"
)

// ExitError carries a process exit code out of a command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type globalFlags struct {
	configPath string
	logLevel   string
	relaxed    bool
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "toolmesh",
		Short: "Run and monitor remote tool servers",
		Long: `toolmesh connects to configured tool servers, executes their tools with
validated parameters and tracks server health.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       toolmesh.Version,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the config file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&flags.relaxed, "relaxed", false, "Allow the localhost fallback for servers without an endpoint")

	cmd.AddCommand(
		newToolsCmd(flags),
		newExecCmd(flags),
		newHealthCmd(flags),
		newStartCmd(flags),
	)
	return cmd
}

// open builds the runtime with command-line overrides applied
func (f *globalFlags) open(cmd *cobra.Command) (*toolmesh.Runtime, error) {
	v, err := config.NewViper(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		v.Set("log.level", f.logLevel)
	}
	if f.relaxed {
		v.Set("strict", false)
	}
	cfg, resolver, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	return toolmesh.Open(cfg, resolver, toolmesh.Options{LogOutput: cmd.ErrOrStderr()})
}
