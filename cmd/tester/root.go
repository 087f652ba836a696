package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/testforge/trackingtester/internal/app"
	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/runner"
)

// Version is set at build time.
var Version = "dev"

// runnerFactory builds the in-process runner used by both subcommands.
type runnerFactory func(cfg *config.Config, logger *zap.Logger) (runner.Runner, func() error, error)

type cli struct {
	stdout    io.Writer
	stderr    io.Writer
	newRunner runnerFactory
	loadCfg   func() (*config.Config, error)
}

func newCLI() *cli {
	return &cli{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		newRunner: newInProcessRunner,
		loadCfg:   config.LoadWithDefaults,
	}
}

func newInProcessRunner(cfg *config.Config, logger *zap.Logger) (runner.Runner, func() error, error) {
	orch, launcher, err := app.NewOrchestrator(cfg, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return runner.NewInProcess(orch, cfg.Tester.SessionTimeout, 1, nil, logger), launcher.Close, nil
}

// logger writes to stderr so stdout carries only results.
func (c *cli) logger(cfg config.LogConfig) *zap.Logger {
	return observability.NewLoggerTo(cfg, zapcore.AddSync(c.stderr))
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "tester",
		Short:         "Fill and submit website forms and report the marketing tracking they fire.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.AddCommand(newRunCmd(c), newExecCmd(c), newVersionCmd(c))
	return root
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "tester %s\n", Version)
		},
	}
}
