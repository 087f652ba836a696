package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
)

// errReported means the failure was already written to stderr.
var errReported = errors.New("session failed")

func newExecCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <config.json>",
		Short: "Run one session from a configuration file and print the result as JSON",
		Long: "Reads a test configuration from the given file and runs one session. " +
			"The result is written to stdout. On failure an error document is written " +
			"as the last line of stderr and the exit status is 1.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.exec(cmd.Context(), args[0])
		},
	}
}

func (c *cli) exec(ctx context.Context, path string) error {
	cfg, err := c.loadCfg()
	if err != nil {
		return c.reportFailure(fmt.Errorf("loading config: %w", err))
	}
	logger := c.logger(cfg.Log)

	testCfg, err := readConfiguration(path)
	if err != nil {
		_ = logger.Sync()
		return c.reportFailure(err)
	}

	r, closeRunner, err := c.newRunner(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return c.reportFailure(err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	result, err := r.Run(ctx, testCfg)
	if cerr := closeRunner(); cerr != nil {
		logger.Warn("Failed to stop browser driver", zap.Error(cerr))
	}
	_ = logger.Sync()
	if err != nil {
		return c.reportFailure(err)
	}

	return json.NewEncoder(c.stdout).Encode(result)
}

func (c *cli) reportFailure(err error) error {
	_ = json.NewEncoder(c.stderr).Encode(domain.NewErrorOutput(err))
	return errReported
}

func readConfiguration(path string) (domain.TestConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.TestConfiguration{}, fmt.Errorf("reading configuration: %w", err)
	}

	var cfg domain.TestConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.TestConfiguration{}, fmt.Errorf("parsing configuration: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return domain.TestConfiguration{}, err
	}
	return cfg, nil
}
