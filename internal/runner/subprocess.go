package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/services/session"
)

// SubprocessOptions configure a Subprocess runner.
type SubprocessOptions struct {
	// Binary is the tester executable. Args are inserted before the
	// config file path and default to ["exec"].
	Binary        string
	Args          []string
	Timeout       time.Duration
	MaxConcurrent int
	// TempDir holds the configuration files. Empty means os.TempDir().
	TempDir string
	Env     []string
}

// Subprocess runs every session in a child tester process.
type Subprocess struct {
	opts SubprocessOptions
	limiter
}

// NewSubprocess creates a subprocess runner.
func NewSubprocess(opts SubprocessOptions, metrics *observability.Metrics, logger *zap.Logger) *Subprocess {
	if opts.Binary == "" {
		opts.Binary = "tester"
	}
	if opts.Args == nil {
		opts.Args = []string{"exec"}
	}
	return &Subprocess{
		opts:    opts,
		limiter: newLimiter(KindSubprocess, opts.Timeout, opts.MaxConcurrent, metrics, logger),
	}
}

func (r *Subprocess) Kind() string { return KindSubprocess }

// Run writes cfg to a temp file, runs the tester on it and parses stdout.
// The file is removed on every path. On timeout the process is killed and
// reaped before the error is returned. Action hooks in opts receive the
// child's action lines once it has finished.
func (r *Subprocess) Run(ctx context.Context, cfg domain.TestConfiguration, opts ...session.RunOption) (*domain.SessionResult, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return r.do(ctx, cfg, func(ctx context.Context) (*domain.SessionResult, error) {
		path, err := writeConfig(r.opts.TempDir, cfg)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("removing config file", zap.String("path", path), zap.Error(err))
			}
		}()

		args := append(append([]string{}, r.opts.Args...), path)
		cmd := exec.CommandContext(ctx, r.opts.Binary, args...)
		cmd.WaitDelay = 5 * time.Second
		if r.opts.Env != nil {
			cmd.Env = r.opts.Env
		}
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		r.logger.Debug("starting tester process", zap.String("binary", r.opts.Binary), zap.String("config", path))
		runErr := cmd.Run()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if runErr != nil {
			var exitErr *exec.ExitError
			if !errors.As(runErr, &exitErr) {
				return nil, fmt.Errorf("starting tester: %w", runErr)
			}
			return nil, domain.ErrSessionFailed(errors.New(failureText(stderr.String())))
		}

		result := domain.NewSessionResult()
		if err := json.Unmarshal(stdout.Bytes(), result); err != nil {
			return nil, &domain.RawOutputError{Raw: stdout.String(), Err: err}
		}
		replayActions(result.Actions, opts)
		return result, nil
	})
}

func writeConfig(dir string, cfg domain.TestConfiguration) (string, error) {
	f, err := os.CreateTemp(dir, "tracking-test-*.json")
	if err != nil {
		return "", fmt.Errorf("creating config file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing config file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return f.Name(), nil
}

// failureText extracts the error of a failed tester. The tester prints an
// ErrorOutput document as its last stderr line; log lines may precede it.
func failureText(stderr string) string {
	trimmed := strings.TrimSpace(stderr)
	last := trimmed
	if i := strings.LastIndexByte(trimmed, '\n'); i >= 0 {
		last = trimmed[i+1:]
	}
	var out domain.ErrorOutput
	if err := json.Unmarshal([]byte(last), &out); err == nil && out.Error != "" {
		return out.Error
	}
	return trimmed
}

// replayActions feeds finished action lines to any hook set in opts.
func replayActions(actions []string, opts []session.RunOption) {
	hook := session.ActionHook(opts...)
	if hook == nil {
		return
	}
	for _, a := range actions {
		hook(a)
	}
}
