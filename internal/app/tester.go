// Package app assembles the components shared by the commands: the session
// runner and the optional storage backends.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/testforge/trackingtester/internal/browser"
	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/llm"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/resilience"
	"github.com/testforge/trackingtester/internal/runner"
	"github.com/testforge/trackingtester/internal/services/navigation"
	"github.com/testforge/trackingtester/internal/services/session"
)

// NewFallback builds the language model navigation fallback. It returns nil
// when no provider is configured.
func NewFallback(cfg config.LLMConfig, metrics *observability.Metrics, logger *zap.Logger) (*navigation.Fallback, error) {
	completer, err := llm.New(llm.ProviderConfig{
		Provider: cfg.Provider,
		Claude: llm.Config{
			APIKey:       cfg.Claude.APIKey,
			BaseURL:      cfg.Claude.BaseURL,
			Model:        cfg.Claude.Model,
			Timeout:      cfg.Claude.Timeout,
			RateLimitRPM: cfg.Claude.RateLimitRPM,
			CacheTTL:     cfg.Claude.CacheTTL,
		},
		Gemini: llm.GeminiConfig{
			APIKey:     cfg.Gemini.APIKey,
			BaseURL:    cfg.Gemini.BaseURL,
			Model:      cfg.Gemini.Model,
			Timeout:    cfg.Gemini.Timeout,
			MaxElapsed: cfg.Gemini.MaxElapsed,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating language model client: %w", err)
	}
	if completer == nil {
		return nil, nil
	}

	breaker := resilience.NewBreaker(resilience.LanguageModelSettings(cfg.Provider))
	return navigation.New(completer, breaker, metrics, logger), nil
}

// NewOrchestrator builds a session orchestrator driving Playwright. The
// returned launcher must be closed on shutdown.
func NewOrchestrator(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*session.Orchestrator, *browser.PlaywrightLauncher, error) {
	fallback, err := NewFallback(cfg.LLM, metrics, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := session.OptionsFromConfig(cfg.Tester)
	opts.Fallback = fallback
	opts.Metrics = metrics

	launcher := browser.NewPlaywrightLauncher(logger)
	return session.New(launcher, opts, logger), launcher, nil
}

// NewRunner builds the runner selected by TESTER_RUNNER. The returned close
// function releases the browser driver.
func NewRunner(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (runner.Runner, func() error, error) {
	if cfg.Tester.Runner == config.RunnerSubprocess {
		r, err := runner.New(cfg.Tester, nil, metrics, logger)
		return r, func() error { return nil }, err
	}

	orch, launcher, err := NewOrchestrator(cfg, metrics, logger)
	if err != nil {
		return nil, nil, err
	}
	r, err := runner.New(cfg.Tester, orch, metrics, logger)
	if err != nil {
		_ = launcher.Close()
		return nil, nil, err
	}
	return r, launcher.Close, nil
}
