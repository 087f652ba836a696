package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/testforge/trackingtester/internal/browser"
	"github.com/testforge/trackingtester/internal/browser/browsertest"
	"github.com/testforge/trackingtester/internal/config"
	"github.com/testforge/trackingtester/internal/domain"
	"github.com/testforge/trackingtester/internal/observability"
	"github.com/testforge/trackingtester/internal/services/session"
)

const siteURL = "https://site.test/"

const contactPage = `<html><head><title>Contact</title></head><body>
	<form id="contact">
		<input type="email" name="email">
		<button type="submit">Verstuur</button>
	</form>
</body></html>`

func testConfig() domain.TestConfiguration {
	return domain.TestConfiguration{URL: siteURL, Headless: true, SkipNewsletters: true}
}

func newInProcess(t *testing.T, routes map[string]*browsertest.Route, timeout time.Duration, max int) (*InProcess, *browsertest.Launcher) {
	t.Helper()
	launcher := browsertest.NewLauncher(routes)
	orch := session.New(launcher, session.Options{Launch: browser.DefaultLaunchOptions()}, zaptest.NewLogger(t))
	return NewInProcess(orch, timeout, max, observability.NewMetrics("test"), zaptest.NewLogger(t)), launcher
}

func TestInProcess_Success(t *testing.T) {
	r, launcher := newInProcess(t, map[string]*browsertest.Route{siteURL: {HTML: contactPage}}, time.Minute, 2)

	var lines []string
	result, err := r.Run(context.Background(), testConfig(), session.WithActionHook(func(l string) {
		lines = append(lines, l)
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, result.CountActions("submitted successfully"))
	assert.Equal(t, result.Actions, lines)
	assert.True(t, launcher.Browsers()[0].IsClosed())
	assert.Equal(t, KindInProcess, r.Kind())
}

func TestInProcess_TimeoutTerminatesBrowser(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r, launcher := newInProcess(t, map[string]*browsertest.Route{siteURL: {Hang: true}}, 50*time.Millisecond, 1)

	result, err := r.Run(context.Background(), testConfig())
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeSessionTimeout))
	assert.Equal(t, domain.MsgTestTimeout, err.(*domain.AppError).Message)
	assert.True(t, launcher.Browsers()[0].IsClosed())
}

func TestInProcess_CallerCancellationIsNotATimeout(t *testing.T) {
	r, _ := newInProcess(t, map[string]*browsertest.Route{siteURL: {Hang: true}}, time.Minute, 1)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := r.Run(ctx, testConfig())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsCode(err, domain.ErrCodeSessionTimeout))
	assert.Equal(t, "cancelled", outcomeOf(err))
}

func TestInProcess_BoundsConcurrency(t *testing.T) {
	r, launcher := newInProcess(t, map[string]*browsertest.Route{siteURL: {Hang: true}}, time.Minute, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(ctx, testConfig())
	}()
	require.Eventually(t, func() bool { return len(launcher.Browsers()) == 1 }, time.Second, 5*time.Millisecond)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer waitCancel()
	_, err := r.Run(waitCtx, testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for a session slot")
	assert.Len(t, launcher.Browsers(), 1)

	cancel()
	<-done
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{domain.ErrSessionTimeout(time.Minute), "timeout"},
		{fmt.Errorf("wrapped: %w", context.Canceled), "cancelled"},
		{&domain.RawOutputError{Raw: "x"}, "unparsable"},
		{errors.New("boom"), "failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeOf(tt.err))
	}
}

func TestNew(t *testing.T) {
	orch := session.New(browsertest.NewLauncher(nil), session.Options{}, zaptest.NewLogger(t))
	logger := zaptest.NewLogger(t)

	r, err := New(config.TesterConfig{Runner: config.RunnerInProcess, MaxConcurrent: 2}, orch, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &InProcess{}, r)

	r, err = New(config.TesterConfig{Runner: config.RunnerSubprocess, Binary: "tester"}, nil, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &Subprocess{}, r)

	_, err = New(config.TesterConfig{Runner: config.RunnerInProcess}, nil, nil, logger)
	assert.Error(t, err)

	_, err = New(config.TesterConfig{Runner: "docker"}, orch, nil, logger)
	assert.ErrorContains(t, err, `unknown runner "docker"`)
}

// TestHelperProcess is not a real test. It stands in for the tester binary
// when run by the subprocess tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	path := os.Args[len(os.Args)-1]
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading config: %v", err)
		os.Exit(2)
	}
	var cfg domain.TestConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "decoding config: %v", err)
		os.Exit(2)
	}

	switch os.Getenv("HELPER_MODE") {
	case "ok":
		result := domain.NewSessionResult()
		result.Actions = []string{"📄 Loaded: " + cfg.URL, "config: " + path}
		_ = json.NewEncoder(os.Stdout).Encode(result)
	case "fail":
		fmt.Fprintln(os.Stderr, `{"level":"error","msg":"session failed"}`)
		out, _ := json.Marshal(domain.NewErrorOutput(errors.New("Navigation failed: " + cfg.URL)))
		fmt.Fprintln(os.Stderr, string(out))
		os.Exit(1)
	case "crash":
		fmt.Fprint(os.Stderr, "panic: runtime error")
		os.Exit(2)
	case "garbage":
		fmt.Fprint(os.Stdout, "Error: browser not installed")
	case "hang":
		time.Sleep(time.Minute)
	}
}

func newSubprocess(t *testing.T, mode string, timeout time.Duration) (*Subprocess, string) {
	t.Helper()
	dir := t.TempDir()
	return NewSubprocess(SubprocessOptions{
		Binary:        os.Args[0],
		Args:          []string{"-test.run=TestHelperProcess", "--"},
		Timeout:       timeout,
		MaxConcurrent: 1,
		TempDir:       dir,
		Env:           append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode),
	}, nil, zaptest.NewLogger(t)), dir
}

func assertNoConfigFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "tracking-test-*.json"))
	require.NoError(t, err)
	assert.Empty(t, matches, "config files must be removed")
}

func TestSubprocess_Success(t *testing.T) {
	r, dir := newSubprocess(t, "ok", time.Minute)

	var hooked []string
	result, err := r.Run(context.Background(), testConfig(), session.WithActionHook(func(l string) {
		hooked = append(hooked, l)
	}))
	require.NoError(t, err)
	require.Len(t, result.Actions, 2)
	assert.Equal(t, "📄 Loaded: "+siteURL, result.Actions[0])
	assert.True(t, strings.HasPrefix(result.Actions[1], "config: "+filepath.Join(dir, "tracking-test-")))
	assert.Equal(t, result.Actions, hooked)
	assert.NotNil(t, result.Events)
	assertNoConfigFiles(t, dir)
}

func TestSubprocess_Failures(t *testing.T) {
	tests := []struct {
		mode  string
		check func(t *testing.T, err error)
	}{
		{
			mode: "fail",
			check: func(t *testing.T, err error) {
				assert.True(t, domain.IsCode(err, domain.ErrCodeSessionFailed))
				assert.Equal(t, "Test failed: Navigation failed: "+siteURL, err.(*domain.AppError).Message)
			},
		},
		{
			mode: "crash",
			check: func(t *testing.T, err error) {
				assert.Equal(t, "Test failed: panic: runtime error", err.(*domain.AppError).Message)
			},
		},
		{
			mode: "garbage",
			check: func(t *testing.T, err error) {
				var raw *domain.RawOutputError
				require.ErrorAs(t, err, &raw)
				assert.Equal(t, "Error: browser not installed", raw.Raw)
				assert.Equal(t, domain.MsgCannotParse, err.Error())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			r, dir := newSubprocess(t, tt.mode, time.Minute)
			result, err := r.Run(context.Background(), testConfig())
			assert.Nil(t, result)
			require.Error(t, err)
			tt.check(t, err)
			assertNoConfigFiles(t, dir)
		})
	}
}

func TestSubprocess_TimeoutKillsProcess(t *testing.T) {
	r, dir := newSubprocess(t, "hang", 300*time.Millisecond)

	start := time.Now()
	_, err := r.Run(context.Background(), testConfig())
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeSessionTimeout))
	assert.Less(t, time.Since(start), 10*time.Second)
	assertNoConfigFiles(t, dir)
}

func TestSubprocess_ValidatesBeforeSpawning(t *testing.T) {
	r := NewSubprocess(SubprocessOptions{Binary: "/nonexistent/tester"}, nil, zaptest.NewLogger(t))

	_, err := r.Run(context.Background(), domain.TestConfiguration{})
	assert.True(t, domain.IsCode(err, domain.ErrCodeConfiguration))
	assert.Equal(t, KindSubprocess, r.Kind())
}

func TestSubprocess_MissingBinary(t *testing.T) {
	r := NewSubprocess(SubprocessOptions{Binary: "/nonexistent/tester", TempDir: t.TempDir()}, nil, zaptest.NewLogger(t))

	_, err := r.Run(context.Background(), testConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting tester")
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "boom", failureText("log line\n"+`{"error":"boom","actions":["Error: boom"]}`+"\n"))
	assert.Equal(t, "plain failure", failureText("  plain failure \n"))
}
