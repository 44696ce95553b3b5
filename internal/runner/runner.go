// Package runner invokes the external crawler as a child process.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrProcessFailed is matched by every *ProcessError.
var ErrProcessFailed = errors.New("crawler process failed")

// Runner runs one crawl for a target URL and returns the captured stdout.
type Runner interface {
	Run(ctx context.Context, params Params) (string, error)
}

// Params carries the per-job inputs of a crawl.
type Params struct {
	URL        string
	OutputPath string
}

// ProcessError reports a crawler run that exited non-zero, could not start,
// or wrote diagnostics to stderr.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	switch {
	case e.Err != nil && e.Stderr != "":
		return fmt.Sprintf("crawler exited with code %d: %v: %s", e.ExitCode, e.Err, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("crawler exited with code %d: %v", e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("crawler wrote to stderr: %s", e.Stderr)
	}
}

// Is lets errors.Is match ErrProcessFailed.
func (e *ProcessError) Is(target error) bool {
	return target == ErrProcessFailed
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Config controls how the crawler is located and invoked.
type Config struct {
	ProjectDir string
	// Executable overrides the virtualenv lookup when set.
	Executable     string
	Spider         string
	URLParam       string
	Timeout        time.Duration
	TolerateStderr bool
	// GOOS selects the executable layout; defaults to runtime.GOOS.
	GOOS string
}

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = 2 * time.Second

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	cfg        Config
	executable string
	logger     *zap.Logger
}

// New validates the crawler project layout and returns an ExecRunner.
func New(cfg Config, logger *zap.Logger) (*ExecRunner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Spider == "" || cfg.URLParam == "" {
		return nil, errors.New("spider and url param are required")
	}
	if cfg.ProjectDir != "" {
		info, err := os.Stat(cfg.ProjectDir)
		if err != nil {
			return nil, fmt.Errorf("stat crawler project dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("crawler project dir %s is not a directory", cfg.ProjectDir)
		}
	}
	executable := ResolveExecutable(cfg)
	if executable == "" {
		return nil, errors.New("crawler executable could not be resolved")
	}
	return &ExecRunner{cfg: cfg, executable: executable, logger: logger}, nil
}

// ResolveExecutable picks the crawler binary for the host platform.
func ResolveExecutable(cfg Config) string {
	if cfg.Executable != "" {
		return cfg.Executable
	}
	if cfg.ProjectDir == "" {
		return ""
	}
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "windows" {
		return filepath.Join(cfg.ProjectDir, ".venv", "Scripts", "scrapy.exe")
	}
	return filepath.Join(cfg.ProjectDir, ".venv", "bin", "scrapy")
}

// Args builds the crawler argument vector for one job. The output path is
// made absolute against the caller's working directory because the crawler
// runs inside the project directory.
func (r *ExecRunner) Args(params Params) []string {
	return []string{
		"crawl", r.cfg.Spider,
		"-a", fmt.Sprintf("%s=%s", r.cfg.URLParam, params.URL),
		"-o", absPath(params.OutputPath),
	}
}

func absPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Run executes the crawler and blocks until it exits or ctx ends.
func (r *ExecRunner) Run(ctx context.Context, params Params) (string, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	// #nosec G204 -- executable comes from config; the URL is passed as a single argv entry.
	cmd := exec.CommandContext(ctx, r.executable, r.Args(params)...)
	cmd.Dir = r.cfg.ProjectDir
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("starting crawler",
		zap.String("executable", r.executable),
		zap.String("url", params.URL),
		zap.String("output", params.OutputPath),
	)
	err := cmd.Run()
	errText := strings.TrimSpace(stderr.String())
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		r.logger.Error("crawler process failed",
			zap.String("url", params.URL),
			zap.Int("exit_code", exitCode),
			zap.String("stderr", errText),
			zap.Error(err),
		)
		return "", &ProcessError{ExitCode: exitCode, Stderr: errText, Err: err}
	}
	if errText != "" {
		if !r.cfg.TolerateStderr {
			r.logger.Error("crawler wrote to stderr", zap.String("url", params.URL), zap.String("stderr", errText))
			return "", &ProcessError{ExitCode: 0, Stderr: errText}
		}
		r.logger.Debug("crawler stderr tolerated", zap.String("url", params.URL), zap.Int("bytes", len(errText)))
	}
	r.logger.Debug("crawler finished", zap.String("url", params.URL), zap.Int("stdout_bytes", stdout.Len()))
	return stdout.String(), nil
}
