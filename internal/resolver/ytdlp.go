package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds one resolver invocation.
const DefaultTimeout = 30 * time.Second

// Runner executes a command and returns its standard output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Option configures a YTDLP resolver.
type Option func(*YTDLP)

// WithRunner injects a custom command runner (primarily for tests).
func WithRunner(r Runner) Option {
	return func(y *YTDLP) {
		if r != nil {
			y.runner = r
		}
	}
}

// YTDLP resolves page URLs to direct media URLs with the yt-dlp executable.
type YTDLP struct {
	binary  string
	format  string
	timeout time.Duration
	runner  Runner
}

// NewYTDLP returns a resolver invoking binary with the given format selector.
func NewYTDLP(binary, format string, timeout time.Duration, opts ...Option) *YTDLP {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if strings.TrimSpace(format) == "" {
		format = "best"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	y := &YTDLP{
		binary:  binary,
		format:  format,
		timeout: timeout,
		runner:  commandRunner{},
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// Resolve runs `yt-dlp -f <format> -g <locator>` and returns the first
// non-empty line of its output. Every failure wraps ErrResolutionFailed.
func (y *YTDLP) Resolve(ctx context.Context, locator string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	out, err := y.runner.Output(ctx, y.binary, "-f", y.format, "-g", locator)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrResolutionFailed, locator, ctxErr)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrResolutionFailed, locator, err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %s: resolver returned empty output", ErrResolutionFailed, locator)
}

type commandRunner struct{}

func (commandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("%w: %s", err, lastLine(msg))
			}
		}
		return nil, err
	}
	return out, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
