// Package crawlproc launches the link-discovery crawler as a child process.
package crawlproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/crawler"
)

// maxStderr caps how much diagnostic output is kept from a failed run.
const maxStderr = 8 << 10

// ProcessError reports a crawl process that exited unsuccessfully.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("crawl process exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("crawl process exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Runner implements crawler.CrawlRunner by executing Command followed by Args.
type Runner struct {
	command string
	args    []string
	logger  *zap.Logger
}

// New builds a Runner. args are passed before the per-task flags.
func New(command string, args []string, logger *zap.Logger) (*Runner, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("crawl command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		command: command,
		args:    append([]string(nil), args...),
		logger:  logger,
	}, nil
}

// Args returns the full argument list for request.
func (r *Runner) Args(request crawler.CrawlRequest) []string {
	args := append([]string(nil), r.args...)
	args = append(args, "--output", request.OutputPath, "--start-url", request.StartURL)
	if request.WebhookURL != "" {
		args = append(args, "--webhook-url", request.WebhookURL)
	}
	return args
}

// Run executes the crawl process and waits for it to exit.
func (r *Runner) Run(ctx context.Context, request crawler.CrawlRequest) error {
	// #nosec G204 -- the command comes from operator configuration.
	cmd := exec.CommandContext(ctx, r.command, r.Args(request)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Info("Starting crawl process",
		zap.String("task_id", request.TaskID),
		zap.String("url", request.StartURL),
		zap.String("command", r.command),
	)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ProcessError{
			ExitCode: exitErr.ExitCode(),
			Stderr:   truncate(strings.TrimSpace(stderr.String()), maxStderr),
		}
	}
	return fmt.Errorf("start crawl process: %w", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
