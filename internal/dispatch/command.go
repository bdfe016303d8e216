package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/mattjoyce/hookledger/internal/processor"
	"github.com/mattjoyce/hookledger/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a handler.
	maxStderrBytes = 64 * 1024

	// defaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	defaultGracePeriod = 5 * time.Second
)

// CommandHandler runs one executable per attempt.
type CommandHandler struct {
	Command string
	Args    []string
	// Env is appended to the service's own environment.
	Env []string
	// Timeout bounds each run. Zero relies on the caller's context alone.
	Timeout time.Duration
	// Grace is the wait between SIGTERM and SIGKILL.
	Grace time.Duration

	logger *slog.Logger
}

func NewCommandHandler(command string, args []string, timeout time.Duration, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandHandler{
		Command: command,
		Args:    args,
		Timeout: timeout,
		Grace:   defaultGracePeriod,
		logger:  logger,
	}
}

// Handle satisfies processor.Handler[*protocol.Response].
func (h *CommandHandler) Handle(ctx context.Context, a processor.Attempt) (*protocol.Response, error) {
	logger := h.logger.With("provider", a.Provider, "event_id", a.EventID, "attempt", a.Number)

	req := protocol.NewRequest(string(a.Provider), a.EventID, a.EventType, a.Number, a.Retry, a.Payload)
	if deadline, ok := ctx.Deadline(); ok {
		req.DeadlineAt = deadline.UTC()
	}
	if h.Timeout > 0 {
		if d := time.Now().Add(h.Timeout).UTC(); req.DeadlineAt.IsZero() || d.Before(req.DeadlineAt) {
			req.DeadlineAt = d
		}
	}

	stdout, stderr, err := h.spawn(ctx, req, logger)
	if err != nil {
		if stderr != "" {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))
		}
		return nil, err
	}

	resp, err := protocol.DecodeResponse(stdout)
	if err != nil {
		logger.Error("failed to decode handler response", "error", err, "stdout_bytes", len(stdout))
		return nil, fmt.Errorf("decode handler response: %w", err)
	}
	for _, entry := range resp.Logs {
		logger.Info("handler log", "level", entry.Level, "message", entry.Message)
	}
	if !resp.OK() {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// spawn starts the command, writes req to stdin and waits for it to exit,
// terminating it on timeout or cancellation. It returns stdout and the
// truncated stderr.
func (h *CommandHandler) spawn(ctx context.Context, req *protocol.Request, logger *slog.Logger) ([]byte, string, error) {
	var timeoutC <-chan time.Time
	if h.Timeout > 0 {
		timer := time.NewTimer(h.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	// Not CommandContext: termination is SIGTERM first, then SIGKILL.
	cmd := exec.Command(h.Command, h.Args...)
	if len(h.Env) > 0 {
		cmd.Env = append(os.Environ(), h.Env...)
	}
	// Children that inherit stdout must not hold Wait open indefinitely.
	cmd.WaitDelay = h.grace()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning handler", "command", h.Command, "timeout", h.Timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start handler: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var stopErr error
	select {
	case <-timeoutC:
		stopErr = fmt.Errorf("handler timed out after %s: %w", h.Timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		stopErr = fmt.Errorf("handler interrupted: %w", ctx.Err())
	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("handler exited with non-zero status", "exit_code", exitErr.ExitCode())
				return nil, stderrStr, fmt.Errorf("exit status %d", exitErr.ExitCode())
			}
			return nil, stderrStr, fmt.Errorf("wait for handler: %w", err)
		}
		// A handler may exit without reading stdin; a broken pipe is not a
		// failure once it exited 0.
		if werr := <-writeErr; werr != nil && !errors.Is(werr, syscall.EPIPE) {
			logger.Debug("handler did not consume request", "error", werr)
		}
		return stdout.Bytes(), stderrStr, nil
	}

	h.terminate(cmd, waitErr, logger)
	return nil, truncateStderr(stderr.String()), stopErr
}

func (h *CommandHandler) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	logger.Warn("handler did not finish in time, sending SIGTERM")
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	timer := time.NewTimer(h.grace())
	defer timer.Stop()

	select {
	case <-waitErr:
		logger.Info("handler exited after SIGTERM")
	case <-timer.C:
		logger.Warn("handler did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func (h *CommandHandler) grace() time.Duration {
	if h.Grace > 0 {
		return h.Grace
	}
	return defaultGracePeriod
}

// Noop records the delivery without any side effect.
func Noop(context.Context, processor.Attempt) (*protocol.Response, error) {
	return &protocol.Response{Status: "ok"}, nil
}

// truncateStderr caps stderr at maxStderrBytes on a rune boundary and
// replaces invalid UTF-8 from the handler.
func truncateStderr(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxStderrBytes {
		return s
	}
	n := maxStderrBytes
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
