package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"mathbridge/internal/logging"
)

// Translator renders math markup. Show is fire-and-forget: it returns once
// the viewer has been started.
type Translator interface {
	Translate(ctx context.Context, markup string) (string, error)
	Show(ctx context.Context, markup string) error
}

// CommandTranslator runs an external client with a subcommand and the markup
// on stdin, e.g. "mathcat_client translate".
type CommandTranslator struct {
	Command string
	Args    []string
	Timeout time.Duration
	Logger  *logging.Logger
}

func (t CommandTranslator) Translate(ctx context.Context, markup string) (string, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	command := exec.CommandContext(ctx, t.Command, t.args("translate")...)
	command.Stdin = strings.NewReader(markup)
	command.WaitDelay = time.Second
	var stderr bytes.Buffer
	command.Stderr = &stderr
	output, err := command.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s translate: %w", t.Command, ctxErr)
		}
		return "", fmt.Errorf("%s translate: %w: %s", t.Command, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimRight(string(output), "\r\n"), nil
}

// Show starts the viewer and reaps it in the background. The viewer outlives
// ctx since it is interactive.
func (t CommandTranslator) Show(ctx context.Context, markup string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	command := exec.Command(t.Command, t.args("show")...)
	command.Stdin = strings.NewReader(markup)
	if err := command.Start(); err != nil {
		return fmt.Errorf("%s show: %w", t.Command, err)
	}
	go func() {
		if err := command.Wait(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Logger.Warn("viewer exited", map[string]string{
					"command":   t.Command,
					"exit_code": fmt.Sprint(exitErr.ExitCode()),
				})
				return
			}
			t.Logger.Warn("viewer wait failed", map[string]string{
				"command": t.Command,
				"error":   err.Error(),
			})
		}
	}()
	return nil
}

func (t CommandTranslator) args(subcommand string) []string {
	args := make([]string, 0, len(t.Args)+1)
	args = append(args, t.Args...)
	return append(args, subcommand)
}
