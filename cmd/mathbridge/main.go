package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"mathbridge/internal/cli"
	"mathbridge/internal/config"
	"mathbridge/internal/logging"
)

type bridgeError struct {
	Code    int
	Message string
	Err     error
}

func (e *bridgeError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *bridgeError) Unwrap() error {
	return e.Err
}

func documentError(message string, err error) error {
	return &bridgeError{Code: exitCodeDocument, Message: message, Err: err}
}

func channelError(message string, err error) error {
	return &bridgeError{Code: exitCodeChannel, Message: message, Err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer, getenv func(string) string) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		return exitCodeUsage
	}
	if cfg.ShowVersion {
		cli.PrintVersion(out, "mathbridge")
		return exitCodeSuccess
	}

	settings, err := loadSettings(cfg, getenv)
	if err != nil {
		fmt.Fprintf(errOut, "mathbridge: %v\n", err)
		return exitCodeUsage
	}
	logger := logging.NewLoggerWithOutput(logging.NewBuffer(logging.DefaultBufferSize), settings.Level(), errOut)

	b := &bridge{
		cfg:      cfg,
		settings: settings,
		logger:   logger,
		in:       in,
		out:      out,
		errOut:   errOut,
	}
	if err := b.execute(ctx); err != nil {
		return handleBridgeError(err, errOut)
	}
	return exitCodeSuccess
}

// loadSettings layers the config file, environment and flags, in that order.
func loadSettings(cfg Config, getenv func(string) string) (config.Config, error) {
	settings, err := config.Load(cfg.ConfigPath, cfg.ConfigPath != "")
	if err != nil {
		return settings, err
	}
	settings.ApplyEnv(getenv)
	if cfg.URL != "" {
		settings.Client.Endpoint = cfg.URL
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if cfg.Kind != "" {
		settings.Client.Kind = cfg.Kind
	}
	return settings, settings.Validate()
}

func handleBridgeError(err error, errOut io.Writer) int {
	if errors.Is(err, context.Canceled) {
		return exitCodeSuccess
	}
	fmt.Fprintf(errOut, "mathbridge: %v\n", err)
	var bridgeErr *bridgeError
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Code
	}
	return exitCodeChannel
}
