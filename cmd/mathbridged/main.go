package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mathbridge/internal/cli"
	"mathbridge/internal/config"
	"mathbridge/internal/daemon"
	"mathbridge/internal/logging"
	"mathbridge/internal/metrics"
)

const (
	exitCodeSuccess = 0
	exitCodeUsage   = 1
	exitCodeServe   = 3
)

type Config struct {
	ConfigPath  string
	Listen      string
	Translator  string
	LogLevel    string
	ShowVersion bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out, errOut io.Writer, getenv func(string) string) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		return exitCodeUsage
	}
	if cfg.ShowVersion {
		cli.PrintVersion(out, "mathbridged")
		return exitCodeSuccess
	}

	settings, err := loadSettings(cfg, getenv)
	if err != nil {
		fmt.Fprintf(errOut, "mathbridged: %v\n", err)
		return exitCodeUsage
	}
	logger := logging.NewLoggerWithOutput(logging.NewBuffer(logging.DefaultBufferSize), settings.Level(), errOut)

	translator := daemon.CommandTranslator{
		Command: settings.Daemon.Translator.Command,
		Timeout: settings.Daemon.Translator.Timeout,
		Logger:  logger,
	}
	server := daemon.NewServer(daemon.Options{
		Translator:     translator,
		AllowedOrigins: settings.Daemon.AllowedOrigins,
		Logger:         logger,
		Metrics:        metrics.Default,
	})
	if err := server.ListenAndServe(ctx, settings.Daemon.Listen); err != nil {
		fmt.Fprintf(errOut, "mathbridged: %v\n", err)
		return exitCodeServe
	}
	logger.Info("translation daemon stopped", nil)
	return exitCodeSuccess
}

func loadSettings(cfg Config, getenv func(string) string) (config.Config, error) {
	settings, err := config.Load(cfg.ConfigPath, cfg.ConfigPath != "")
	if err != nil {
		return settings, err
	}
	settings.ApplyEnv(getenv)
	if cfg.Listen != "" {
		settings.Daemon.Listen = cfg.Listen
	}
	if cfg.Translator != "" {
		settings.Daemon.Translator.Command = cfg.Translator
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	return settings, settings.Validate()
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("mathbridged", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configFlag := fs.String("config", "", "YAML config file")
	listenFlag := fs.String("listen", "", "Listen address (env: MATHBRIDGE_LISTEN, default: 127.0.0.1:7513)")
	translatorFlag := fs.String("translator", "", "Translator command (env: MATHBRIDGE_TRANSLATOR, default: mathcat_client)")
	logLevelFlag := fs.String("log-level", "", "Log level: debug, info, warning, error")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "Print version and exit")
	fs.Usage = func() {
		printHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if helpVersion.Help {
		fs.Usage()
		return Config{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return Config{ShowVersion: true}, nil
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return Config{
		ConfigPath: strings.TrimSpace(*configFlag),
		Listen:     strings.TrimSpace(*listenFlag),
		Translator: strings.TrimSpace(*translatorFlag),
		LogLevel:   strings.TrimSpace(*logLevelFlag),
	}, nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: mathbridged [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Serve math translations to bridge sessions over a websocket")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	cli.WriteOption(out, "-config FILE", "YAML config file")
	cli.WriteOption(out, "-listen ADDR", "Listen address (default: 127.0.0.1:7513)")
	cli.WriteOption(out, "-translator CMD", "Command run as CMD translate|show with markup on stdin")
	cli.WriteOption(out, "-log-level LEVEL", "debug, info, warning or error")
	cli.WriteOption(out, "-help", "Show this help message")
	cli.WriteOption(out, "-version", "Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Endpoints:")
	fmt.Fprintln(out, "  /         websocket bridge")
	fmt.Fprintln(out, "  /metrics  Prometheus text counters")
	fmt.Fprintln(out, "  /healthz  liveness")
}
