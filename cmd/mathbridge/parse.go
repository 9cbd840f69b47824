package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"mathbridge/internal/cli"
)

type Config struct {
	InputPath   string
	OutputPath  string
	ConfigPath  string
	URL         string
	Kind        string
	LogLevel    string
	Timeout     time.Duration
	Interactive bool
	Watch       bool
	ShowVersion bool
}

func (c Config) fromStdin() bool {
	return c.InputPath == "-"
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("mathbridge", flag.ContinueOnError)
	fs.SetOutput(errOut)
	outputFlag := fs.String("o", "", "Write the translated document to this file (default: stdout)")
	configFlag := fs.String("config", "", "YAML config file")
	urlFlag := fs.String("url", "", "Translation service URL (env: MATHBRIDGE_URL)")
	kindFlag := fs.String("kind", "", "Document kind: html or xml (default: from extension)")
	logLevelFlag := fs.String("log-level", "", "Log level: debug, info, warning, error")
	timeoutFlag := fs.Duration("timeout", 0, "Give up when translation takes longer (0 waits forever)")
	interactiveFlag := fs.Bool("interactive", false, "Read proxy clicks from stdin after translating")
	watchFlag := fs.Bool("watch", false, "Translate again whenever the input file changes")
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

	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		fs.Usage()
		return Config{}, errors.New("input document required")
	}
	cfg := Config{
		InputPath:   strings.TrimSpace(fs.Arg(0)),
		OutputPath:  strings.TrimSpace(*outputFlag),
		ConfigPath:  strings.TrimSpace(*configFlag),
		URL:         strings.TrimSpace(*urlFlag),
		Kind:        strings.TrimSpace(*kindFlag),
		LogLevel:    strings.TrimSpace(*logLevelFlag),
		Timeout:     *timeoutFlag,
		Interactive: *interactiveFlag,
		Watch:       *watchFlag,
	}
	if cfg.Timeout < 0 {
		return Config{}, usageError(errOut, "-timeout must not be negative")
	}
	if cfg.fromStdin() && (cfg.Interactive || cfg.Watch) {
		return Config{}, usageError(errOut, "-interactive and -watch need a file argument, not stdin")
	}
	if cfg.Watch && cfg.OutputPath == cfg.InputPath {
		return Config{}, usageError(errOut, "-watch cannot write over its own input")
	}
	if cfg.Interactive && cfg.Watch {
		return Config{}, usageError(errOut, "-interactive and -watch cannot be combined")
	}
	return cfg, nil
}

func usageError(errOut io.Writer, message string) error {
	fmt.Fprintf(errOut, "mathbridge: %s\n", message)
	return errors.New(message)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: mathbridge [options] <file|->")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Replace every math expression in a document with its spoken translation")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	cli.WriteOption(out, "-o FILE", "Write the translated document to FILE (default: stdout)")
	cli.WriteOption(out, "-config FILE", "YAML config file")
	cli.WriteOption(out, "-url URL", "Translation service URL (env: MATHBRIDGE_URL, default: ws://localhost:7513)")
	cli.WriteOption(out, "-kind KIND", "html or xml (default: from the file extension)")
	cli.WriteOption(out, "-log-level LEVEL", "debug, info, warning or error (env: MATHBRIDGE_LOG_LEVEL)")
	cli.WriteOption(out, "-timeout DUR", "Give up when translation takes longer than DUR")
	cli.WriteOption(out, "-interactive", "After translating, read expression indices or proxy ids from stdin and show them")
	cli.WriteOption(out, "-watch", "Translate again whenever the input file changes")
	cli.WriteOption(out, "-help", "Show this help message")
	cli.WriteOption(out, "-version", "Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  mathbridge lecture.html > lecture.spoken.html")
	fmt.Fprintln(out, "  curl -s https://example.org/paper.xhtml | mathbridge -kind xml -")
	fmt.Fprintln(out, "  mathbridge -interactive -o /dev/null notes.html")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Exit codes:")
	fmt.Fprintln(out, "  0  Success")
	fmt.Fprintln(out, "  1  Usage or configuration error")
	fmt.Fprintln(out, "  2  Document could not be read, parsed or written")
	fmt.Fprintln(out, "  3  Translation service unavailable or closed mid-flight")
}
