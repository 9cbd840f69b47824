// Package cli holds flag helpers shared by the mathbridge binaries.
package cli

import (
	"flag"
	"fmt"
	"io"

	"mathbridge/internal/version"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVar(&flags.Help, "help", false, helpDesc)
	fs.BoolVar(&flags.Help, "h", false, helpDesc)
	fs.BoolVar(&flags.Version, "version", false, versionDesc)
	fs.BoolVar(&flags.Version, "v", false, versionDesc)
	return flags
}

// PrintVersion writes the version banner for program.
func PrintVersion(out io.Writer, program string) {
	fmt.Fprintln(out, version.GetVersionInfo().Banner(program))
}

// WriteOption writes one aligned line of a help screen's option list.
func WriteOption(out io.Writer, name, desc string) {
	fmt.Fprintf(out, "  %-18s %s\n", name, desc)
}
