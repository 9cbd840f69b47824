// Package version carries build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X mathbridge/internal/version.Version=1.0.0"
package version

import (
	"fmt"
	"strconv"
	"strings"
)

var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Major     int    `json:"major" yaml:"major"`
	Minor     int    `json:"minor" yaml:"minor"`
	Patch     int    `json:"patch" yaml:"patch"`
	Built     string `json:"built" yaml:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty" yaml:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// IsDev reports whether the binary was built without a release version.
func (info VersionInfo) IsDev() bool {
	return info.Version == "" || info.Version == "dev"
}

// Banner renders the one-line version string printed by the binaries.
func (info VersionInfo) Banner(program string) string {
	if info.IsDev() {
		return program + " dev"
	}
	var extra []string
	if info.GitCommit != "" {
		extra = append(extra, "commit "+info.GitCommit)
	}
	if info.Built != "" {
		extra = append(extra, "built "+info.Built)
	}
	if len(extra) == 0 {
		return fmt.Sprintf("%s version %s", program, info.Version)
	}
	return fmt.Sprintf("%s version %s (%s)", program, info.Version, strings.Join(extra, ", "))
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
