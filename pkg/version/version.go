// Package version reports how the pdfrag binary was built.
//
// Release builds stamp the variables through ldflags:
//
//	go build -ldflags "-X github.com/Aman-CERP/pdfrag/pkg/version.Version=v0.3.0 \
//	  -X github.com/Aman-CERP/pdfrag/pkg/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/Aman-CERP/pdfrag/pkg/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Program is the binary name used in version strings and the HTTP
// User-Agent.
const Program = "pdfrag"

// Stamped at build time. Unstamped builds report "dev" and "unknown".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is the JSON shape of `pdfrag version --json`.
type BuildInfo struct {
	Program   string `json:"program"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns the build information of the running binary.
func GetInfo() BuildInfo {
	return BuildInfo{
		Program:   Program,
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// String is the one-line form printed by `pdfrag version`.
func String() string {
	i := GetInfo()
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s, %s/%s)",
		i.Program, i.Version, i.Commit, i.Date, i.GoVersion, i.OS, i.Arch)
}

// Short returns just the version.
func Short() string {
	return Version
}

// IsDev reports whether the binary was built without a stamped version.
func IsDev() bool {
	return Version == "" || Version == "dev"
}

// UserAgent identifies pdfrag to the HTTP services it calls.
func UserAgent() string {
	return Program + "/" + strings.TrimPrefix(Version, "v") + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
