// Package version reports build metadata injected with -ldflags.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/smazurov/browsercast/internal/version.Version=..."
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
	BuildID   = "unknown"
)

// Info is the build metadata served by the API.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

// Get returns the build metadata. Commit and date fall back to the VCS
// stamp of `go build` when ldflags did not set them.
func Get() Info {
	commit, date := GitCommit, BuildDate
	if commit == "" || date == "" {
		vcsCommit, vcsDate := vcsStamp()
		if commit == "" {
			commit = vcsCommit
		}
		if date == "" {
			date = vcsDate
		}
	}
	return Info{
		Version:   Version,
		GitCommit: or(commit, "unknown"),
		BuildDate: or(date, "unknown"),
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns the application version.
func String() string {
	return Version
}

// UserAgent suffix appended to the browser's user agent.
func UserAgent() string {
	return "browsercast/" + Version
}

func vcsStamp() (commit, date string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.time":
			date = s.Value
		}
	}
	return commit, date
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
