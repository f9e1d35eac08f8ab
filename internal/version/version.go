// Package version reports the build version injected with -ldflags.
package version

import "fmt"

var (
	// Release is the release version, e.g. "v1.0.0".
	Release = "dev"
	// GitCommit is the short git commit hash.
	GitCommit = "unknown"
)

// GetRelease returns the release version.
func GetRelease() string {
	return Release
}

// GetGitCommit returns the git commit hash.
func GetGitCommit() string {
	return GitCommit
}

// UserAgent identifies flattrace to execution nodes, e.g. "flattrace/v1.0.0-abc1234".
func UserAgent() string {
	return fmt.Sprintf("flattrace/%s-%s", Release, GitCommit)
}
