// Package version holds build-time version information for the postsearch
// binary, injected via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/postsearch-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/postsearch-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/postsearch-go/internal/version.BuildDate=2026-01-01"
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String renders the version line printed by `postsearch version` and sent
// as the User-Agent of outbound push and keep-alive requests.
func String() string {
	return fmt.Sprintf("postsearch %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// UserAgent returns the compact User-Agent token for outbound HTTP calls.
func UserAgent() string {
	return "postsearch/" + Version
}
