package version

import "fmt"

// Set at link time:
// -X 'github.com/compozy/policychat/pkg/version.Version=v1.0.0'
// -X 'github.com/compozy/policychat/pkg/version.CommitHash=abc123'
// -X 'github.com/compozy/policychat/pkg/version.BuildDate=2024-01-01T00:00:00Z'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// Info is the build metadata reported by the CLI and the API root.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
}

func Get() Info {
	return Info{Version: Version, CommitHash: CommitHash, BuildDate: BuildDate}
}

// GetVersion returns just the version string
func GetVersion() string {
	return Version
}

// String renders the version line printed by --version.
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildDate)
}
