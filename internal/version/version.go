// Package version holds build metadata injected with -ldflags and a
// per-process instance identifier.
package version

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// Set via: -ldflags "-X tokengate/internal/version.Version=... -X ...BuildDate=... -X ...GitCommit=..."
var (
	Version   = "unknown"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info is the build metadata plus runtime identity of this process.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process Info. The instance ID is generated on the
// first call and stays fixed for the life of the process.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			GoVersion:  runtime.Version(),
			InstanceID: uuid.New().String(),
			Hostname:   getHostname(),
		}
	})
	return info
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}

func (i Info) String() string {
	return fmt.Sprintf("tokengate version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent identifies a tokengate component in outgoing requests, e.g.
// "tokengate-healthcheck/1.2.3".
func (i Info) UserAgent(component string) string {
	name := "tokengate"
	if component != "" {
		name += "-" + component
	}
	return name + "/" + i.Version
}
