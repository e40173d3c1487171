// Package version reports the build identity of the running binary. The
// string appears in the startup log line, the /health payload, and the
// generator block of signed compliance reports.
package version

import (
	"runtime/debug"
	"sync"
)

// AppName names the binary in version strings.
const AppName = "agentlens"

// commit can be injected for builds without VCS metadata (containers, source
// tarballs):
//
//	-ldflags "-X github.com/agentlens/agentlens/pkg/version.commit=<sha>"
var commit string

const shortRevLen = 8

// Commit returns the short revision the binary was built from, falling back
// to the module build info and finally to "dev" under `go test` or non-git
// builds.
var Commit = sync.OnceValue(func() string {
	if commit != "" {
		return shortRev(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shortRev(s.Value)
			}
		}
	}
	return "dev"
})

func shortRev(rev string) string {
	if len(rev) > shortRevLen {
		return rev[:shortRevLen]
	}
	return rev
}

// Full returns "agentlens/<commit>".
func Full() string {
	return AppName + "/" + Commit()
}
