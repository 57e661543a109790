// Package version reports the build identity. Release builds stamp the
// variables below with -ldflags; other builds fall back to what the Go
// toolchain embedded in the binary.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func Get() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = info.fill(bi)
	}
	return info
}

// fill replaces unstamped fields with module and VCS data from bi.
func (i Info) fill(bi *debug.BuildInfo) Info {
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	var rev, at string
	var dirty bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.time":
			at = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if i.Commit == "none" && rev != "" {
		if len(rev) > 12 {
			rev = rev[:12]
		}
		if dirty {
			rev += "-dirty"
		}
		i.Commit = rev
	}
	if i.Date == "unknown" && at != "" {
		i.Date = at
	}
	return i
}

func (i Info) String() string {
	return fmt.Sprintf("tutorflow %s (commit: %s, built: %s)", i.Version, i.Commit, i.Date)
}

// UserAgent identifies outbound oracle requests.
func (i Info) UserAgent() string { return "tutorflow/" + i.Version }
