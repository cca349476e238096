package version

import (
	"regexp"
	"runtime/debug"
)

// Version is the version of dbtyaml. It is set at compile time.
var Version = "master" // changed at compile time

// GetVersion return the version of dbtyaml. The version is set at compile time
// for releases, but if the user gets dbtyaml using `go install`, the build
// info gives a better answer.
func GetVersion() string {
	if reg := regexp.MustCompile(`^v?\d+.\d+.\d+.*|^release-.*`); reg.MatchString(Version) {
		return Version
	}

	// installed with go install
	if v, ok := debug.ReadBuildInfo(); ok {
		return v.Main.Version + "-" + v.GoVersion
	}

	return Version
}
