package version

import (
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	// we build on "devel" branch
	v := GetVersion()
	if v == "" {
		t.Errorf("Expected version to be set, got %s", v)
	}

	// now, imagine we are on a release branch
	Version = "1.0.0"
	defer func() { Version = "master" }()
	v = GetVersion()
	if !strings.Contains(v, "1.0.0") {
		t.Errorf("Expected version to be set, got %s", v)
	}
}
