package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "dev", Build: "abc"}
	if got := v.String(); got != "Version: 1.2.3-dev\nBuild: abc" {
		t.Fatalf("unexpected version string %q", got)
	}
	if !strings.HasPrefix(KmemVersion.String(), "Version: 0.3.0\n") {
		t.Fatalf("unexpected version string %q", KmemVersion.String())
	}
}
