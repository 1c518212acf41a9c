package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestCurrent_Defaults(t *testing.T) {
	oldVersion := AppVersion
	oldCommit := GitCommit
	oldBuildTime := BuildTime
	t.Cleanup(func() {
		AppVersion = oldVersion
		GitCommit = oldCommit
		BuildTime = oldBuildTime
	})

	AppVersion = ""
	GitCommit = " "
	BuildTime = ""

	info := Current()

	if info.Product != Product {
		t.Fatalf("expected product %q, got %q", Product, info.Product)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.Commit != Unknown {
		t.Fatalf("expected commit %q, got %q", Unknown, info.Commit)
	}
	if info.BuildTime != Unknown {
		t.Fatalf("expected build_time %q, got %q", Unknown, info.BuildTime)
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestUserAgent(t *testing.T) {
	oldVersion := AppVersion
	t.Cleanup(func() { AppVersion = oldVersion })
	AppVersion = "v1.4.0"

	ua := UserAgent()
	if !strings.HasPrefix(ua, "orchestra-go/v1.4.0 (") {
		t.Fatalf("unexpected user agent %q", ua)
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Product: Product, Version: "v1.0.0", Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"}
	expected := "orchestra-go@v1.0.0 (commit=abc123, build_time=2026-01-01T00:00:00Z)"
	if got := info.String(); got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}
