package version

import (
	"runtime/debug"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	stamped := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Main:      debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	tests := []struct {
		name               string
		ver, commit, built string
		bi                 *debug.BuildInfo
		want               string
		wantBuilt, wantGo  string
	}{
		{name: "nothing", want: "dev"},
		{name: "linker values", ver: "1.2.0", commit: "abc", built: "today", bi: stamped, want: "1.2.0 (abc-dirty)", wantBuilt: "today", wantGo: "go1.26.0"},
		{name: "vcs stamp", bi: stamped, want: "dev (0123456789ab-dirty)", wantBuilt: "2026-10-01T10:00:00Z", wantGo: "go1.26.0"},
		{name: "module version", bi: &debug.BuildInfo{Main: debug.Module{Version: "v0.3.1"}}, want: "0.3.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := resolve(tt.ver, tt.commit, tt.built, tt.bi)
			if got := info.String(); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
			if info.BuildTime != tt.wantBuilt {
				t.Fatalf("BuildTime = %q, want %q", info.BuildTime, tt.wantBuilt)
			}
			if info.GoVersion != tt.wantGo {
				t.Fatalf("GoVersion = %q, want %q", info.GoVersion, tt.wantGo)
			}
		})
	}
}

func TestShortCommit(t *testing.T) {
	t.Parallel()
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("short commit changed: %q", got)
	}
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("long commit not cut: %q", got)
	}
}
