package version

import (
	"runtime/debug"
	"testing"
)

func TestVCSDirtyTriState(t *testing.T) {
	t.Cleanup(func() { VCSDirty = nil })

	VCSDirty = nil
	var i Info
	i.apply(nil)
	if i.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", i.VCSDirty)
	}

	i.apply([]debug.BuildSetting{{Key: "vcs.modified", Value: "true"}})
	if i.VCSDirty == nil || !*i.VCSDirty {
		t.Fatalf("VCSDirty = %v, want true", i.VCSDirty)
	}
	i.apply([]debug.BuildSetting{{Key: "vcs.modified", Value: "false"}})
	if i.VCSDirty == nil || *i.VCSDirty {
		t.Fatalf("VCSDirty = %v, want false", i.VCSDirty)
	}
}

func TestApply_LdflagsWin(t *testing.T) {
	i := Info{Commit: "abc123", BuildDate: "2026-10-01T00:00:00Z"}
	i.apply([]debug.BuildSetting{
		{Key: "vcs.revision", Value: "fffffff"},
		{Key: "vcs.time", Value: "2026-10-16T12:00:00Z"},
	})
	if i.Commit != "abc123" || i.BuildDate != "2026-10-01T00:00:00Z" {
		t.Fatalf("ldflags overwritten: %+v", i)
	}
	if i.CommitDate != "2026-10-16T12:00:00Z" {
		t.Fatalf("CommitDate = %q", i.CommitDate)
	}

	j := Info{Commit: "none"}
	j.apply([]debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}})
	if j.Commit != "0123456789abcdef" {
		t.Fatalf("Commit = %q", j.Commit)
	}
	if got := (Info{Version: "v1.2.0", Commit: j.Commit}).Short(); got != "v1.2.0 (0123456789ab)" {
		t.Fatalf("Short = %q", got)
	}
}

func TestGet_UsesVars(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "v9.9.9"
	if got := Get().Version; got != "v9.9.9" {
		t.Fatalf("Version = %q", got)
	}
}
