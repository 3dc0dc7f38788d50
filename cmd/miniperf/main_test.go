//go:build linux

package main

import (
	"runtime"
	"testing"
)

func TestGoarchToProfileArch(t *testing.T) {
	cases := map[string]string{
		"amd64":   "x86_64",
		"arm64":   "aarch64",
		"riscv64": "riscv64",
		"386":     "386",
	}
	for goarch, want := range cases {
		if got := goarchToProfileArch(goarch); got != want {
			t.Errorf("goarchToProfileArch(%q) = %q, want %q", goarch, got, want)
		}
	}
}

func TestResolveProfileAutoMatchesHostGeneric(t *testing.T) {
	p, err := resolveProfile("auto")
	if err != nil {
		t.Fatalf("resolveProfile(auto): %v", err)
	}
	if p == nil {
		t.Fatal("resolveProfile(auto) returned a nil profile")
	}
	if p.Vendor != "generic" || p.Arch != goarchToProfileArch(runtime.GOARCH) {
		t.Errorf("resolveProfile(auto) = %s (%s/%s), want the generic profile for %s", p.FamilyID, p.Vendor, p.Arch, runtime.GOARCH)
	}
}

func TestResolveProfileExplicitFamily(t *testing.T) {
	p, err := resolveProfile("generic_x86_64")
	if err != nil {
		t.Fatalf("resolveProfile(generic_x86_64): %v", err)
	}
	if p.FamilyID != "generic_x86_64" {
		t.Errorf("FamilyID = %q, want generic_x86_64", p.FamilyID)
	}
}

func TestResolveProfileUnknownFamilyErrors(t *testing.T) {
	if _, err := resolveProfile("does_not_exist"); err == nil {
		t.Fatal("expected an error for an unknown family_id")
	}
}

func TestDefaultIPCSocketPath(t *testing.T) {
	got := defaultIPCSocketPath("/tmp/session-1")
	want := "/tmp/session-1/roofline.sock"
	if got != want {
		t.Errorf("defaultIPCSocketPath = %q, want %q", got, want)
	}
}

func TestNewRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"stat", "record", "show", "mcp"} {
		if !names[want] {
			t.Errorf("root command missing subcommand %q", want)
		}
	}
}
