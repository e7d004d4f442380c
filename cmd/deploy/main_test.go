package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/meshfield/meshmap/internal/testutil"
)

func TestServiceUnitContent(t *testing.T) {
	for _, want := range []string{
		"ExecStart=" + installPath,
		"User=" + serviceUser,
		"SupplementaryGroups=dialout",
		"WorkingDirectory=" + dataDir,
	} {
		if !strings.Contains(serviceContent, want) {
			t.Errorf("service unit missing %q", want)
		}
	}
}

func TestInstallDryRun(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	binary := filepath.Join(t.TempDir(), "meshmapd")
	err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755)
	testutil.AssertNoError(t, err)

	err = handleInstall([]string{"--binary", binary, "--dry-run"})
	testutil.AssertNoError(t, err)
}

func TestInstallMissingBinary(t *testing.T) {
	err := handleInstall([]string{
		"--binary", filepath.Join(t.TempDir(), "nope"),
		"--dry-run",
	})
	testutil.AssertError(t, err)
	if !strings.Contains(err.Error(), "binary not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUninstallDryRunKeepsData(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	err := handleUninstall([]string{"--dry-run"})
	testutil.AssertNoError(t, err)
}
