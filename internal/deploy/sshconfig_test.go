package deploy

import (
	"os"
	"path/filepath"
	"testing"
)

// writeSSHConfig drops an ssh_config under a fake HOME and points the
// process at it.
func writeSSHConfig(t *testing.T, content string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	if content != "" {
		sshDir := filepath.Join(home, ".ssh")
		if err := os.MkdirAll(sshDir, 0700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(sshDir, "config"), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	return home
}

func TestLookupHostMissingFile(t *testing.T) {
	writeSSHConfig(t, "")

	entry, err := LookupHost("pi-field-1", "")
	if err != nil {
		t.Fatalf("LookupHost() error: %v", err)
	}
	if entry != nil {
		t.Errorf("entry = %+v, want nil for a missing config", entry)
	}
}

func TestLookupHostNoMatchingBlock(t *testing.T) {
	writeSSHConfig(t, `Host other-host
	HostName other.example.com
`)

	entry, err := LookupHost("pi-field-1", "")
	if err != nil {
		t.Fatalf("LookupHost() error: %v", err)
	}
	if entry != nil {
		t.Errorf("entry = %+v, want nil when no block matches", entry)
	}
}

func TestLookupHostBasicFields(t *testing.T) {
	writeSSHConfig(t, `# survey hosts
Host pi-field-1
	# rooftop unit
	HostName 10.20.0.5

	User pi
	Port 2222
`)

	entry, err := LookupHost("pi-field-1", "")
	if err != nil {
		t.Fatalf("LookupHost() error: %v", err)
	}
	if entry == nil {
		t.Fatal("entry is nil")
	}
	if entry.HostName != "10.20.0.5" || entry.User != "pi" || entry.Port != "2222" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestLookupHostExpandsHomePaths(t *testing.T) {
	home := writeSSHConfig(t, `Host pi-field-1
	IdentityFile ~/.ssh/survey_key
	IdentityAgent "~/agent.sock"
`)

	entry, err := LookupHost("pi-field-1", "")
	if err != nil {
		t.Fatalf("LookupHost() error: %v", err)
	}
	if want := filepath.Join(home, ".ssh", "survey_key"); entry.IdentityFile != want {
		t.Errorf("IdentityFile = %s, want %s", entry.IdentityFile, want)
	}
	if want := filepath.Join(home, "agent.sock"); entry.IdentityAgent != want {
		t.Errorf("IdentityAgent = %s, want %s", entry.IdentityAgent, want)
	}
}

func TestLookupHostStopsAtNextBlock(t *testing.T) {
	writeSSHConfig(t, `Host pi-field-1
	HostName 10.20.0.5
	User pi

Host pi-field-2
	HostName 10.20.0.6
	User admin
`)

	for _, tc := range []struct {
		host string
		addr string
		user string
	}{
		{"pi-field-1", "10.20.0.5", "pi"},
		{"pi-field-2", "10.20.0.6", "admin"},
	} {
		entry, err := LookupHost(tc.host, "")
		if err != nil {
			t.Fatalf("LookupHost(%s) error: %v", tc.host, err)
		}
		if entry.HostName != tc.addr || entry.User != tc.user {
			t.Errorf("LookupHost(%s) = %+v", tc.host, entry)
		}
	}
}

func TestLookupHostExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_config")
	content := `Host pi-field-1
	HostName custom.example.com
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	entry, err := LookupHost("pi-field-1", path)
	if err != nil {
		t.Fatalf("LookupHost() error: %v", err)
	}
	if entry == nil || entry.HostName != "custom.example.com" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestResolveSSHTargetWithoutConfig(t *testing.T) {
	writeSSHConfig(t, "")

	host, user, key, agent, err := ResolveSSHTarget("10.20.0.5", "pi", "/keys/survey")
	if err != nil {
		t.Fatalf("ResolveSSHTarget() error: %v", err)
	}
	if host != "10.20.0.5" || user != "pi" || key != "/keys/survey" || agent != "" {
		t.Errorf("resolved %s %s %s %s", host, user, key, agent)
	}
}

func TestResolveSSHTargetSplitsUserAtSign(t *testing.T) {
	writeSSHConfig(t, "")

	host, user, _, _, err := ResolveSSHTarget("pi@10.20.0.5", "", "")
	if err != nil {
		t.Fatalf("ResolveSSHTarget() error: %v", err)
	}
	if host != "10.20.0.5" || user != "pi" {
		t.Errorf("resolved host=%s user=%s", host, user)
	}
}

func TestResolveSSHTargetFillsFromConfig(t *testing.T) {
	home := writeSSHConfig(t, `Host pi-field-1
	HostName 10.20.0.5
	User pi
	IdentityFile ~/.ssh/survey_key
	IdentityAgent ~/agent.sock
`)

	host, user, key, agent, err := ResolveSSHTarget("pi-field-1", "", "")
	if err != nil {
		t.Fatalf("ResolveSSHTarget() error: %v", err)
	}
	if host != "10.20.0.5" || user != "pi" {
		t.Errorf("resolved host=%s user=%s", host, user)
	}
	if want := filepath.Join(home, ".ssh", "survey_key"); key != want {
		t.Errorf("key = %s, want %s", key, want)
	}
	if want := filepath.Join(home, "agent.sock"); agent != want {
		t.Errorf("agent = %s, want %s", agent, want)
	}
}

func TestResolveSSHTargetFlagsBeatConfig(t *testing.T) {
	writeSSHConfig(t, `Host pi-field-1
	HostName 10.20.0.5
	User pi
	IdentityFile ~/.ssh/survey_key
`)

	host, user, key, _, err := ResolveSSHTarget("pi-field-1", "admin", "/cli/key")
	if err != nil {
		t.Fatalf("ResolveSSHTarget() error: %v", err)
	}
	if host != "10.20.0.5" {
		t.Errorf("host = %s, want 10.20.0.5", host)
	}
	if user != "admin" || key != "/cli/key" {
		t.Errorf("user = %s, key = %s; flags should win", user, key)
	}
}
