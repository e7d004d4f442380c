package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

// TestFlagDefaults verifies the daemon flags exist and default to values that
// defer to the config file.
func TestFlagDefaults(t *testing.T) {
	if devMode == nil || *devMode {
		t.Errorf("expected dev default to be false, got %v", devMode)
	}
	if debugMode == nil || *debugMode {
		t.Errorf("expected debug default to be false, got %v", debugMode)
	}
	for name, f := range map[string]*string{
		"listen": listen,
		"port":   serialPort,
		"db":     dbPath,
		"config": configPath,
	} {
		if f == nil {
			t.Fatalf("%s flag not defined", name)
		}
		if *f != "" {
			t.Errorf("expected %s default to be empty, got %q", name, *f)
		}
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := cfg.GetListenAddr(); got != ":8080" {
		t.Errorf("expected default listen addr :8080, got %q", got)
	}
	if got := cfg.GetBaudRate(); got != 115200 {
		t.Errorf("expected default baud rate 115200, got %d", got)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshmap.json")
	body := `{"listen_addr": ":9000", "database_path": "from-file.db"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	restore := func(f *string, v string) {
		old := *f
		*f = v
		t.Cleanup(func() { *f = old })
	}
	restore(configPath, path)
	restore(listen, ":7070")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := cfg.GetListenAddr(); got != ":7070" {
		t.Errorf("expected flag to win over config file, got %q", got)
	}
	if got := cfg.GetDatabasePath(); got != "from-file.db" {
		t.Errorf("expected database path from file, got %q", got)
	}
}

// TestFlagParsing verifies the flags parse on a separate FlagSet so the
// global flags stay untouched.
func TestFlagParsing(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	dev := fs.Bool("dev", false, "Run with a scripted mock radio")
	addr := fs.String("listen", "", "Listen address")

	if err := fs.Parse([]string{"--dev", "--listen=:9090"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	if !*dev {
		t.Error("expected --dev to parse as true")
	}
	if *addr != ":9090" {
		t.Errorf("expected listen :9090, got %q", *addr)
	}
}
