// meshmap-deploy installs and manages the meshmapd service on a Raspberry Pi
// over SSH. A localhost target runs everything directly.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/meshfield/meshmap/internal/deploy"
	"github.com/meshfield/meshmap/internal/version"
)

const (
	serviceName    = "meshmapd"
	installPath    = "/usr/local/bin/meshmapd"
	dataDir        = "/var/lib/meshmapd"
	serviceUser    = "meshmap"
	serviceContent = `[Unit]
Description=Mesh coverage mapping daemon
After=network.target

[Service]
User=meshmap
Group=meshmap
Type=simple
ExecStart=/usr/local/bin/meshmapd --db /var/lib/meshmapd/meshmap.db --config /var/lib/meshmapd/meshmap.json
WorkingDirectory=/var/lib/meshmapd
Restart=on-failure
RestartSec=5
SupplementaryGroups=dialout
StandardOutput=journal
StandardError=journal
SyslogIdentifier=meshmapd

[Install]
WantedBy=multi-user.target
`
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "install":
		err = handleInstall(args)
	case "status":
		err = handleStatus(args)
	case "backup":
		err = handleBackup(args)
	case "uninstall":
		err = handleUninstall(args)
	case "version":
		fmt.Printf("meshmap-deploy version %s (%s)\n", version.Version, version.GitSHA)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`meshmap-deploy - Deployment manager for meshmapd

Usage: meshmap-deploy <command> [options]

Commands:
  install    Install the meshmapd service on a host
  status     Check the service and survey database
  backup     Copy the survey database off the host
  uninstall  Stop and remove the service
  version    Show meshmap-deploy version
  help       Show this help message

Common Flags:
  --target <host>      Target host (default: localhost)
                       Can be a hostname, IP, or SSH config host alias
  --ssh-user <user>    SSH user for remote deployment
  --ssh-key <path>     SSH private key path
  --dry-run            Show what would be done without executing`)
}

// sshFlags registers the flags shared by every command and returns a
// constructor for the resolved executor.
func sshFlags(fs *flag.FlagSet) func() (*deploy.Executor, error) {
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user")
	sshKey := fs.String("ssh-key", "", "SSH private key path")
	dryRun := fs.Bool("dry-run", false, "Show what would be done without executing")

	return func() (*deploy.Executor, error) {
		host, user, key, agent, err := deploy.ResolveSSHTarget(*target, *sshUser, *sshKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve target %q: %w", *target, err)
		}
		return deploy.NewExecutor(host, user, key, agent, *dryRun), nil
	}
}

func handleInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	binary := fs.String("binary", "./meshmapd", "Path to the meshmapd binary to install")
	executor := sshFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*binary); err != nil {
		return fmt.Errorf("meshmapd binary not found at %s: %w", *binary, err)
	}

	exec, err := executor()
	if err != nil {
		return err
	}

	fmt.Printf("Installing %s on %s...\n", serviceName, exec.Target)

	steps := []struct {
		desc string
		run  func() error
	}{
		{"create service user", func() error {
			_, err := exec.RunSudo(fmt.Sprintf(
				"id -u %s >/dev/null 2>&1 || useradd --system --home %s --shell /usr/sbin/nologin %s",
				serviceUser, dataDir, serviceUser))
			return err
		}},
		{"create data directory", func() error {
			if _, err := exec.RunSudo("mkdir -p " + dataDir); err != nil {
				return err
			}
			_, err := exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, dataDir))
			return err
		}},
		{"copy binary", func() error {
			if err := exec.CopyFile(*binary, installPath); err != nil {
				return err
			}
			_, err := exec.RunSudo("chmod 755 " + installPath)
			return err
		}},
		{"write service unit", func() error {
			return exec.WriteFile("/etc/systemd/system/"+serviceName+".service", serviceContent)
		}},
		{"enable and start service", func() error {
			if _, err := exec.RunSudo("systemctl daemon-reload"); err != nil {
				return err
			}
			_, err := exec.RunSudo("systemctl enable --now " + serviceName)
			return err
		}},
	}

	for _, step := range steps {
		fmt.Printf("  %s\n", step.desc)
		if err := step.run(); err != nil {
			return fmt.Errorf("%s failed: %w", step.desc, err)
		}
	}

	fmt.Println("Installation complete")
	return nil
}

func handleStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	executor := sshFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	exec, err := executor()
	if err != nil {
		return err
	}

	state, err := exec.Run("systemctl is-active " + serviceName)
	if err != nil {
		fmt.Printf("Service: not running (%s)\n", state)
	} else {
		fmt.Printf("Service: %s\n", state)
	}

	if size, err := exec.Run(fmt.Sprintf("du -h %s/meshmap.db 2>/dev/null | cut -f1", dataDir)); err == nil && size != "" {
		fmt.Printf("Database: %s\n", size)
	} else {
		fmt.Println("Database: not found")
	}
	return nil
}

func handleBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	out := fs.String("out", "meshmap-backup.db", "Local path for the database copy")
	executor := sshFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	exec, err := executor()
	if err != nil {
		return err
	}

	// VACUUM INTO produces a consistent snapshot while the daemon keeps
	// writing to the live database.
	snapshot := dataDir + "/backup.db"
	if _, err := exec.RunSudo(fmt.Sprintf(
		`sqlite3 %s/meshmap.db "VACUUM INTO '%s'"`, dataDir, snapshot)); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	if exec.IsLocal() {
		defer exec.RunSudo("rm -f " + snapshot)
		if _, err := exec.RunSudo(fmt.Sprintf("cp %s %s", snapshot, *out)); err != nil {
			return fmt.Errorf("backup copy failed: %w", err)
		}
		fmt.Printf("Backup written to %s\n", *out)
		return nil
	}

	// Remote snapshots stay on the host; scp them down at leisure.
	fmt.Printf("Snapshot written to %s:%s\n", exec.Target, snapshot)
	return nil
}

func handleUninstall(args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ExitOnError)
	keepData := fs.Bool("keep-data", true, "Keep the survey database and config")
	executor := sshFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	exec, err := executor()
	if err != nil {
		return err
	}

	fmt.Printf("Removing %s from %s...\n", serviceName, exec.Target)
	exec.RunSudo("systemctl disable --now " + serviceName)
	exec.RunSudo("rm -f /etc/systemd/system/" + serviceName + ".service")
	exec.RunSudo("systemctl daemon-reload")
	exec.RunSudo("rm -f " + installPath)
	if !*keepData {
		if _, err := exec.RunSudo("rm -rf " + dataDir); err != nil {
			return err
		}
	}
	fmt.Println("Uninstall complete")
	return nil
}
