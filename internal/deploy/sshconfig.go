package deploy

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HostEntry is the slice of an ssh_config Host block the installer cares
// about: where to connect and which credentials to offer.
type HostEntry struct {
	Host          string
	HostName      string
	User          string
	IdentityFile  string
	IdentityAgent string
	Port          string
}

// LookupHost reads an ssh_config file and returns the entry whose Host line
// exactly matches host. configPath defaults to ~/.ssh/config. A missing file
// or a host with no block returns nil without error. Wildcard patterns are
// not matched; survey hosts are named individually.
func LookupHost(host, configPath string) (*HostEntry, error) {
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		homeDir, _ = os.UserHomeDir()
	}
	if configPath == "" {
		if homeDir == "" {
			return nil, fmt.Errorf("cannot locate ssh config: home directory unknown")
		}
		configPath = filepath.Join(homeDir, ".ssh", "config")
	}

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ssh config: %w", err)
	}
	defer file.Close()

	entry := &HostEntry{Host: host}
	inBlock := false
	found := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		keyword := strings.ToLower(fields[0])
		value := strings.Join(fields[1:], " ")

		if keyword == "host" {
			if inBlock {
				break
			}
			inBlock = fields[1] == host
			found = found || inBlock
			continue
		}
		if !inBlock {
			continue
		}

		switch keyword {
		case "hostname":
			entry.HostName = value
		case "user":
			entry.User = value
		case "port":
			entry.Port = value
		case "identityfile":
			entry.IdentityFile = expandHome(value, homeDir)
		case "identityagent":
			entry.IdentityAgent = expandHome(strings.Trim(value, `"`), homeDir)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ssh config: %w", err)
	}
	if !found {
		return nil, nil
	}
	return entry, nil
}

func expandHome(path, homeDir string) string {
	if strings.HasPrefix(path, "~/") && homeDir != "" {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ResolveSSHTarget turns a user-supplied target into connection details,
// folding in ~/.ssh/config where the command line leaves gaps.
// Returns: hostname, user, keyPath, identityAgent, error.
func ResolveSSHTarget(target, user, keyPath string) (string, string, string, string, error) {
	host := target
	if at := strings.IndexByte(target, '@'); at >= 0 {
		user = target[:at]
		host = target[at+1:]
	}

	entry, err := LookupHost(host, "")
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to parse ssh config: %w", err)
	}
	if entry == nil {
		return host, user, keyPath, "", nil
	}

	if entry.HostName != "" {
		host = entry.HostName
	}
	if user == "" {
		user = entry.User
	}
	if keyPath == "" {
		keyPath = entry.IdentityFile
	}
	return host, user, keyPath, entry.IdentityAgent, nil
}
