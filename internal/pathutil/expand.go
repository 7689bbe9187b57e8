// Package pathutil expands the path shorthands allowed in workspace
// and policy configuration.
package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and a leading "~" and returns
// the cleaned path. Empty input stays empty.
func Expand(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}

	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := resolveHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if p == "~" {
			p = home
		} else {
			p = filepath.Join(home, strings.TrimPrefix(p, "~/"))
		}
	}

	return filepath.Clean(p), nil
}

// resolveHomeDir tries the usual sources in order. Minimal containers
// sometimes report an unusable HOME like a literal "~".
func resolveHomeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil && usableHome(home) {
		return strings.TrimSpace(home), nil
	}
	if current, err := user.Current(); err == nil && usableHome(current.HomeDir) {
		return strings.TrimSpace(current.HomeDir), nil
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if !usableHome(envHome) {
		return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
	}
	return envHome, nil
}

func usableHome(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "~" && !strings.HasPrefix(s, "~/")
}
