//go:build unix && !darwin

package discovery

import (
	"os"
	"path/filepath"
)

func conventionalDirs() []string {
	dirs := []string{
		"/usr/local/bin",
		"/usr/bin",
		"/snap/bin",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, "go", "bin"),
			filepath.Join(home, ".cargo", "bin"),
			filepath.Join(home, ".npm-global", "bin"),
		)
	}
	return dirs
}
