//go:build windows

package discovery

import (
	"os"
	"path/filepath"
)

func conventionalDirs() []string {
	var dirs []string
	if programFiles := os.Getenv("ProgramFiles"); programFiles != "" {
		dirs = append(dirs, programFiles)
	}
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		dirs = append(dirs, filepath.Join(localAppData, "Programs"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, "go", "bin"),
			filepath.Join(home, ".cargo", "bin"),
			filepath.Join(home, "AppData", "Roaming", "npm"),
		)
	}
	return dirs
}
