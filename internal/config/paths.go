package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// LogDirectory returns the directory used for the default log file.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\run-uploader\logs
//   - Unix: ~/.config/run-uploader/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "run-uploader-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "run-uploader", "logs")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "run-uploader-logs")
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "run-uploader", "logs")
}

// DefaultLogFile is the rotated log used by the watch command when no
// file is configured.
func DefaultLogFile() string {
	return filepath.Join(LogDirectory(), "uploader.log")
}
