package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath returns the default INI path.
//
// Locations:
//   - Windows: %USERPROFILE%\.config\embedlink\config.ini
//   - Unix: ~/.config/embedlink/config.ini
func DefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.ini"), nil
}

// DefaultEnvPath returns the .env file looked up next to the INI file.
func DefaultEnvPath() string {
	dir, err := configDir()
	if err != nil {
		return ".env"
	}
	return filepath.Join(dir, ".env")
}

func configDir() (string, error) {
	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		return filepath.Join(userProfile, ".config", "embedlink"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "embedlink"), nil
}
