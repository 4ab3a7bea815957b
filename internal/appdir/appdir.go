package appdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Resolve returns the per-user data directory for the application identified by appID.
// If override is set it is returned as-is.
func Resolve(appID, override string) (string, error) {
	if override != "" {
		return filepath.Abs(override)
	}
	if appID == "" {
		return "", errors.New("empty application identifier")
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(base, appID), nil
}
