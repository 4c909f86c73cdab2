package utils

import (
	"fmt"
	"os"
	"path/filepath"

	coreconfig "github.com/CYM-Peru/Bot-AI-V1-sub006/core/config"
)

// EnsureStorageDirectories creates the base directory layout on startup
func EnsureStorageDirectories() error {
	dirs := []string{
		coreconfig.Global.Paths.Storages,
		coreconfig.Global.Paths.SendItems,
		filepath.Join(coreconfig.Global.Paths.Statics, "uploads"),
		filepath.Join(coreconfig.Global.Paths.Statics, "media", "thumbnails"),
		filepath.Join(coreconfig.Global.Paths.Statics, "catalogs"),
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}
