package config

import (
	"errors"
	"fmt"
	"os"
)

// DotEnvFile is loaded from the working directory before the HARK_* overlay.
var DotEnvFile = ".env"

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves and reads the config file, overlays the environment, and
// validates the result.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default()}

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		cfg, warnings, err := decode(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		loaded.Config = cfg
		loaded.Warnings = append(loaded.Warnings, warnings...)
		loaded.Exists = true
	}

	if err := loadDotEnv(DotEnvFile); err != nil {
		return Loaded{}, err
	}
	if err := applyEnv(&loaded.Config); err != nil {
		return Loaded{}, err
	}

	cfg, warnings, err := Validate(loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("invalid config %q: %w", resolvedPath, err)
	}
	loaded.Config = cfg
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}
