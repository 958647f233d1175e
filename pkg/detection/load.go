package detection

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// CheckModel verifies that the weights file exists and is a regular file.
func CheckModel(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no path configured", ErrModelNotFound)
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelLoad, path)
	}
	return nil
}

// Load checks the weights file and builds the configured backend.
func Load(cfg Config) (Detector, error) {
	if err := CheckModel(cfg.ModelPath); err != nil {
		return nil, err
	}

	var labels Labels
	if cfg.LabelsPath != "" {
		l, err := LoadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		labels = l
	}

	switch cfg.Backend {
	case BackendOpenCV, "":
		return NewYOLO(cfg, labels)
	case BackendONNXRuntime:
		return NewONNX(cfg, labels)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
