// Package rulefile keeps the rule text in a file under the user's config
// directory and reloads it when the file changes.
package rulefile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/opensource-finance/findex/internal/domain"
)

const (
	dirName  = "findex"
	fileName = "findex.config"
)

// DefaultPath returns $XDG_CONFIG_HOME/findex/findex.config.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, dirName, fileName)
}

// Resolve returns override when set, otherwise DefaultPath.
func Resolve(override string) string {
	if override != "" {
		return override
	}
	return DefaultPath()
}

// Load reads the rule text at path. When the file does not exist the default
// template is written there and returned, and created is true.
func Load(path string) (text string, created bool, err error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", false, fmt.Errorf("read rule file: %w", err)
	}

	if err := Save(path, domain.DefaultRulesText); err != nil {
		return "", false, err
	}
	return domain.DefaultRulesText, true, nil
}

// Save writes text to path exactly as given. The file is replaced atomically.
func Save(path, text string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rule directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp rule file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write rule file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rule file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace rule file: %w", err)
	}
	return nil
}
