// Package validation checks user-supplied files before they are used.
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Rule file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// InputFile checks that path exists and is a regular file.
func InputFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("path does not exist: %s", path)
	}
	if err != nil {
		return fmt.Errorf("error checking path %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("path %s is not a regular file", path)
	}
	return nil
}

// RuleFormat derives the rule file format from its extension.
func RuleFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported rule file %s. Supported extensions are .json, .yaml, .yml", path)
	}
}

// FilePermissions rejects modes that give others any access. The accounts
// file links accounts to vault items and should stay private.
func FilePermissions(mode os.FileMode) error {
	if mode.Perm()&0007 != 0 {
		return fmt.Errorf("file permissions are too permissive: %s. Recommended 0600 or 0640", mode.Perm().String())
	}
	return nil
}
