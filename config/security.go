package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to configuration sources before parsing. Sections
// loaded from KV go through the same size and depth checks as files.
const (
	maxConfigSize = 10 << 20 // bytes, per file or KV section
	maxJSONDepth  = 100
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

// allowedConfigExt lists the file extensions the loaders accept:
// JSON for configuration, YAML for priority rules.
var allowedConfigExt = map[string]bool{
	".json":  true,
	".json5": true,
	".yaml":  true,
	".yml":   true,
}

// checkConfigPath rejects paths that are empty, oversized, of an
// unsupported type, or that resolve outside the working directory.
// Absolute paths are allowed as-is so operators can point at
// /etc/pjstream and mounted config volumes.
func checkConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("config path is %d bytes, limit is %d", len(path), maxPathLen)
	}

	if ext := strings.ToLower(filepath.Ext(path)); !allowedConfigExt[ext] {
		return fmt.Errorf("unsupported config file type %q, want JSON or YAML", ext)
	}

	if filepath.IsAbs(path) {
		return nil
	}

	// Relative paths must stay inside the working directory once
	// ".." segments are resolved.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path %s: %w", path, err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("config path %s escapes the working directory", path)
	}
	return nil
}

// readConfigFile loads a config file after path, type, and size checks.
func readConfigFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("config path %s is not a regular file", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return data, nil
}

// writeConfigFile persists config data with owner-only permissions.
func writeConfigFile(path string, data []byte) error {
	if err := checkConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("config data is %d bytes, limit is %d", len(data), maxConfigSize)
	}
	return os.WriteFile(path, data, 0600)
}

// checkEnvValue bounds environment overrides. Empty values are fine,
// the caller treats them as unset.
func checkEnvValue(key, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s is %d bytes, limit is %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("environment variable %s contains a null byte", key)
	}
	return nil
}

// checkJSONDepth walks the raw bytes and rejects documents nested
// deeper than maxJSONDepth before they ever reach the decoder. It also
// catches unbalanced brackets, which the section loader relies on to
// refuse truncated KV values.
func checkJSONDepth(data []byte) error {
	var depth int
	var inString, escaped bool

	for _, b := range data {
		switch {
		case escaped:
			escaped = false
		case inString:
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{' || b == '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nested deeper than %d levels", maxJSONDepth)
			}
		case b == '}' || b == ']':
			depth--
			if depth < 0 {
				return errors.New("unbalanced JSON brackets")
			}
		}
	}

	if inString {
		return errors.New("unterminated JSON string")
	}
	if depth != 0 {
		return fmt.Errorf("unclosed JSON brackets at depth %d", depth)
	}
	return nil
}
