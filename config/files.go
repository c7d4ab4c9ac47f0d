package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/twinflow/errors"
)

const (
	maxFileSize  = 1 << 20
	maxNesting   = 32
	maxEnvLength = 4096
)

// readConfigFile reads a JSON or YAML config file no larger than maxFileSize.
func readConfigFile(path string) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit %d", path, info.Size(), maxFileSize)
	}
	return os.ReadFile(path)
}

// writeConfigFile writes data owner-readable only.
func writeConfigFile(path string, data []byte) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if len(data) > maxFileSize {
		return fmt.Errorf("config is %d bytes, limit %d", len(data), maxFileSize)
	}
	return os.WriteFile(path, data, 0o600)
}

func checkPath(path string) error {
	if path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "checkPath", "empty path")
	}
	if strings.Contains(filepath.ToSlash(path), "../") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "checkPath", "path escapes its directory: "+path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "checkPath", "unsupported extension: "+path)
	}
}

// checkNesting rejects JSON documents nested deeper than maxNesting.
func checkNesting(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > maxNesting {
				return fmt.Errorf("nested deeper than %d", maxNesting)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvLength {
		return fmt.Errorf("%s is %d bytes, limit %d", key, len(value), maxEnvLength)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}
