// Package envfile loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set.
package envfile

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath returns $WXO_ENV_FILE or ".env".
func DefaultPath() string {
	if path := os.Getenv("WXO_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

// Load reads path. A missing file is not an error.
func Load(path string, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// PEM keys pasted on one line can be long.
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			logger.Warn("invalid env line", "line", lineNum, "file", filepath.Base(path))
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if key == "" {
			continue
		}
		if _, present := os.LookupEnv(key); present {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			logger.Warn("set env failed", "key", key, "error", err)
		}
	}
	return scanner.Err()
}

// unquote strips one matching pair of surrounding single or double quotes.
func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '"' || first == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// Get returns the variable or def when unset or empty.
func Get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
