// Package dotenv loads KEY=VALUE files into the process environment. Both the
// broker and the advisor CLI read OPENAI_API_KEY and friends from .env.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry is one parsed assignment, in file order.
type Entry struct {
	Key   string
	Value string
}

// Parse reads dotenv syntax: blank lines and # comments are skipped, an
// optional "export " prefix is allowed, and values may be single or double
// quoted. Unquoted values lose trailing " # comment" text.
func Parse(r io.Reader) ([]Entry, error) {
	var out []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimPrefix(line, "export ")
		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out = append(out, Entry{Key: key, Value: parseValue(strings.TrimSpace(raw))})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseValue(val string) string {
	if len(val) >= 2 {
		switch {
		case strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`):
			return strings.ReplaceAll(val[1:len(val)-1], `\n`, "\n")
		case strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'"):
			return val[1 : len(val)-1]
		}
	}
	if i := strings.Index(val, " #"); i >= 0 {
		val = strings.TrimSpace(val[:i])
	}
	return val
}

// LoadFile loads a dotenv-style file into the process environment. A missing
// file is not an error. Existing environment variables are preserved.
func LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	entries, err := Parse(file)
	if err != nil {
		return fmt.Errorf("scan env file %q: %w", path, err)
	}
	for _, e := range entries {
		if _, exists := os.LookupEnv(e.Key); exists {
			continue
		}
		if err := os.Setenv(e.Key, e.Value); err != nil {
			return fmt.Errorf("set env %q from %q: %w", e.Key, path, err)
		}
	}
	return nil
}

// LoadFiles loads each path in order. Earlier files win because later ones
// never overwrite a variable that is already set.
func LoadFiles(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := LoadFile(p); err != nil {
			return err
		}
	}
	return nil
}
