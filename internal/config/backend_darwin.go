//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.quicksettings.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "qsettings")
	}
	return "qsettings-data"
}

// darwinBackend keeps config in UserDefaults through the `defaults` CLI.
type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain}
}

func (b *darwinBackend) Get(key string, typ keyType) (any, bool, error) {
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading default for key '%s': %w, output: %s", key, err, s)
	}
	if typ == kList && strings.HasPrefix(s, "(") {
		v, err := coerce(key, typ, parsePlistArray(s))
		return v, true, err
	}
	v, err := coerce(key, typ, s)
	return v, true, err
}

// parsePlistArray reads the old-style plist array `defaults read` prints:
//
//	(
//	    nfc,
//	    "flash light"
//	)
func parsePlistArray(s string) []string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.Trim(strings.TrimSpace(item), `"`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (b *darwinBackend) Set(key string, val any) error {
	args := []string{"write", b.domain, key}
	switch v := val.(type) {
	case string:
		args = append(args, "-string", v)
	case int:
		args = append(args, "-int", strconv.Itoa(v))
	case bool:
		args = append(args, "-bool", strconv.FormatBool(v))
	case []string:
		args = append(args, "-array")
		args = append(args, v...)
	default:
		return fmt.Errorf("unsupported value type %T for %s", val, key)
	}
	return exec.Command("defaults", args...).Run()
}

func (b *darwinBackend) Delete(key string) error {
	return exec.Command("defaults", "delete", b.domain, key).Run()
}
