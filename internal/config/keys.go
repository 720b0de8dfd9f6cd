package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "QSETTINGS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "QSETTINGS_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "QSETTINGS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.history_keep", typ: kInt, env: "QSETTINGS_STORAGE_HISTORY_KEEP",
		apply:   func(cfg *Config, v any) { cfg.Storage.HistoryKeep = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.HistoryKeep },
	},
	{
		key: "log.level", typ: kString, env: "QSETTINGS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "tray.items", typ: kList, env: "QSETTINGS_TRAY_ITEMS",
		apply:   func(cfg *Config, v any) { cfg.Tray.Items = v.([]string) },
		extract: func(cfg Config) any { return cfg.Tray.Items },
	},
	{
		key: "tray.columns", typ: kInt, env: "QSETTINGS_TRAY_COLUMNS",
		apply:   func(cfg *Config, v any) { cfg.Tray.Columns = v.(int) },
		extract: func(cfg Config) any { return cfg.Tray.Columns },
	},
	{
		key: "host.activity_url", typ: kString, env: "QSETTINGS_HOST_ACTIVITY_URL",
		apply:   func(cfg *Config, v any) { cfg.Host.ActivityURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Host.ActivityURL },
	},
	{
		key: "host.leds_dir", typ: kString, env: "QSETTINGS_HOST_LEDS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Host.LEDsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Host.LEDsDir },
	},
	{
		key: "settings.defaults_file", typ: kString, env: "QSETTINGS_SETTINGS_DEFAULTS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Settings.DefaultsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Settings.DefaultsFile },
	},
	{
		key: "settings.seed_overwrite", typ: kBool, env: "QSETTINGS_SETTINGS_SEED_OVERWRITE",
		apply:   func(cfg *Config, v any) { cfg.Settings.SeedOverwrite = v.(bool) },
		extract: func(cfg Config) any { return cfg.Settings.SeedOverwrite },
	},
	{
		key: "settings.read_only", typ: kList, env: "QSETTINGS_SETTINGS_READ_ONLY",
		apply:   func(cfg *Config, v any) { cfg.Settings.ReadOnly = v.([]string) },
		extract: func(cfg Config) any { return cfg.Settings.ReadOnly },
	},
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func formatValue(v any) string {
	if list, ok := v.([]string); ok {
		return strings.Join(list, ",")
	}
	return fmt.Sprintf("%v", v)
}

// parseRaw converts a string from the environment or the command line to
// the Go type of typ.
func parseRaw(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kList:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		v, ok, err := b.Get(s.key, s.typ)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseRaw(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
