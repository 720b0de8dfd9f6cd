package settings

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDefaults parses a YAML mapping of setting key to value. Keys are used
// verbatim, so dotted names like "nfc.enabled" must be quoted or written
// flat; nested mappings become object values.
//
//	"nfc.enabled": false
//	"audio.volume.notification": 15
//	"quick.settings.addon": [nfc, volume, flashlight]
func LoadDefaults(r io.Reader) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("parsing defaults: %w", err)
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("default %s: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// LoadDefaultsFile reads defaults from path. A missing file yields an empty
// mapping and no error.
func LoadDefaultsFile(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return LoadDefaults(f)
}
