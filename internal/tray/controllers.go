package tray

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kalambet/quicksettings/internal/host"
)

// Setting keys written or observed by the controllers.
const (
	KeyVolume          = "audio.volume.notification"
	KeyNFCStatus       = "nfc.status"
	KeyNFCEnabled      = "nfc.enabled"
	KeyHotspot         = "tethering.wifi.enabled"
	KeyOrientationLock = "screen.orientation.lock"
	KeyPowersave       = "powersave.enabled"
	KeyGeolocation     = "geolocation.enabled"
	KeyUMS             = "ums.enabled"
	KeyAutoBrightness  = "screen.automatic-brightness"
	KeyBrightness      = "screen.brightness"

	// ItemsKey holds the list of items the tray renders.
	ItemsKey = "quick.settings.addon"
)

const (
	volumeMaxAbove       = 14
	volumeMuteBelow      = 1
	defaultRestoreVolume = volumeMaxAbove + 1

	minBrightness     = 0.1
	maxBrightness     = 1.0
	defaultBrightness = 0.5

	configureActivity = "configure"
)

// controller wires one button. It returns the teardowns the tray runs
// before the next rendering: subscription cancels and releases of anything
// the button holds.
type controller func(t *Tray, b *Button) []func()

// controllerFor returns the controller for item, or nil if item is unknown.
func controllerFor(item string) controller {
	switch item {
	case "volume":
		return initVolume
	case "nfc":
		return initNFC
	case "flashlight":
		return initFlashlight
	case "hotspot":
		return toggle(KeyHotspot, "tethering", "hotspot")
	case "orientation":
		return toggle(KeyOrientationLock, "toggle-camera-front", "orientation")
	case "powersave":
		return toggle(KeyPowersave, "battery-3", "powersave")
	case "location":
		return toggle(KeyGeolocation, "location", "location")
	case "ums":
		return toggle(KeyUMS, "usb", "ums")
	case "brightness":
		return initBrightness
	case "developer":
		return initDeveloper
	case "config":
		return initConfig
	}
	return nil
}

// SupportedItems lists every item a tray can render.
func SupportedItems() []string {
	return []string{"nfc", "volume", "flashlight", "hotspot", "brightness",
		"location", "powersave", "orientation", "ums", "developer", "config"}
}

// DefaultItems is the working set used when none is stored.
func DefaultItems() []string {
	return []string{"nfc", "volume", "flashlight", "hotspot", "brightness",
		"location", "powersave", "orientation", "developer"}
}

func label(item, suffix string) string {
	return idPrefix + item + "Button-" + suffix
}

// stateTokens are the l10n tokens some items switch to once their setting
// has been read. The initial label still uses the item name.
var stateTokens = map[string]string{
	"hotspot":     "hotSpot",
	"orientation": "orient",
}

func stateLabel(item, suffix string) string {
	if tok, ok := stateTokens[item]; ok {
		return label(tok, suffix)
	}
	return label(item, suffix)
}

// toggle builds the controller shared by plain boolean settings.
func toggle(key, icon, item string) controller {
	return func(t *Tray, b *Button) []func() {
		on, off := stateLabel(item, "on"), stateLabel(item, "off")
		b.update(func(s *State) {
			s.Icon = icon
			s.Enabled = false
			s.L10nID = label(item, "off")
		})
		b.handleClick(func() {
			t.write(map[string]any{key: !b.Enabled()})
		})
		return t.observe(key, false, func(v any) {
			b.setOn(truthy(v), on, off)
		})
	}
}

func initVolume(t *Tray, b *Button) []func() {
	// Volume to restore when unmuting.
	restore := float64(defaultRestoreVolume)

	b.update(func(s *State) {
		s.Icon = "sound-max"
		s.L10nID = label("volume", "max")
	})

	onChanged := func(v any) {
		n, ok := number(v)
		b.update(func(s *State) {
			switch {
			case !ok || n > volumeMaxAbove:
				s.Icon = "sound-max"
				s.Color = ""
				s.L10nID = label("volume", "max")
			case n < volumeMuteBelow:
				s.Icon = "mute"
				s.Color = HighlightColor
				s.L10nID = label("volume", "mute")
			default:
				s.Icon = "sound-min"
				s.Color = ""
				s.L10nID = label("volume", "min")
			}
		})
		if ok && n > 0 {
			restore = n
		}
	}

	b.handleClick(func() {
		if b.State().Icon == "mute" {
			t.write(map[string]any{KeyVolume: restore})
		} else {
			t.write(map[string]any{KeyVolume: 0})
		}
	})

	return t.observe(KeyVolume, "", onChanged)
}

func initNFC(t *Tray, b *Button) []func() {
	on, off := label("nfc", "on"), label("nfc", "off")
	b.update(func(s *State) {
		s.Icon = "nfc"
		s.Enabled = false
		s.L10nID = off
	})
	b.handleClick(func() {
		t.write(map[string]any{KeyNFCEnabled: !b.Enabled()})
	})
	return t.observe(KeyNFCStatus, nil, func(v any) {
		status, _ := v.(string)
		switch status {
		case "enabling", "enabled":
			b.setOn(true, on, off)
		case "disabling", "disabled":
			b.setOn(false, on, off)
		}
	})
}

func initFlashlight(t *Tray, b *Button) []func() {
	on, off := label("flashlight", "on"), label("flashlight", "off")
	var (
		cam     host.Camera
		pending bool
		gone    bool
	)

	release := func() {
		if cam == nil {
			return
		}
		if err := cam.Release(); err != nil {
			t.logger.Warn("releasing camera failed", "error", err)
		}
		cam = nil
	}

	b.update(func(s *State) {
		s.Icon = "flash-on"
		s.Enabled = false
		s.L10nID = off
	})

	b.handleClick(func() {
		if b.Enabled() {
			release()
			b.setOn(false, on, off)
			return
		}
		b.setOn(true, on, off)
		if pending || t.cameras == nil {
			return
		}
		pending = true
		ctx := t.context()
		go func() {
			c, err := acquireTorch(ctx, t.cameras)
			t.sched.Post(func() {
				pending = false
				if err != nil {
					t.logger.Warn("turning on flashlight failed", "error", err)
					b.setOn(false, on, off)
					return
				}
				cam = c
				if gone || !b.Enabled() {
					// Switched off or re-rendered while the camera was being acquired.
					release()
				}
			})
		}()
	})
	return []func(){func() {
		gone = true
		release()
	}}
}

func acquireTorch(ctx context.Context, cameras host.Cameras) (host.Camera, error) {
	ids, err := cameras.List()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, host.ErrNoCamera
	}
	cam, err := cameras.Get(ctx, ids[0], host.CameraOptions{Mode: "video"})
	if err != nil {
		return nil, err
	}
	if err := cam.SetFlashMode(host.FlashTorch); err != nil {
		cam.Release()
		return nil, err
	}
	return cam, nil
}

func initBrightness(t *Tray, b *Button) []func() {
	on, off := label("brightness", "on"), label("brightness", "off")
	b.update(func(s *State) {
		s.Icon = "brightness"
		s.Enabled = false
		s.L10nID = off
	})
	b.handleClick(func() {
		// Enabled means manual brightness; clicking hands control back to the sensor.
		t.write(map[string]any{KeyAutoBrightness: b.Enabled()})
	})

	gen := t.generation()
	subs := t.observe(KeyAutoBrightness, false, func(v any) {
		manual := !truthy(v)
		b.setOn(manual, on, off)
		t.showBrightnessControl(gen, manual)
	})
	subs = append(subs, t.observe(KeyBrightness, defaultBrightness, func(v any) {
		if n, ok := number(v); ok {
			t.setBrightnessLevel(gen, n)
		}
	})...)
	return subs
}

func initDeveloper(t *Tray, b *Button) []func() {
	b.update(func(s *State) {
		s.Icon = "bug"
		s.Enabled = false
		s.L10nID = label("developer", "off")
	})
	b.handleClick(func() {
		t.launch(host.Activity{
			Name: configureActivity,
			Data: map[string]any{"target": "device", "section": "developer"},
		}, nil)
	})
	return nil
}

func initConfig(t *Tray, b *Button) []func() {
	b.update(func(s *State) {
		s.Icon = "addons"
		s.Enabled = false
		s.L10nID = label("config", "off")
	})
	b.handleClick(func() {
		t.launch(host.Activity{
			Name: configureActivity,
			Data: map[string]any{"target": "user"},
		}, t.render)
	})
	return nil
}

// truthy interprets a stored value as a switch position.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return b
		}
		return x != ""
	default:
		return true
	}
}

// number interprets a stored value as a number. Unset and empty values
// report false.
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
