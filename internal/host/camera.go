package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrNoCamera is returned when no flash-capable device exists.
var ErrNoCamera = errors.New("host: no camera available")

// Flash modes understood by Camera.SetFlashMode.
const (
	FlashOff   = "off"
	FlashTorch = "torch"
)

// CameraOptions mirrors the options passed when acquiring a camera.
type CameraOptions struct {
	Mode string
}

// Camera is an acquired camera. Release must be called to hand it back.
type Camera interface {
	SetFlashMode(mode string) error
	Release() error
}

// Cameras lists and acquires cameras.
type Cameras interface {
	List() ([]string, error)
	Get(ctx context.Context, id string, opts CameraOptions) (Camera, error)
}

// LEDCameras exposes the flash LEDs of the Linux LED class as cameras.
// Every entry under Dir whose name contains "flash" or "torch" counts.
type LEDCameras struct {
	Dir string
}

// DefaultLEDDir is where the kernel publishes LED class devices.
const DefaultLEDDir = "/sys/class/leds"

func (c LEDCameras) dir() string {
	if c.Dir == "" {
		return DefaultLEDDir
	}
	return c.Dir
}

func (c LEDCameras) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing LEDs: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if strings.Contains(name, "flash") || strings.Contains(name, "torch") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c LEDCameras) Get(ctx context.Context, id string, _ CameraOptions) (Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrNoCamera
	}
	path := filepath.Join(c.dir(), id)
	if _, err := os.Stat(filepath.Join(path, "brightness")); err != nil {
		return nil, fmt.Errorf("opening camera %s: %w", id, err)
	}
	maxLevel := 1
	if raw, err := os.ReadFile(filepath.Join(path, "max_brightness")); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil && n > 0 {
			maxLevel = n
		}
	}
	return &ledCamera{path: path, max: maxLevel}, nil
}

type ledCamera struct {
	path string
	max  int

	mu       sync.Mutex
	released bool
}

func (c *ledCamera) SetFlashMode(mode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errors.New("host: camera already released")
	}
	switch mode {
	case FlashTorch:
		return c.write(c.max)
	case FlashOff:
		return c.write(0)
	default:
		return fmt.Errorf("host: unsupported flash mode %q", mode)
	}
}

func (c *ledCamera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	return c.write(0)
}

func (c *ledCamera) write(level int) error {
	return os.WriteFile(filepath.Join(c.path, "brightness"), []byte(strconv.Itoa(level)), 0o644)
}
