// Package tray models the quick-settings tray: the row of feature buttons,
// the brightness slider, and the expand/shrink state of the panel.
//
// Controllers and settings callbacks run on the scheduler passed to New.
// Snapshot, Watch and the request methods may be called from any goroutine.
package tray

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/kalambet/quicksettings/internal/host"
	"github.com/kalambet/quicksettings/internal/observer"
)

// ErrUnknownButton is returned when a click names no rendered button.
var ErrUnknownButton = errors.New("tray: unknown button")

// Motion states reported by the host while the tray is dragged.
const (
	MotionOpening = "opening"
	MotionOpen    = "open"
	MotionClosing = "closing"
	MotionClosed  = "closed"
)

// Scheduler runs tasks on the tray's event loop.
type Scheduler interface {
	Post(fn func())
}

// Deps are the collaborators a Tray drives.
type Deps struct {
	Observer  *observer.Observer
	Scheduler Scheduler
	Launcher  host.ActivityLauncher
	Cameras   host.Cameras
	Logger    *slog.Logger
}

// Options tune rendering.
type Options struct {
	// DefaultItems is rendered when no working set is stored.
	DefaultItems []string
	// Columns is the number of buttons per row.
	Columns int
}

// BrightnessState describes the manual brightness slider.
type BrightnessState struct {
	Visible bool    `json:"visible"`
	Level   float64 `json:"level"`
}

// Snapshot is the full visible state of the tray.
type Snapshot struct {
	Items        []string        `json:"items"`
	Buttons      []State         `json:"buttons"`
	Expanded     bool            `json:"expanded"`
	Rows         int             `json:"rows"`
	Placeholders int             `json:"placeholders"`
	Brightness   BrightnessState `json:"brightness"`
}

// Tray owns the rendered buttons and their settings subscriptions.
type Tray struct {
	obs      *observer.Observer
	sched    Scheduler
	launcher host.ActivityLauncher
	cameras  host.Cameras
	logger   *slog.Logger
	opts     Options

	// notifyMu orders watcher deliveries.
	notifyMu sync.Mutex

	mu           sync.Mutex
	ctx          context.Context
	renderSeq    uint64
	gen          uint64
	items        []string
	buttons      []*Button
	teardowns    []func()
	expanded     bool
	rows         int
	placeholders int
	brightness   BrightnessState
	watchers     map[int]func(Snapshot)
	nextWatcher  int
}

// New builds an empty tray. Call Render to create the buttons.
func New(deps Deps, opts Options) *Tray {
	if opts.Columns <= 0 {
		opts.Columns = 5
	}
	if len(opts.DefaultItems) == 0 {
		opts.DefaultItems = DefaultItems()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher := deps.Launcher
	if launcher == nil {
		launcher = host.LogLauncher{Logger: logger}
	}
	return &Tray{
		obs:        deps.Observer,
		sched:      deps.Scheduler,
		launcher:   launcher,
		cameras:    deps.Cameras,
		logger:     logger,
		opts:       opts,
		ctx:        context.Background(),
		brightness: BrightnessState{Level: defaultBrightness},
		watchers:   make(map[int]func(Snapshot)),
	}
}

// Render reads the stored working set and rebuilds the buttons on the
// scheduler. When the read fails or nothing is stored, the default items
// are rendered.
//
// ctx is the tray's lifetime: camera access, activities and later
// re-renders run under it until it is cancelled.
func (t *Tray) Render(ctx context.Context) error {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	t.render()
	return nil
}

func (t *Tray) render() {
	t.mu.Lock()
	t.renderSeq++
	seq := t.renderSeq
	ctx := t.ctx
	t.mu.Unlock()

	if !t.obs.Available() {
		t.sched.Post(func() { t.buildLatest(seq, t.opts.DefaultItems) })
		return
	}

	req, err := t.obs.Get(ItemsKey)
	if err != nil {
		t.logger.Warn("reading tray items failed, using defaults", "error", err)
		t.sched.Post(func() { t.buildLatest(seq, t.opts.DefaultItems) })
		return
	}

	go func() {
		items := t.opts.DefaultItems
		select {
		case <-req.Done():
		case <-ctx.Done():
			return
		}
		if err := req.Err(); err != nil {
			t.logger.Warn("reading tray items failed, using defaults", "error", err)
		} else if stored, ok := parseItems(req.Result()[ItemsKey]); ok {
			items = stored
		} else {
			t.logger.Debug("no stored tray items, using defaults")
		}
		t.sched.Post(func() { t.buildLatest(seq, items) })
	}()
}

// buildLatest builds items unless a later render has started. Reads of
// overlapping renders may complete in any order.
func (t *Tray) buildLatest(seq uint64, items []string) {
	t.mu.Lock()
	stale := seq != t.renderSeq
	t.mu.Unlock()
	if stale {
		t.logger.Debug("dropping superseded tray render", "items", items)
		return
	}
	t.build(items)
}

func parseItems(v any) ([]string, bool) {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case []string:
		return append([]string(nil), x...), true
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, false
		}
		var out []string
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

// build tears down the previous rendering and replaces every button. Runs
// on the scheduler.
func (t *Tray) build(items []string) {
	t.mu.Lock()
	old := t.teardowns
	t.teardowns = nil
	t.gen++
	t.brightness.Visible = false
	t.mu.Unlock()
	for _, stop := range old {
		stop()
	}

	var (
		rendered  []string
		buttons   []*Button
		teardowns []func()
	)
	seen := make(map[string]bool)
	for _, item := range items {
		ctrl := controllerFor(item)
		if ctrl == nil {
			t.logger.Warn("skipping unknown tray item", "item", item)
			continue
		}
		if seen[item] {
			continue
		}
		seen[item] = true
		b := newButton(item, t.changed)
		teardowns = append(teardowns, ctrl(t, b)...)
		buttons = append(buttons, b)
		rendered = append(rendered, item)
	}

	cols := t.opts.Columns
	t.mu.Lock()
	t.items = rendered
	t.buttons = buttons
	t.teardowns = teardowns
	t.rows = (len(rendered) + cols - 1) / cols
	t.placeholders = (cols - len(rendered)%cols) % cols
	t.expanded = false
	t.mu.Unlock()

	t.logger.Debug("tray rendered", "items", rendered)
	t.changed()
}

// observe subscribes through the observer and returns the cancel as a
// teardown. A failed subscription is logged and leaves the button static.
func (t *Tray) observe(key string, def any, cb observer.Callback) []func() {
	sub, err := t.obs.Observe(key, def, cb)
	if err != nil {
		t.logger.Warn("observing setting failed", "key", key, "error", err)
		return nil
	}
	if sub == nil {
		return nil
	}
	return []func(){sub.Cancel}
}

// write issues a fire-and-forget settings write.
func (t *Tray) write(values map[string]any) {
	req, err := t.obs.Set(values)
	if err != nil {
		t.logger.Warn("writing settings failed", "error", err)
		return
	}
	go func() {
		<-req.Done()
		if err := req.Err(); err != nil {
			t.logger.Warn("settings write rejected", "error", err)
		}
	}()
}

// launch hands an activity to the host; onSuccess runs on the scheduler.
func (t *Tray) launch(a host.Activity, onSuccess func()) {
	ctx := t.context()
	go func() {
		if err := t.launcher.Launch(ctx, a); err != nil {
			t.logger.Warn("activity failed", "name", a.Name, "error", err)
			return
		}
		if onSuccess != nil {
			t.sched.Post(onSuccess)
		}
	}()
}

func (t *Tray) context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// generation identifies the current rendering.
func (t *Tray) generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// showBrightnessControl and setBrightnessLevel drop updates from
// controllers of an earlier rendering.
func (t *Tray) showBrightnessControl(gen uint64, visible bool) {
	t.mu.Lock()
	changed := gen == t.gen && t.brightness.Visible != visible
	if changed {
		t.brightness.Visible = visible
	}
	t.mu.Unlock()
	if changed {
		t.changed()
	}
}

func (t *Tray) setBrightnessLevel(gen uint64, level float64) {
	level = clampBrightness(level)
	t.mu.Lock()
	changed := gen == t.gen && t.brightness.Level != level
	if changed {
		t.brightness.Level = level
	}
	t.mu.Unlock()
	if changed {
		t.changed()
	}
}

func clampBrightness(level float64) float64 {
	level = math.Max(minBrightness, math.Min(maxBrightness, level))
	return math.Round(level*100) / 100
}

// SetBrightness moves the slider and writes the screen brightness. It
// returns the level actually written.
func (t *Tray) SetBrightness(level float64) (float64, error) {
	if math.IsNaN(level) {
		return 0, fmt.Errorf("invalid brightness level")
	}
	level = clampBrightness(level)
	t.setBrightnessLevel(t.generation(), level)
	if _, err := t.obs.Set(map[string]any{KeyBrightness: level}); err != nil {
		return level, fmt.Errorf("writing brightness: %w", err)
	}
	return level, nil
}

// SaveItems stores a new working set and re-renders. ctx bounds the write
// only; the re-render runs under the tray's lifetime.
func (t *Tray) SaveItems(ctx context.Context, items []string) error {
	for _, item := range items {
		if controllerFor(item) == nil {
			return fmt.Errorf("unknown tray item %q", item)
		}
	}
	req, err := t.obs.Set(map[string]any{ItemsKey: items})
	if err != nil {
		return fmt.Errorf("saving tray items: %w", err)
	}
	if _, err := req.Wait(ctx); err != nil {
		return fmt.Errorf("saving tray items: %w", err)
	}
	t.render()
	return nil
}

// Click presses the button with the given ID or item name.
func (t *Tray) Click(id string) error {
	b := t.find(id)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrUnknownButton, id)
	}
	t.sched.Post(b.click)
	return nil
}

func (t *Tray) find(id string) *Button {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.buttons {
		s := b.State()
		if s.ID == id || s.Item == id {
			return b
		}
	}
	return nil
}

// Toggle expands a shrunk tray and shrinks an expanded one.
func (t *Tray) Toggle() {
	t.mu.Lock()
	t.expanded = !t.expanded
	t.mu.Unlock()
	t.changed()
}

// HandleMotion reacts to the host's tray motion events.
func (t *Tray) HandleMotion(state string) {
	if state == MotionClosing {
		t.shrink()
	}
}

// HandleScroll shrinks the tray to make room for notifications.
func (t *Tray) HandleScroll() {
	t.shrink()
}

func (t *Tray) shrink() {
	t.mu.Lock()
	changed := t.expanded
	t.expanded = false
	t.mu.Unlock()
	if changed {
		t.changed()
	}
}

// Snapshot returns the current tray state.
func (t *Tray) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tray) snapshotLocked() Snapshot {
	s := Snapshot{
		Items:        append([]string(nil), t.items...),
		Buttons:      make([]State, 0, len(t.buttons)),
		Expanded:     t.expanded,
		Rows:         t.rows,
		Placeholders: t.placeholders,
		Brightness:   t.brightness,
	}
	for _, b := range t.buttons {
		s.Buttons = append(s.Buttons, b.State())
	}
	return s
}

// Watch calls fn with the current snapshot before returning, then with a
// fresh snapshot after every visible change. Deliveries are serialized, so
// fn never sees an older snapshot after a newer one. fn must not block. The
// returned func stops the notifications.
func (t *Tray) Watch(fn func(Snapshot)) (cancel func()) {
	t.notifyMu.Lock()
	t.mu.Lock()
	id := t.nextWatcher
	t.nextWatcher++
	t.watchers[id] = fn
	snap := t.snapshotLocked()
	t.mu.Unlock()
	fn(snap)
	t.notifyMu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.watchers, id)
		t.mu.Unlock()
	}
}

func (t *Tray) changed() {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.mu.Lock()
	if len(t.watchers) == 0 {
		t.mu.Unlock()
		return
	}
	snap := t.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(t.watchers))
	for _, fn := range t.watchers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
