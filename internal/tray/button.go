package tray

import "sync"

// HighlightColor marks a button whose feature is active.
const HighlightColor = "#008EAB"

// idPrefix is prepended to item names to form button IDs.
const idPrefix = "quick-settings-"

// State is the visual state of one button.
type State struct {
	ID      string `json:"id"`
	Item    string `json:"item"`
	Icon    string `json:"icon"`
	Enabled bool   `json:"enabled"`
	Color   string `json:"color"`
	L10nID  string `json:"l10n_id"`
}

// Button holds a State and the click handler a controller attached to it.
type Button struct {
	mu      sync.Mutex
	state   State
	onClick func()
	notify  func()
}

func newButton(item string, notify func()) *Button {
	return &Button{
		state:  State{ID: idPrefix + item, Item: item},
		notify: notify,
	}
}

// State returns a copy of the current visual state.
func (b *Button) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Enabled is shorthand for State().Enabled.
func (b *Button) Enabled() bool {
	return b.State().Enabled
}

func (b *Button) update(fn func(s *State)) {
	b.mu.Lock()
	before := b.state
	fn(&b.state)
	changed := before != b.state
	b.mu.Unlock()
	if changed && b.notify != nil {
		b.notify()
	}
}

// setOn applies the on/off look shared by most toggles.
func (b *Button) setOn(on bool, onLabel, offLabel string) {
	b.update(func(s *State) {
		s.Enabled = on
		if on {
			s.Color = HighlightColor
			s.L10nID = onLabel
		} else {
			s.Color = ""
			s.L10nID = offLabel
		}
	})
}

func (b *Button) handleClick(fn func()) {
	b.mu.Lock()
	b.onClick = fn
	b.mu.Unlock()
}

func (b *Button) click() {
	b.mu.Lock()
	fn := b.onClick
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}
