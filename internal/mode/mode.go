// Package mode tracks which view the companion is in.
package mode

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Mode is one of the companion's views.
type Mode int

const (
	// Chat is the default conversational view
	Chat Mode = iota
	// Camera shows the live camera and roasts captured frames
	Camera
	// Notes generates study notes for a topic
	Notes
	// Dashboard shows weather and smart home devices
	Dashboard
)

// ErrUnknownMode is returned for a mode name that does not exist.
var ErrUnknownMode = errors.New("unknown mode")

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case Chat:
		return "chat"
	case Camera:
		return "camera"
	case Notes:
		return "notes"
	case Dashboard:
		return "dashboard"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= Chat && m <= Dashboard
}

// All returns every mode in display order.
func All() []Mode {
	return []Mode{Chat, Camera, Notes, Dashboard}
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, m := range All() {
		if m.String() == name {
			return m, nil
		}
	}
	return Chat, fmt.Errorf("%w: %q (valid: chat, camera, notes, dashboard)", ErrUnknownMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Machine is the mode state machine. Every mode can be reached from every
// other mode; hooks run on leave and enter.
type Machine struct {
	mu      sync.Mutex
	current Mode
	onLeave map[Mode][]func()
	onEnter map[Mode][]func()
}

// NewMachine returns a machine in Chat mode.
func NewMachine() *Machine {
	return &Machine{
		current: Chat,
		onLeave: make(map[Mode][]func()),
		onEnter: make(map[Mode][]func()),
	}
}

// Current returns the active mode.
func (m *Machine) Current() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnLeave registers fn to run whenever mode is left.
func (m *Machine) OnLeave(mode Mode, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLeave[mode] = append(m.onLeave[mode], fn)
}

// OnEnter registers fn to run whenever mode is entered.
func (m *Machine) OnEnter(mode Mode, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[mode] = append(m.onEnter[mode], fn)
}

// Switch moves to next and returns the previous mode. Switching to the
// current mode runs no hooks. Hooks run after the switch, outside the lock,
// leave hooks first.
func (m *Machine) Switch(next Mode) (Mode, error) {
	if !next.Valid() {
		return m.Current(), fmt.Errorf("%w: %d", ErrUnknownMode, int(next))
	}

	m.mu.Lock()
	prev := m.current
	if prev == next {
		m.mu.Unlock()
		return prev, nil
	}
	m.current = next
	leave := append([]func(){}, m.onLeave[prev]...)
	enter := append([]func(){}, m.onEnter[next]...)
	m.mu.Unlock()

	for _, fn := range leave {
		fn()
	}
	for _, fn := range enter {
		fn()
	}
	return prev, nil
}
