// Package devices owns the smart home device registry.
//
// All mutation goes through Registry.Update, which applies a change to every
// matching device inside one critical section. Readers only ever receive
// copies, so a half-updated device is never observable.
package devices

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Category is the kind of a controllable device.
type Category string

const (
	Light      Category = "light"
	Thermostat Category = "thermostat"
	Lock       Category = "lock"
	Camera     Category = "camera"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case Light, Thermostat, Lock, Camera:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no device has the requested id
	ErrNotFound = errors.New("device not found")
	// ErrInvalid is returned when a device or an update breaks a registry invariant
	ErrInvalid = errors.New("invalid device")
)

// Device is a controllable device. Value is set only for thermostats.
type Device struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Category Category `json:"type" yaml:"type"`
	On       bool     `json:"on" yaml:"on"`
	Status   string   `json:"status,omitempty" yaml:"status,omitempty"`
	Value    *float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Room     string   `json:"room" yaml:"room"`
}

func (d Device) clone() Device {
	if d.Value != nil {
		v := *d.Value
		d.Value = &v
	}
	return d
}

// Validate checks the per-device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: device %s has no name", ErrInvalid, d.ID)
	}
	if !d.Category.Valid() {
		return fmt.Errorf("%w: device %s has unknown type %q", ErrInvalid, d.ID, d.Category)
	}
	if d.Category == Thermostat && d.Value == nil {
		return fmt.Errorf("%w: thermostat %s has no value", ErrInvalid, d.ID)
	}
	if d.Category != Thermostat && d.Value != nil {
		return fmt.Errorf("%w: %s %s cannot carry a value", ErrInvalid, d.Category, d.ID)
	}
	return nil
}

// Float returns a pointer to v, for building thermostat devices.
func Float(v float64) *float64 { return &v }

// Defaults returns the built-in device set.
func Defaults() []Device {
	return []Device{
		{ID: "1", Name: "Living Room Lights", Category: Light, On: true, Room: "Living Room"},
		{ID: "2", Name: "Gamer Setup", Category: Light, On: false, Room: "Office"},
		{ID: "3", Name: "AC Unit", Category: Thermostat, On: true, Status: "active", Value: Float(72), Room: "Hallway"},
		{ID: "4", Name: "Front Door Lock", Category: Lock, On: true, Room: "Entrance"},
	}
}

// presetFile is the YAML layout of a device presets file.
type presetFile struct {
	Devices []Device `yaml:"devices"`
}

// LoadFile reads a YAML device presets file.
func LoadFile(path string) ([]Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse devices file %s: %w", path, err)
	}
	if len(f.Devices) == 0 {
		return nil, fmt.Errorf("devices file %s lists no devices", path)
	}
	return f.Devices, nil
}

// Change records one device's state before an update, and the version the
// update produced.
type Change struct {
	Before  Device
	Version uint64
}

// Registry is the owned, mutable device list.
type Registry struct {
	mu       sync.RWMutex
	devices  []Device
	versions map[string]uint64

	subMu   sync.Mutex
	subs    map[int]chan []Device
	nextSub int
}

// NewRegistry validates the initial devices and returns a registry holding
// copies of them.
func NewRegistry(initial []Device) (*Registry, error) {
	r := &Registry{
		versions: make(map[string]uint64),
		subs:     make(map[int]chan []Device),
	}
	seen := make(map[string]bool)
	for _, d := range initial {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalid, d.ID)
		}
		seen[d.ID] = true
		r.devices = append(r.devices, d.clone())
		r.versions[d.ID] = 1
	}
	return r, nil
}

// Snapshot returns copies of all devices in registry order.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Device {
	out := make([]Device, len(r.devices))
	for i, d := range r.devices {
		out[i] = d.clone()
	}
	return out
}

// Get returns a copy of the device with the given id.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.ID == id {
			return d.clone(), nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Update applies mutate to every device for which match returns true.
// Either every matched device is updated or none is: if any mutated device
// fails validation, or mutate changes its id or type, the registry is left
// untouched. It returns one Change per updated device.
func (r *Registry) Update(match func(Device) bool, mutate func(*Device)) ([]Change, error) {
	r.mu.Lock()

	type pending struct {
		idx  int
		next Device
	}
	var (
		changes []Change
		updated []pending
	)
	for i, d := range r.devices {
		if !match(d.clone()) {
			continue
		}
		next := d.clone()
		mutate(&next)
		if next.ID != d.ID || next.Category != d.Category {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: update may not change id or type of %s", ErrInvalid, d.ID)
		}
		if err := next.Validate(); err != nil {
			r.mu.Unlock()
			return nil, err
		}
		updated = append(updated, pending{idx: i, next: next})
	}

	for _, p := range updated {
		before := r.devices[p.idx]
		r.devices[p.idx] = p.next
		r.versions[p.next.ID]++
		changes = append(changes, Change{Before: before, Version: r.versions[p.next.ID]})
	}
	// publish under the lock so subscribers see snapshots in order
	if len(changes) > 0 {
		r.publish(r.snapshotLocked())
	}
	r.mu.Unlock()
	return changes, nil
}

// Revert restores each change's Before state, skipping devices that have
// been updated again since the change was made. It returns the ids restored.
func (r *Registry) Revert(changes []Change) []string {
	r.mu.Lock()
	var restored []string
	for _, c := range changes {
		if r.versions[c.Before.ID] != c.Version {
			continue
		}
		for i := range r.devices {
			if r.devices[i].ID == c.Before.ID {
				r.devices[i] = c.Before.clone()
				r.versions[c.Before.ID]++
				restored = append(restored, c.Before.ID)
				break
			}
		}
	}
	if len(restored) > 0 {
		r.publish(r.snapshotLocked())
	}
	r.mu.Unlock()
	return restored
}

// Toggle flips the on/off state of one device.
func (r *Registry) Toggle(id string) (Device, error) {
	return r.updateOne(id, func(d *Device) { d.On = !d.On })
}

// SetValue sets the numeric value of one thermostat.
func (r *Registry) SetValue(id string, v float64) (Device, error) {
	d, err := r.Get(id)
	if err != nil {
		return Device{}, err
	}
	if d.Category != Thermostat {
		return Device{}, fmt.Errorf("%w: %s is a %s, only thermostats take a value", ErrInvalid, id, d.Category)
	}
	return r.updateOne(id, func(d *Device) { d.Value = Float(v) })
}

func (r *Registry) updateOne(id string, mutate func(*Device)) (Device, error) {
	changes, err := r.Update(func(d Device) bool { return d.ID == id }, mutate)
	if err != nil {
		return Device{}, err
	}
	if len(changes) == 0 {
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Get(id)
}

// Subscribe returns a channel receiving a snapshot after every change, and
// a cancel func. A slow subscriber only ever sees the latest snapshot.
func (r *Registry) Subscribe() (<-chan []Device, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextSub
	r.nextSub++
	ch := make(chan []Device, 1)
	r.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			delete(r.subs, id)
			close(ch)
		})
	}
}

func (r *Registry) publish(snap []Device) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
