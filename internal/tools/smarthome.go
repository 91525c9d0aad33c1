package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/neuna/neuna/internal/devices"
	"github.com/neuna/neuna/internal/llm"
)

// Messages reported to the model when a tool finds nothing to act on.
const (
	MsgDeviceNotFound    = "Device not found."
	MsgNoThermostatFound = "No thermostat found."
)

// NewSmartHomeRegistry returns a registry with the smart home tools bound
// to reg.
func NewSmartHomeRegistry(reg *devices.Registry) *Registry {
	r := NewRegistry()
	r.Register(&lightStateTool{devices: reg})
	r.Register(&thermostatTool{devices: reg})
	return r
}

// undoChanges returns an Undo reverting changes on reg.
func undoChanges(reg *devices.Registry, changes []devices.Change) Undo {
	if len(changes) == 0 {
		return noUndo
	}
	return func() { reg.Revert(changes) }
}

type lightStateTool struct {
	devices *devices.Registry
}

func (t *lightStateTool) Name() string { return llm.ToolSetLightState }

func (t *lightStateTool) Description() string {
	return "Turns every device whose name or room contains deviceName on or off."
}

func (t *lightStateTool) Run(_ context.Context, args json.RawMessage) (Result, Undo, error) {
	fields, err := decodeArgs(args, "deviceName", "state")
	if err != nil {
		return Result{}, nil, err
	}
	var name string
	if err := json.Unmarshal(fields["deviceName"], &name); err != nil {
		return Result{}, nil, fmt.Errorf("deviceName: expected string")
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Result{}, nil, fmt.Errorf("deviceName: empty")
	}
	state, err := ParseBoolArg(fields["state"])
	if err != nil {
		return Result{}, nil, fmt.Errorf("state: %w", err)
	}

	match := func(d devices.Device) bool {
		return strings.Contains(strings.ToLower(d.Name), name) ||
			strings.Contains(strings.ToLower(d.Room), name)
	}
	changes, err := t.devices.Update(match, func(d *devices.Device) { d.On = state })
	if err != nil {
		return Result{Success: false, Message: err.Error()}, noUndo, nil
	}
	if len(changes) == 0 {
		return Result{Success: false, Message: MsgDeviceNotFound}, noUndo, nil
	}

	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.Before.Name
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Device %s set to %s", strings.Join(names, ", "), onOff(state)),
	}, undoChanges(t.devices, changes), nil
}

func onOff(state bool) string {
	if state {
		return "ON"
	}
	return "OFF"
}

type thermostatTool struct {
	devices *devices.Registry
}

func (t *thermostatTool) Name() string { return llm.ToolSetThermostat }

func (t *thermostatTool) Description() string {
	return "Sets the target temperature on every thermostat."
}

func (t *thermostatTool) Run(_ context.Context, args json.RawMessage) (Result, Undo, error) {
	fields, err := decodeArgs(args, "temperature")
	if err != nil {
		return Result{}, nil, err
	}
	temp, err := ParseNumberArg(fields["temperature"])
	if err != nil {
		return Result{}, nil, fmt.Errorf("temperature: %w", err)
	}

	isThermostat := func(d devices.Device) bool { return d.Category == devices.Thermostat }
	changes, err := t.devices.Update(isThermostat, func(d *devices.Device) { d.Value = devices.Float(temp) })
	if err != nil {
		return Result{Success: false, Message: err.Error()}, noUndo, nil
	}
	if len(changes) == 0 {
		return Result{Success: false, Message: MsgNoThermostatFound}, noUndo, nil
	}
	return Result{
		Success: true,
		Message: "Thermostat set to " + strconv.FormatFloat(temp, 'f', -1, 64),
	}, undoChanges(t.devices, changes), nil
}
