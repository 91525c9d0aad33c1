package mode

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"chat", Chat},
		{"Camera", Camera},
		{" NOTES ", Notes},
		{"dashboard", Dashboard},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseMode("settings"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("err = %v, want ErrUnknownMode", err)
	}
}

func TestMachineStartsInChat(t *testing.T) {
	if m := NewMachine(); m.Current() != Chat {
		t.Errorf("initial mode = %v", m.Current())
	}
}

func TestSwitchRunsHooks(t *testing.T) {
	m := NewMachine()
	var events []string
	m.OnLeave(Camera, func() { events = append(events, "leave camera") })
	m.OnEnter(Camera, func() { events = append(events, "enter camera") })
	m.OnEnter(Notes, func() { events = append(events, "enter notes") })

	if prev, err := m.Switch(Camera); err != nil || prev != Chat {
		t.Fatalf("Switch(Camera) = %v, %v", prev, err)
	}
	if prev, err := m.Switch(Notes); err != nil || prev != Camera {
		t.Fatalf("Switch(Notes) = %v, %v", prev, err)
	}

	want := []string{"enter camera", "leave camera", "enter notes"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestSwitchToCurrentIsNoop(t *testing.T) {
	m := NewMachine()
	calls := 0
	m.OnLeave(Chat, func() { calls++ })
	m.OnEnter(Chat, func() { calls++ })

	if prev, err := m.Switch(Chat); err != nil || prev != Chat {
		t.Fatalf("Switch(Chat) = %v, %v", prev, err)
	}
	if calls != 0 {
		t.Errorf("hooks ran %d times", calls)
	}
}

func TestSwitchRejectsUnknownMode(t *testing.T) {
	m := NewMachine()
	if _, err := m.Switch(Mode(42)); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("err = %v", err)
	}
	if m.Current() != Chat {
		t.Errorf("mode changed to %v", m.Current())
	}
}

func TestHookMaySwitchAgain(t *testing.T) {
	m := NewMachine()
	m.OnEnter(Dashboard, func() { m.Switch(Chat) })
	m.Switch(Dashboard)
	if m.Current() != Chat {
		t.Errorf("mode = %v, want chat", m.Current())
	}
}

func TestModeJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Mode Mode `json:"mode"`
	}{Dashboard})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"mode":"dashboard"}` {
		t.Errorf("json = %s", data)
	}
	var out struct {
		Mode Mode `json:"mode"`
	}
	if err := json.Unmarshal([]byte(`{"mode":"camera"}`), &out); err != nil || out.Mode != Camera {
		t.Errorf("unmarshal = %v, %v", out.Mode, err)
	}
}
