// Package weather asks the model, with search grounding, for the current
// conditions at a position and parses its JSON answer.
package weather

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// User-facing messages for weather failures.
const (
	MsgUnparsable = "Could not parse weather data format."
	MsgTransport  = "Failed to fetch weather data from AI service."
)

// ErrUnparsable is set on a Report when the model answered but not with
// usable JSON.
var ErrUnparsable = errors.New("weather: unparsable response")

// Number is a float that also accepts strings such as "21", "21.5°C" or
// "72 F" when unmarshalled.
type Number float64

var leadingNumber = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?`)

func (n *Number) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = Number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("weather: expected number, got %s", string(b))
	}
	m := leadingNumber.FindString(strings.TrimSpace(s))
	if m == "" {
		return fmt.Errorf("weather: expected number, got %q", s)
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}

// Text is a string that also accepts numbers and arrays of strings.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*t = Text(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = Text(strings.Join(list, " "))
		return nil
	}
	if string(bytes.TrimSpace(b)) == "null" {
		return nil
	}
	return fmt.Errorf("weather: expected text, got %s", string(b))
}

// Weather is the parsed model answer.
type Weather struct {
	Location    Text    `json:"location"`
	CountryCode Text    `json:"countryCode,omitempty"`
	TempC       *Number `json:"tempC,omitempty"`
	TempF       *Number `json:"tempF,omitempty"`
	Temperature Text    `json:"temperature,omitempty"`
	Condition   Text    `json:"condition"`
	Humidity    Text    `json:"humidity"`
	WindSpeed   Text    `json:"windSpeed"`
	Coordinates Text    `json:"coordinates"`
	Forecast    Text    `json:"forecast"`
}

// IsUS reports whether the location is in the United States.
func (w *Weather) IsUS() bool {
	cc := strings.ToUpper(strings.TrimSpace(string(w.CountryCode)))
	return cc == "US" || cc == "USA"
}

// DisplayTemperature shows both scales, Fahrenheit first in the US and
// Celsius first elsewhere. Without both it falls back to whatever the model
// gave.
func (w *Weather) DisplayTemperature() string {
	switch {
	case w.TempC != nil && w.TempF != nil:
		if w.IsUS() {
			return fmt.Sprintf("%s°F (%s°C)", w.TempF, w.TempC)
		}
		return fmt.Sprintf("%s°C (%s°F)", w.TempC, w.TempF)
	case w.Temperature != "":
		return string(w.Temperature)
	case w.TempC != nil:
		return w.TempC.String() + "°C"
	case w.TempF != nil:
		return w.TempF.String() + "°F"
	default:
		return "--"
	}
}

// Parse extracts the JSON object from a model reply, tolerating code fences
// and surrounding prose.
func Parse(reply string) (*Weather, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrUnparsable)
	}

	var w Weather
	if err := json.Unmarshal([]byte(reply[start:end+1]), &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparsable, err)
	}
	if w.Location == "" && w.TempC == nil && w.TempF == nil && w.Temperature == "" {
		return nil, fmt.Errorf("%w: reply has neither location nor temperature", ErrUnparsable)
	}
	return &w, nil
}
