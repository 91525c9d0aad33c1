// Package geo finds the user's approximate location.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/neuna/neuna/internal/permission"
)

// User-facing messages for location failures.
const (
	MsgDenied      = "Location access denied."
	MsgUnavailable = "Unable to retrieve location."
)

// ErrUnavailable is returned when the location could not be determined.
var ErrUnavailable = errors.New("location unavailable")

// Coordinates is a position in decimal degrees.
type Coordinates struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	City   string  `json:"city,omitempty"`
	Source string  `json:"source"`
}

// String formats the coordinates the way they are shown to the model.
func (c Coordinates) String() string {
	return fmt.Sprintf("%.4f, %.4f", c.Lat, c.Lon)
}

// Locator determines the current position.
type Locator interface {
	Locate(ctx context.Context) (Coordinates, error)
}

// Message is the text shown to the user for a Locate error.
func Message(err error) string {
	if errors.Is(err, permission.ErrDenied) {
		return MsgDenied
	}
	return MsgUnavailable
}

// Static always returns the configured position.
type Static struct {
	Lat, Lon float64
}

func (s Static) Locate(ctx context.Context) (Coordinates, error) {
	if err := ctx.Err(); err != nil {
		return Coordinates{}, err
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
		return Coordinates{}, fmt.Errorf("%w: coordinates out of range (%v, %v)", ErrUnavailable, s.Lat, s.Lon)
	}
	return Coordinates{Lat: s.Lat, Lon: s.Lon, Source: "static"}, nil
}

// Disabled refuses every lookup.
type Disabled struct{}

func (Disabled) Locate(context.Context) (Coordinates, error) {
	return Coordinates{}, fmt.Errorf("location: %w", permission.ErrDenied)
}

// IPLocator looks the position up from the public IP address with an
// ip-api.com style JSON endpoint.
type IPLocator struct {
	URL    string
	Client *http.Client
}

// NewIPLocator returns a locator querying url.
func NewIPLocator(url string) *IPLocator {
	return &IPLocator{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

type ipLookupResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	City    string   `json:"city"`
}

func (l *IPLocator) Locate(ctx context.Context) (Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Coordinates{}, fmt.Errorf("%w: lookup returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var body ipLookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Coordinates{}, fmt.Errorf("%w: decode lookup: %w", ErrUnavailable, err)
	}
	if body.Status != "" && body.Status != "success" {
		return Coordinates{}, fmt.Errorf("%w: lookup failed: %s", ErrUnavailable, body.Message)
	}
	if body.Lat == nil || body.Lon == nil {
		return Coordinates{}, fmt.Errorf("%w: lookup returned no coordinates", ErrUnavailable)
	}
	return Coordinates{Lat: *body.Lat, Lon: *body.Lon, City: body.City, Source: "ip"}, nil
}

// Gated asks the permission gate before delegating to Next.
type Gated struct {
	Gate *permission.Gate
	Next Locator
}

func (g Gated) Locate(ctx context.Context) (Coordinates, error) {
	if err := g.Gate.Request(ctx, permission.Location); err != nil {
		return Coordinates{}, err
	}
	return g.Next.Locate(ctx)
}
