package geo

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neuna/neuna/internal/permission"
)

func TestStatic(t *testing.T) {
	c, err := Static{Lat: 40.7128, Lon: -74.006}.Locate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.String() != "40.7128, -74.0060" || c.Source != "static" {
		t.Errorf("coordinates = %+v", c)
	}
	if _, err := (Static{Lat: 91}).Locate(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestIPLocator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"success","lat":51.5074,"lon":-0.1278,"city":"London","countryCode":"GB"}`)
	}))
	defer srv.Close()

	c, err := NewIPLocator(srv.URL).Locate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Lat != 51.5074 || c.Lon != -0.1278 || c.City != "London" || c.Source != "ip" {
		t.Errorf("coordinates = %+v", c)
	}
}

func TestIPLocatorFailures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"status fail": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"status":"fail","message":"reserved range"}`)
		},
		"no coordinates": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"status":"success"}`)
		},
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<html>`)
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := NewIPLocator(srv.URL).Locate(context.Background())
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("err = %v", err)
			}
			if Message(err) != MsgUnavailable {
				t.Errorf("Message = %q", Message(err))
			}
		})
	}
}

func TestDisabledAndGated(t *testing.T) {
	_, err := Disabled{}.Locate(context.Background())
	if !errors.Is(err, permission.ErrDenied) || Message(err) != MsgDenied {
		t.Errorf("Disabled err = %v", err)
	}

	gated := Gated{Gate: permission.NewGate(permission.Deny), Next: Static{Lat: 1, Lon: 1}}
	if _, err := gated.Locate(context.Background()); Message(err) != MsgDenied {
		t.Errorf("Gated deny err = %v", err)
	}

	gated.Gate = permission.NewGate(permission.Allow)
	if c, err := gated.Locate(context.Background()); err != nil || c.Lat != 1 {
		t.Errorf("Gated allow = %+v, %v", c, err)
	}
}
