package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/geo"
	"github.com/neuna/neuna/internal/llm"
)

// RefreshInterval is how often a Watcher refreshes.
const RefreshInterval = 15 * time.Minute

const instruction = "You are a weather data service. Use search to find current conditions and reply with strict JSON only."

const promptFormat = `Find the current weather at latitude %.4f, longitude %.4f.
Reply with ONLY a JSON object with these keys:
"location" (city and region), "countryCode" (ISO 3166 alpha-2), "tempC" (number), "tempF" (number),
"condition", "humidity", "windSpeed", "coordinates" (as "lat, lon"), "forecast" (one short sentence for the next hours).`

// Report is the outcome of one fetch. Err is set on failure; Data may be
// nil even when Sources are present.
type Report struct {
	Data      *Weather  `json:"data,omitempty"`
	Sources   []string  `json:"sources"`
	Err       error     `json:"-"`
	FetchedAt time.Time `json:"fetched_at"`
}

// OK reports whether the fetch produced data.
func (r Report) OK() bool { return r.Err == nil && r.Data != nil }

// Message is the user-facing text for Err, or "" when there is none.
func (r Report) Message() string {
	switch {
	case r.Err == nil:
		return ""
	case errors.Is(r.Err, ErrUnparsable):
		return MsgUnparsable
	case errors.Is(r.Err, llm.ErrTransport):
		return MsgTransport
	default:
		return geo.Message(r.Err)
	}
}

// Sender sends one request to the model.
type Sender interface {
	Send(ctx context.Context, req llm.Request) (*llm.Reply, error)
}

// Service fetches weather for the user's location.
type Service struct {
	gateway Sender
	locator geo.Locator
	log     *zap.Logger

	mu   sync.RWMutex
	last Report
}

// NewService returns a weather service.
func NewService(gateway Sender, locator geo.Locator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{gateway: gateway, locator: locator, log: log.Named("weather")}
}

// Fetch asks the model for the weather at lat, lon.
func (s *Service) Fetch(ctx context.Context, lat, lon float64) Report {
	reply, err := s.gateway.Send(ctx, llm.Request{
		Text:              fmt.Sprintf(promptFormat, lat, lon),
		SystemInstruction: instruction,
		Search:            true,
	})
	r := Report{FetchedAt: time.Now()}
	if err != nil {
		s.log.Warn("weather fetch failed", zap.Error(err))
		r.Err = err
		return r
	}

	for _, g := range reply.Grounding {
		r.Sources = append(r.Sources, g.URI)
	}
	r.Data, r.Err = Parse(reply.Text)
	if r.Err != nil {
		s.log.Warn("weather reply unparsable", zap.Error(r.Err), zap.String("reply", reply.Text))
	}
	return r
}

// Refresh locates the user and fetches their weather. The result is kept
// as the last report.
func (s *Service) Refresh(ctx context.Context) Report {
	var r Report
	coords, err := s.locator.Locate(ctx)
	if err != nil {
		s.log.Warn("locate failed", zap.Error(err))
		r = Report{Err: err, FetchedAt: time.Now()}
	} else {
		r = s.Fetch(ctx, coords.Lat, coords.Lon)
	}

	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
	return r
}

// Last returns the most recent report, if any.
func (s *Service) Last() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, !s.last.FetchedAt.IsZero()
}

// Watcher refreshes the weather periodically.
type Watcher struct {
	Service  *Service
	Interval time.Duration
	// OnUpdate is called with every report
	OnUpdate func(Report)
}

// Run fetches once, then refreshes every Interval for as long as the
// previous fetch succeeded. A failed fetch stops the periodic refresh until
// Run is started again. It returns when ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = RefreshInterval
	}

	last := w.refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !last.OK() {
				continue
			}
			last = w.refresh(ctx)
		}
	}
}

func (w *Watcher) refresh(ctx context.Context) Report {
	r := w.Service.Refresh(ctx)
	if w.OnUpdate != nil {
		w.OnUpdate(r)
	}
	return r
}
