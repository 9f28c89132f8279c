package feeds

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"sentinelai-backend/shared/config"
	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
)

// Manager owns the enabled feed clients.
type Manager struct {
	clients []Client
	logger  logx.Logger
}

func NewManager(logger logx.Logger, clients ...Client) *Manager {
	return &Manager{clients: clients, logger: logger}
}

// Build constructs every feed enabled in cfg. Disabled feeds are omitted.
func Build(cfg config.Config, sink EventSink, logger logx.Logger) *Manager {
	var clients []Client
	if cfg.APRSEnabled {
		rc := RadioConfig{
			Host:           cfg.APRSHost,
			Port:           cfg.APRSPort,
			Callsign:       cfg.APRSCallsign,
			Passcode:       cfg.APRSPasscode,
			ClientID:       cfg.APRSClientID,
			Filter:         cfg.APRSFilter,
			FilterRadiusKm: cfg.APRSFilterRadiusKm,
			MissionID:      cfg.APRSMissionID,
			BackoffInitial: time.Duration(cfg.APRSBackoffInitialSec) * time.Second,
			BackoffMax:     time.Duration(cfg.APRSBackoffMaxSec) * time.Second,
			StableAfter:    time.Duration(cfg.APRSStableSec) * time.Second,
		}
		if cfg.APRSFilterLat != nil && cfg.APRSFilterLon != nil {
			rc.FilterCenter = &events.GeoPoint{Lat: *cfg.APRSFilterLat, Lon: *cfg.APRSFilterLon}
		}
		clients = append(clients, NewRadioClient(rc, sink, &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}, logger))
	}
	if cfg.ADSBEnabled && cfg.ADSBCenterLat != nil && cfg.ADSBCenterLon != nil {
		clients = append(clients, NewTracksPoller(TracksConfig{
			BaseURL:   cfg.ADSBBaseURL,
			Center:    events.GeoPoint{Lat: *cfg.ADSBCenterLat, Lon: *cfg.ADSBCenterLon},
			RadiusNM:  cfg.ADSBRadiusNM,
			MissionID: cfg.ADSBMissionID,
			Interval:  time.Duration(cfg.ADSBPollSec) * time.Second,
		}, tracedHTTPClient(time.Duration(cfg.ADSBTimeoutMS)*time.Millisecond), sink, logger))
	}
	if cfg.WeatherEnabled && cfg.WeatherLat != nil && cfg.WeatherLon != nil {
		clients = append(clients, NewWeatherPoller(WeatherConfig{
			BaseURL:   cfg.WeatherBaseURL,
			Location:  events.GeoPoint{Lat: *cfg.WeatherLat, Lon: *cfg.WeatherLon},
			MissionID: cfg.WeatherMissionID,
			Interval:  time.Duration(cfg.WeatherPollSec) * time.Second,
		}, tracedHTTPClient(time.Duration(cfg.WeatherTimeoutMS)*time.Millisecond), sink, logger))
	}
	return NewManager(logger, clients...)
}

func tracedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Start launches every client. A client that fails to start is logged and
// skipped; the others keep running.
func (m *Manager) Start(ctx context.Context) error {
	var errs []error
	for _, c := range m.clients {
		if err := c.Start(ctx); err != nil {
			m.logger.Error(ctx, "feed_start_failed", "feed failed to start",
				slog.String("feed", c.Name()),
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		m.logger.Info(ctx, "feed_started", "feed started", slog.String("feed", c.Name()))
	}
	return errors.Join(errs...)
}

// Stop stops every client and waits for their loops to exit.
func (m *Manager) Stop() {
	for _, c := range m.clients {
		c.Stop()
	}
}

// States returns one ConnectionState per configured feed.
func (m *Manager) States() []ConnectionState {
	out := make([]ConnectionState, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c.State())
	}
	return out
}

func (m *Manager) Len() int { return len(m.clients) }
