package server

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// metrics record through the global meter provider, which is a no-op until
// the process installs one.
type metrics struct {
	broadcast metric.Int64Counter
	dropped   metric.Int64Counter
	active    metric.Int64UpDownCounter
}

func newMetrics(log zerolog.Logger) metrics {
	meter := otel.Meter("nmea-bridge/server")
	var fallback noop.Meter
	m := metrics{}
	var err error
	if m.broadcast, err = meter.Int64Counter("nmea.sentences.broadcast",
		metric.WithDescription("Sentences broadcast to all clients")); err != nil {
		log.Warn().Err(err).Msg("metric unavailable")
		m.broadcast, _ = fallback.Int64Counter("nmea.sentences.broadcast")
	}
	if m.dropped, err = meter.Int64Counter("nmea.clients.dropped",
		metric.WithDescription("Clients removed after a write error or full queue")); err != nil {
		log.Warn().Err(err).Msg("metric unavailable")
		m.dropped, _ = fallback.Int64Counter("nmea.clients.dropped")
	}
	if m.active, err = meter.Int64UpDownCounter("nmea.clients.active",
		metric.WithDescription("Registered clients")); err != nil {
		log.Warn().Err(err).Msg("metric unavailable")
		m.active, _ = fallback.Int64UpDownCounter("nmea.clients.active")
	}
	return m
}
