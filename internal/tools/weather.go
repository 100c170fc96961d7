package tools

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"zakai/pkg"
)

// Forecaster resolves a weather request into a textual summary.
type Forecaster interface {
	Forecast(ctx context.Context, utterance string, now time.Time, lat, lon *float64) (string, error)
}

// WeatherHandler forwards the raw user utterance, current timestamp and the
// caller's coordinates to the weather backend and returns its summary
// verbatim.
type WeatherHandler struct {
	backend Forecaster
	log     zerolog.Logger
}

// NewWeatherHandler creates the weather tool.
func NewWeatherHandler(backend Forecaster, log zerolog.Logger) *WeatherHandler {
	return &WeatherHandler{backend: backend, log: log}
}

func (h *WeatherHandler) Name() string { return "weather_request" }

func (h *WeatherHandler) Description() string {
	return "Fetches the weather forecast (current, hourly, or daily) for a specified city or location. " +
		"The user input may or may not explicitly mention the forecast type or location. " +
		"If no forecast type is mentioned, default to 'current'. If no city is mentioned, default to a fallback location. " +
		"Geocoding is handled automatically if a city name is present in the input. " +
		`Parameters: {} (none required)`
}

// Execute ignores model-extracted arguments: everything the backend needs
// comes from the turn itself.
func (h *WeatherHandler) Execute(ctx context.Context, args map[string]any, turn TurnContext) (string, error) {
	var lat, lon *float64
	if turn.Location != nil {
		lat = &turn.Location.Latitude
		lon = &turn.Location.Longitude
	}

	summary, err := h.backend.Forecast(ctx, turn.Utterance, turn.Timestamp, lat, lon)
	if err != nil {
		// Messages addressed to the user, like an unresolvable city, go back
		// verbatim. Everything else collapses to the generic failure reply.
		var ue *pkg.UserError
		if errors.As(err, &ue) {
			return ue.Msg, nil
		}
		h.log.Warn().Err(err).Msg("weather backend failed")
		return "error in weather response, please try again", nil
	}
	return summary, nil
}
