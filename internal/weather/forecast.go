package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"zakai/internal/config"
	"zakai/internal/llm"
	"zakai/internal/logger"
	"zakai/pkg"
)

const classifyInstruction = `Analyze the user's weather-related request and respond with ONLY a JSON object:
{"has_city": true|false, "city_name": "...", "country": "...", "forecast_type": "current"|"hourly"|"daily", "confidence_score": 0.0-1.0}

Rules:
- If no city name is mentioned, set has_city to false and leave city_name and country as empty strings.
- If a city is mentioned, extract the most likely city and its associated country (best guess).
- forecast_type "current": weather right now. "hourly": conditions over the next few hours (within 24 hours). "daily": forecast over multiple days (tomorrow, the weekend, next 3 days).
- If the time reference is vague or absent, default forecast_type to "current".
- Only return the listed values exactly as specified.`

const summarizeInstruction = "You are a helpful and friendly weather assistant. Your task is to analyze the provided weather forecast data " +
	"and generate a clear, human-readable summary that answers the user's question. " +
	"Always use a warm, easy-to-understand tone, and focus on making the response personalized and relevant.\n\n" +
	"Customize your response using the user's location and time:\n" +
	"- Latitude: %v\n" +
	"- Longitude: %v\n" +
	"- Current Date and Time: %s\n\n" +
	"Use the forecast data below to generate your answer. Include actionable or practical advice if appropriate " +
	"(e.g., bring an umbrella, wear light clothing).\n\n" +
	"--- Weather Forecast Data ---\n%s\n\n" +
	"--- User Question ---\n%s"

// request holds the model's classification of a weather utterance.
type request struct {
	HasCity         bool    `json:"has_city"`
	CityName        string  `json:"city_name"`
	Country         string  `json:"country"`
	ForecastType    string  `json:"forecast_type"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Service answers weather questions: it classifies the utterance, geocodes a
// mentioned city, fetches the matching forecast slice, and asks the model to
// summarize it.
type Service struct {
	model       llm.Generator
	http        *http.Client
	geocodeURL  string
	forecastURL string
	defaultLat  float64
	defaultLon  float64
	log         zerolog.Logger
}

// NewService creates a weather service from configuration.
func NewService(model llm.Generator, cfg config.WeatherConfig) *Service {
	return &Service{
		model:       model,
		http:        &http.Client{Timeout: 10 * time.Second},
		geocodeURL:  cfg.GeocodeURL,
		forecastURL: cfg.ForecastURL,
		defaultLat:  cfg.DefaultLatitude,
		defaultLon:  cfg.DefaultLongitude,
		log:         logger.With("weather"),
	}
}

// Forecast produces a conversational weather answer for the utterance.
// Coordinates from the request override nils; a mentioned city overrides
// both via geocoding.
func (s *Service) Forecast(ctx context.Context, utterance string, now time.Time, lat, lon *float64) (string, error) {
	req, err := s.classify(ctx, utterance)
	if err != nil {
		return "", fmt.Errorf("classifying weather request: %w", err)
	}
	s.log.Debug().
		Str("forecast_type", req.ForecastType).
		Float64("confidence", req.ConfidenceScore).
		Msg("weather request classified")

	latitude, longitude := s.defaultLat, s.defaultLon
	if lat != nil {
		latitude = *lat
	}
	if lon != nil {
		longitude = *lon
	}

	if req.HasCity {
		place, err := s.geocode(ctx, req.CityName, req.Country)
		if err != nil {
			return "", err
		}
		latitude, longitude = place.Latitude, place.Longitude
	}

	data, err := s.fetchForecast(ctx, latitude, longitude, req.ForecastType)
	if err != nil {
		return "", fmt.Errorf("fetching forecast: %w", err)
	}

	return s.summarize(ctx, utterance, now, latitude, longitude, data)
}

func (s *Service) classify(ctx context.Context, utterance string) (request, error) {
	out, err := s.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(classifyInstruction),
		schema.UserMessage(utterance),
	})
	if err != nil {
		return request{}, err
	}

	var req request
	if err := sonic.Unmarshal([]byte(extractJSON(out.Content)), &req); err != nil {
		return request{}, fmt.Errorf("parsing classification %q: %w", out.Content, err)
	}
	switch req.ForecastType {
	case "current", "hourly", "daily":
	default:
		req.ForecastType = "current"
	}
	return req, nil
}

type place struct {
	Latitude  float64
	Longitude float64
	Country   string
}

// geocode resolves a city to coordinates. The resolved country must match
// the one the model associated with the city; a mismatch means the wrong
// city was found and the user has to disambiguate.
func (s *Service) geocode(ctx context.Context, city, expectedCountry string) (place, error) {
	query := url.Values{
		"name":     {city},
		"count":    {"1"},
		"language": {"en"},
		"format":   {"json"},
	}
	body, err := s.get(ctx, s.geocodeURL+"?"+query.Encode())
	if err != nil {
		return place{}, fmt.Errorf("geocoding %q: %w", city, err)
	}

	var resp struct {
		Results []struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Country   string  `json:"country"`
		} `json:"results"`
	}
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return place{}, fmt.Errorf("decoding geocoding response: %w", err)
	}
	if len(resp.Results) == 0 {
		return place{}, &pkg.UserError{Msg: "City not found. Please check the name and try again."}
	}

	found := resp.Results[0]
	if expectedCountry != "" && !strings.EqualFold(found.Country, expectedCountry) {
		return place{}, &pkg.UserError{Msg: "Error: Country mismatch. Please specify the country more clearly."}
	}
	return place{Latitude: found.Latitude, Longitude: found.Longitude, Country: found.Country}, nil
}

// fetchForecast requests the variable set matching the forecast type and
// returns only that section of the response.
func (s *Service) fetchForecast(ctx context.Context, lat, lon float64, forecastType string) (string, error) {
	query := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"timezone":  {"auto"},
	}
	switch forecastType {
	case "hourly":
		query.Set("hourly", "temperature_2m,apparent_temperature,precipitation,weathercode")
	case "daily":
		query.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,weathercode")
	default:
		query.Set("current", "temperature_2m,wind_speed_10m,weathercode")
	}

	body, err := s.get(ctx, s.forecastURL+"?"+query.Encode())
	if err != nil {
		return "", err
	}

	var resp map[string]json.RawMessage
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding forecast response: %w", err)
	}
	section := forecastType
	if section != "hourly" && section != "daily" {
		section = "current"
	}
	raw, ok := resp[section]
	if !ok {
		return "", fmt.Errorf("forecast response missing %q section", section)
	}
	return string(raw), nil
}

func (s *Service) summarize(ctx context.Context, utterance string, now time.Time, lat, lon float64, data string) (string, error) {
	prompt := fmt.Sprintf(summarizeInstruction, lat, lon, now.Format("2006-01-02 15:04:05"), data, utterance)
	out, err := s.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("summarizing forecast: %w", err)
	}
	return out.Content, nil
}

func (s *Service) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// extractJSON returns the outermost JSON object in content, tolerating code
// fences and prose around the model's output.
func extractJSON(content string) string {
	start, end := -1, -1
	for i, c := range content {
		if c == '{' {
			start = i
			break
		}
	}
	for i := len(content) - 1; i >= 0; i-- {
		if content[i] == '}' {
			end = i
			break
		}
	}
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}
