package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zakai/pkg"
)

type scriptedModel struct {
	replies []string
	calls   int
	inputs  [][]*schema.Message
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.inputs = append(m.inputs, input)
	reply := ""
	if m.calls < len(m.replies) {
		reply = m.replies[m.calls]
	}
	m.calls++
	return schema.AssistantMessage(reply, nil), nil
}

func newTestService(m *scriptedModel, geocodeURL, forecastURL string) *Service {
	return &Service{
		model:       m,
		http:        &http.Client{Timeout: time.Second},
		geocodeURL:  geocodeURL,
		forecastURL: forecastURL,
		defaultLat:  30.0444,
		defaultLon:  31.2357,
		log:         zerolog.Nop(),
	}
}

func TestForecastWithCity(t *testing.T) {
	geocoder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Paris", r.URL.Query().Get("name"))
		w.Write([]byte(`{"results": [{"latitude": 48.85, "longitude": 2.35, "country": "France"}]}`))
	}))
	defer geocoder.Close()

	forecaster := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "48.85", r.URL.Query().Get("latitude"))
		assert.NotEmpty(t, r.URL.Query().Get("current"))
		w.Write([]byte(`{"current": {"temperature_2m": 18.5, "weathercode": 1}}`))
	}))
	defer forecaster.Close()

	m := &scriptedModel{replies: []string{
		`{"has_city": true, "city_name": "Paris", "country": "France", "forecast_type": "current", "confidence_score": 0.95}`,
		"It's a mild 18.5C in Paris right now.",
	}}
	svc := newTestService(m, geocoder.URL, forecaster.URL)

	reply, err := svc.Forecast(context.Background(), "weather in Paris?", time.Now(), nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "It's a mild 18.5C in Paris right now.", reply)
	// The summarize prompt carries the forecast data and the question.
	prompt := m.inputs[1][0].Content
	assert.Contains(t, prompt, "temperature_2m")
	assert.Contains(t, prompt, "weather in Paris?")
}

func TestForecastCountryMismatch(t *testing.T) {
	geocoder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [{"latitude": 31.77, "longitude": 35.21, "country": "Israel"}]}`))
	}))
	defer geocoder.Close()

	m := &scriptedModel{replies: []string{
		`{"has_city": true, "city_name": "Jerusalem", "country": "Palestine", "forecast_type": "current", "confidence_score": 0.8}`,
	}}
	svc := newTestService(m, geocoder.URL, "http://unused.invalid")

	_, err := svc.Forecast(context.Background(), "weather in Jerusalem, Palestine?", time.Now(), nil, nil)

	require.Error(t, err)
	var ue *pkg.UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Error: Country mismatch. Please specify the country more clearly.", ue.Msg)
}

func TestForecastCityNotFound(t *testing.T) {
	geocoder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer geocoder.Close()

	m := &scriptedModel{replies: []string{
		`{"has_city": true, "city_name": "Xyzzyville", "country": "Nowhere", "forecast_type": "current", "confidence_score": 0.4}`,
	}}
	svc := newTestService(m, geocoder.URL, "http://unused.invalid")

	_, err := svc.Forecast(context.Background(), "weather in Xyzzyville?", time.Now(), nil, nil)

	require.Error(t, err)
	var ue *pkg.UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "City not found. Please check the name and try again.", ue.Msg)
}

func TestForecastUsesRequestCoordinates(t *testing.T) {
	forecaster := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "52.52", r.URL.Query().Get("latitude"))
		assert.Equal(t, "13.405", r.URL.Query().Get("longitude"))
		assert.NotEmpty(t, r.URL.Query().Get("hourly"))
		w.Write([]byte(`{"hourly": {"temperature_2m": [12, 13, 14]}}`))
	}))
	defer forecaster.Close()

	m := &scriptedModel{replies: []string{
		`{"has_city": false, "city_name": "", "country": "", "forecast_type": "hourly", "confidence_score": 0.9}`,
		"Expect 12 to 14C over the next hours.",
	}}
	svc := newTestService(m, "http://unused.invalid", forecaster.URL)

	lat, lon := 52.52, 13.405
	reply, err := svc.Forecast(context.Background(), "will it rain later?", time.Now(), &lat, &lon)

	require.NoError(t, err)
	assert.Equal(t, "Expect 12 to 14C over the next hours.", reply)
}

func TestForecastDefaultsCoordinates(t *testing.T) {
	forecaster := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "30.0444", r.URL.Query().Get("latitude"))
		w.Write([]byte(`{"current": {"temperature_2m": 30}}`))
	}))
	defer forecaster.Close()

	m := &scriptedModel{replies: []string{
		`{"has_city": false, "city_name": "", "country": "", "forecast_type": "current", "confidence_score": 0.7}`,
		"A hot 30C right now.",
	}}
	svc := newTestService(m, "http://unused.invalid", forecaster.URL)

	_, err := svc.Forecast(context.Background(), "how's the weather?", time.Now(), nil, nil)
	require.NoError(t, err)
}

func TestForecastInvalidTypeDefaultsToCurrent(t *testing.T) {
	forecaster := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("current"))
		w.Write([]byte(`{"current": {"temperature_2m": 20}}`))
	}))
	defer forecaster.Close()

	m := &scriptedModel{replies: []string{
		`{"has_city": false, "city_name": "", "country": "", "forecast_type": "Current Weather", "confidence_score": 0.5}`,
		"About 20C.",
	}}
	svc := newTestService(m, "http://unused.invalid", forecaster.URL)

	_, err := svc.Forecast(context.Background(), "weather?", time.Now(), nil, nil)
	require.NoError(t, err)
}
