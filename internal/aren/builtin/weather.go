package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aren-assistant/aren/internal/aren/skills"
)

// DefaultWeatherEndpoint is the OpenWeatherMap 2.5 API root.
const DefaultWeatherEndpoint = "https://api.openweathermap.org/data/2.5"

// ErrUnknownLocation is returned when the provider does not know the place.
var ErrUnknownLocation = errors.New("unknown location")

// WeatherConfig selects the weather provider. Without an API key the skill
// produces a deterministic offline report.
type WeatherConfig struct {
	APIKey   string
	Endpoint string
}

// Report is one day's conditions. Condition is one of clear, clouds, rain,
// drizzle, thunderstorm, snow or mist.
type Report struct {
	Condition string
	TempC     float64
	Humidity  int
}

// WeatherProvider looks up a report for a place and a day offset (0 is
// today).
type WeatherProvider interface {
	Forecast(ctx context.Context, location string, days int) (Report, error)
}

// Weather is the weather skill.
type Weather struct {
	provider WeatherProvider
	source   string
	logger   *slog.Logger
}

// NewWeather picks OpenWeatherMap when cfg has an API key and the offline
// provider otherwise.
func NewWeather(cfg WeatherConfig, client *http.Client, logger *slog.Logger) *Weather {
	if cfg.APIKey == "" {
		return &Weather{provider: OfflineWeather{}, source: "offline", logger: logger}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultWeatherEndpoint
	}
	return &Weather{
		provider: &OpenWeatherMap{apiKey: cfg.APIKey, endpoint: strings.TrimRight(endpoint, "/"), client: client},
		source:   "openweathermap",
		logger:   logger,
	}
}

var dayOffsets = map[string]int{
	skills.DayToday:    0,
	skills.DayTomorrow: 1,
	skills.DayAfter:    2,
}

// Invoke implements skills.Invoker.
func (w *Weather) Invoke(ctx context.Context, req skills.Request) (*skills.Result, error) {
	location := req.Slots["location"]
	day := req.Slots["day"]
	if day == "" {
		day = skills.DayToday
	}

	r, err := w.provider.Forecast(ctx, location, dayOffsets[day])
	if err != nil {
		return nil, fmt.Errorf("weather for %s: %w", location, err)
	}
	w.logger.Debug("weather: report", "location", location, "day", day, "source", w.source, "condition", r.Condition)

	return fields(
		"location", location,
		"day", day,
		"condition", r.Condition,
		"temp", strconv.Itoa(int(math.Round(r.TempC))),
		"humidity", strconv.Itoa(r.Humidity),
		"source", w.source,
	), nil
}

// ---------------------------------------------------------------------------
// Offline
// ---------------------------------------------------------------------------

var offlineConditions = []string{"clear", "clouds", "rain", "drizzle", "mist"}

// OfflineWeather derives a stable, plausible report from a hash of the
// place and day, so replays and tests see the same weather every time.
type OfflineWeather struct{}

// Forecast implements WeatherProvider.
func (OfflineWeather) Forecast(_ context.Context, location string, days int) (Report, error) {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%d", strings.ToLower(location), days)
	sum := h.Sum32()
	return Report{
		Condition: offlineConditions[sum%uint32(len(offlineConditions))],
		TempC:     float64(18 + (sum>>8)%18),
		Humidity:  int(35 + (sum>>16)%55),
	}, nil
}

// ---------------------------------------------------------------------------
// OpenWeatherMap
// ---------------------------------------------------------------------------

// OpenWeatherMap queries the current weather for today and the 3-hourly
// forecast for later days.
type OpenWeatherMap struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

type owmReading struct {
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
}

// Forecast implements WeatherProvider.
func (o *OpenWeatherMap) Forecast(ctx context.Context, location string, days int) (Report, error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", o.apiKey)
	q.Set("units", "metric")

	if days == 0 {
		var r owmReading
		if err := o.get(ctx, "/weather", q, &r); err != nil {
			return Report{}, err
		}
		return r.report(), nil
	}

	// Forecast entries are three hours apart; eight of them make a day.
	q.Set("cnt", strconv.Itoa(8*days+1))
	var f struct {
		List []owmReading `json:"list"`
	}
	if err := o.get(ctx, "/forecast", q, &f); err != nil {
		return Report{}, err
	}
	if len(f.List) == 0 {
		return Report{}, errors.New("empty forecast")
	}
	i := min(8*days, len(f.List)-1)
	return f.List[i].report(), nil
}

func (o *OpenWeatherMap) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openweathermap: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrUnknownLocation
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("openweathermap: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openweathermap: decode: %w", err)
	}
	return nil
}

func (r owmReading) report() Report {
	cond := "clear"
	if len(r.Weather) > 0 {
		cond = conditionCode(r.Weather[0].Main)
	}
	return Report{Condition: cond, TempC: r.Main.Temp, Humidity: r.Main.Humidity}
}

// conditionCode folds OpenWeatherMap's main groups into the template codes.
func conditionCode(main string) string {
	switch m := strings.ToLower(main); m {
	case "clear", "clouds", "rain", "drizzle", "thunderstorm", "snow":
		return m
	default:
		return "mist"
	}
}
