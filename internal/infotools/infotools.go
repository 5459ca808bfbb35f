// Package infotools wraps the optional information backends: OpenWeather
// for current conditions and a SearXNG instance for web search. Both are
// opt-in; unconfigured clients answer with a fixed notice instead of
// failing the command.
package infotools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WeatherUnavailable is returned when no API key is configured.
const WeatherUnavailable = "Weather lookup is not configured on this host."

// SearchUnavailable is returned when no SearXNG URL is configured.
const SearchUnavailable = "Web search is not configured on this host."

// Weather queries the OpenWeather current-conditions API.
type Weather struct {
	apiKey          string
	defaultLocation string
	baseURL         string
	httpClient      *http.Client
}

func NewWeather(apiKey, defaultLocation string) *Weather {
	return &Weather{
		apiKey:          apiKey,
		defaultLocation: defaultLocation,
		baseURL:         "https://api.openweathermap.org/data/2.5/weather",
		httpClient:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether an API key is present.
func (w *Weather) Configured() bool { return w.apiKey != "" }

type weatherResponse struct {
	Name    string `json:"name"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Current returns a one-line weather summary for the location, falling back
// to the configured default location when empty.
func (w *Weather) Current(ctx context.Context, location string) (string, error) {
	if !w.Configured() {
		return WeatherUnavailable, nil
	}
	if strings.TrimSpace(location) == "" {
		location = w.defaultLocation
	}
	if location == "" {
		return "Usage: /weather <city>", nil
	}

	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("infotools: create weather request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("infotools: weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Sprintf("No weather data for %q.", location), nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("infotools: weather HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("infotools: decode weather: %w", err)
	}

	description := ""
	if len(parsed.Weather) > 0 {
		description = parsed.Weather[0].Description
	}
	name := parsed.Name
	if name == "" {
		name = location
	}
	return fmt.Sprintf("Weather in %s: %.0f°C (feels like %.0f°C), %s, humidity %d%%, wind %.1f m/s",
		name, parsed.Main.Temp, parsed.Main.FeelsLike, description,
		parsed.Main.Humidity, parsed.Wind.Speed), nil
}

// Search queries a SearXNG instance.
type Search struct {
	baseURL    string
	httpClient *http.Client
}

func NewSearch(baseURL string) *Search {
	return &Search{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// Configured reports whether a SearXNG URL is present.
func (s *Search) Configured() bool { return s.baseURL != "" }

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Query returns the top results formatted for the owner.
func (s *Search) Query(ctx context.Context, query string) (string, error) {
	if !s.Configured() {
		return SearchUnavailable, nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "Usage: /search <query>", nil
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("infotools: create search request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("infotools: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("infotools: search HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("infotools: decode search: %w", err)
	}
	if len(parsed.Results) == 0 {
		return fmt.Sprintf("No results for %q.", query), nil
	}

	lines := []string{fmt.Sprintf("Results for %q:", query)}
	for i, r := range parsed.Results {
		if i >= 5 {
			break
		}
		content := strings.TrimSpace(r.Content)
		if len(content) > 150 {
			content = content[:150] + "..."
		}
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, r.Title, r.URL))
		if content != "" {
			lines = append(lines, "   "+content)
		}
	}
	return strings.Join(lines, "\n"), nil
}
