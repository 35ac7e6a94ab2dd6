package providers

import (
	"net/http"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/retry"
)

// OpenWeatherURL is the current-weather endpoint. Temperatures come back in Kelvin.
const OpenWeatherURL = "https://api.openweathermap.org/data/2.5/weather?lat={lat}&lon={lon}&appid={api_key}"

// NewOpenWeatherFetcher returns a weather fetcher. An empty template selects OpenWeatherURL.
func NewOpenWeatherFetcher(client *http.Client, apiKey, template string, policy retry.Policy, opts ...FetcherOption) *Fetcher {
	if template == "" {
		template = OpenWeatherURL
	}
	return NewFetcher(client, Endpoint{
		Kind:        collector.KindWeather,
		URLTemplate: template,
		APIKey:      apiKey,
	}, policy, opts...)
}
