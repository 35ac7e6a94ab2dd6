package providers

import (
	"net/http"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/retry"
)

// TomTomURL is the flow segment endpoint at zoom level 20.
const TomTomURL = "https://api.tomtom.com/traffic/services/4/flowSegmentData/absolute/20/json?key={api_key}&point={lat},{lon}"

// NewTomTomFetcher returns a traffic fetcher. An empty template selects TomTomURL.
func NewTomTomFetcher(client *http.Client, apiKey, template string, policy retry.Policy, opts ...FetcherOption) *Fetcher {
	if template == "" {
		template = TomTomURL
	}
	return NewFetcher(client, Endpoint{
		Kind:        collector.KindTraffic,
		URLTemplate: template,
		APIKey:      apiKey,
	}, policy, opts...)
}
