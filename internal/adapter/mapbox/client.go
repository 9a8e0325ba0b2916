package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
	"github.com/couchcryptid/crisis-funding-etl/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.CountryGeocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// GeocodeCountry looks up a free-text country name, restricted to country
// features. An empty match with a nil error means Mapbox found nothing.
func (c *Client) GeocodeCountry(ctx context.Context, name string) (domain.CountryMatch, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(name))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"country"},
		"language":     {"en"},
	}

	start := time.Now()
	match, err := c.doRequest(ctx, u+"?"+params.Encode())
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
	case match.ISO2 == "" && match.Name == "":
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		c.logger.Debug("mapbox returned no country", "query", name)
	default:
		c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	}
	return match, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.CountryMatch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.CountryMatch{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CountryMatch{}, fmt.Errorf("country geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.CountryMatch{}, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return domain.CountryMatch{}, fmt.Errorf("decode response: %w", err)
	}

	if len(mapboxResp.Features) == 0 {
		return domain.CountryMatch{}, nil
	}

	f := mapboxResp.Features[0]
	return domain.CountryMatch{
		Name:       f.Text,
		ISO2:       strings.ToUpper(f.Properties.ShortCode),
		Confidence: f.Relevance,
	}, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	PlaceName  string     `json:"place_name"`
	Text       string     `json:"text"`
	Relevance  float64    `json:"relevance"`
	Properties properties `json:"properties"`
}

type properties struct {
	ShortCode string `json:"short_code"` // ISO 3166-1 alpha-2, lower case
}
