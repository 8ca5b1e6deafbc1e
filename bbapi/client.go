package bbapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"buoy_importer/obs"
)

// ErrNoData is returned when the API has no samples for the request.
// It is a valid outcome, not a failure.
var ErrNoData = errors.New("no data available")

const timeFormat = "2006-01-02T15:04:05Z"

// Client talks to the Backyard Buoys location API.
// Every request waits on a shared rate limiter.
type Client struct {
	locationsURL    string
	locationDataURL string
	httpClient      *http.Client
	limiter         *rate.Limiter
}

// NewClient creates a client. rps is the maximum requests per second and
// can be fractional, burst the maximum burst size.
func NewClient(locationsURL, locationDataURL string, timeout time.Duration, rps float64, burst int) *Client {
	if burst < 1 {
		burst = 1
	}
	return &Client{
		locationsURL:    locationsURL,
		locationDataURL: locationDataURL,
		httpClient:      &http.Client{Timeout: timeout},
		limiter:         rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait canceled: %w", err)
	}

	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Locations lists every deployment location
func (c *Client) Locations(ctx context.Context) ([]Location, error) {
	var locations []Location
	if err := c.get(ctx, c.locationsURL, nil, &locations); err != nil {
		return nil, err
	}
	return locations, nil
}

// LocationData fetches all variables of a location measured at or after since.
// A zero since fetches the whole history.
func (c *Client) LocationData(ctx context.Context, locationID string, since time.Time) ([]obs.Observation, error) {
	params := url.Values{}
	params.Add("loc_id", locationID)
	params.Add("var_id", "ALL")
	if !since.IsZero() {
		params.Add("time_start", since.UTC().Format(timeFormat))
	}

	var data locationData
	if err := c.get(ctx, c.locationDataURL, params, &data); err != nil {
		return nil, fmt.Errorf("%s: %w", locationID, err)
	}

	observations := toObservations(locationID, &data)
	if len(observations) == 0 {
		return nil, ErrNoData
	}
	return observations, nil
}

// toObservations turns a decoded response into one observation per sample
// per published variable
func toObservations(locationID string, data *locationData) []obs.Observation {
	var out []obs.Observation
	for _, v := range data.Variables {
		if obs.Dropped(v.VarID) {
			continue
		}

		for _, e := range v.Data {
			depth := deref(e.Depth, 0)
			variable, ok := obs.FromAPI(v.VarID, depth)
			if !ok {
				slog.Warn(fmt.Sprintf("%v: unknown variable '%s', skipping", locationID, v.VarID))
				break
			}

			out = append(out, obs.Observation{
				Timestamp:  int64(e.Timestamp),
				LocationID: locationID,
				PlatformID: e.PlatformID,
				Variable:   variable.Name,
				Class:      variable.Class,
				Value:      deref(e.Value, obs.Null()),
				Depth:      depth,
				Latitude:   deref(e.Lat, obs.Null()),
				Longitude:  deref(e.Lon, obs.Null()),
			})
		}
	}
	return out
}

func deref(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}
