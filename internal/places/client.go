package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api"

// Status values Google returns that are not failures.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// ErrMissingAPIKey is returned before any request when no key is configured.
var ErrMissingAPIKey = errors.New("google maps api key not set")

// APIError is an upstream failure: a non-2xx response or a status other than OK/ZERO_RESULTS.
type APIError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		if e.Message != "" {
			return fmt.Sprintf("%s: status %s: %s", e.Endpoint, e.Status, e.Message)
		}
		return fmt.Sprintf("%s: status %s", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: http %d", e.Endpoint, e.StatusCode)
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l LatLng) String() string {
	return strconv.FormatFloat(l.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(l.Lng, 'f', 6, 64)
}

// Place is one nearby search result.
type Place struct {
	Name             string   `json:"name"`
	PlaceID          string   `json:"place_id"`
	Rating           *float64 `json:"rating"`
	Vicinity         *string  `json:"vicinity"`
	Types            []string `json:"types"`
	PriceLevel       *int     `json:"price_level"`
	UserRatingsTotal *int     `json:"user_ratings_total"`
}

// NearbyRequest describes one nearby search call. A non-empty PageToken
// replaces every other parameter.
type NearbyRequest struct {
	Location     LatLng
	RadiusMeters int
	Keyword      string
	PageToken    string
}

// NearbyPage is one page of nearby results plus the continuation token, if any.
type NearbyPage struct {
	Results       []Place
	NextPageToken string
}

// OpeningHours holds the human-readable weekly schedule.
type OpeningHours struct {
	WeekdayText []string `json:"weekday_text"`
}

// Detail is the place details payload restricted to the requested fields.
type Detail struct {
	Name                 *string       `json:"name"`
	Website              *string       `json:"website"`
	FormattedPhoneNumber *string       `json:"formatted_phone_number"`
	FormattedAddress     *string       `json:"formatted_address"`
	Rating               *float64      `json:"rating"`
	UserRatingsTotal     *int          `json:"user_ratings_total"`
	OpeningHours         *OpeningHours `json:"opening_hours"`
	PriceLevel           *int          `json:"price_level"`
	Types                []string      `json:"types"`
}

// Client calls the Google Maps web service JSON endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another host, typically a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Status        string          `json:"status"`
	ErrorMessage  string          `json:"error_message"`
	NextPageToken string          `json:"next_page_token"`
	Results       json.RawMessage `json:"results"`
	Result        json.RawMessage `json:"result"`
}

// Geocode resolves free text to one coordinate. It returns nil, nil when nothing matched.
func (c *Client) Geocode(ctx context.Context, address string) (*LatLng, error) {
	params := url.Values{}
	params.Set("address", address)
	env, err := c.get(ctx, "geocode/json", params)
	if err != nil {
		return nil, err
	}
	var results []struct {
		Geometry struct {
			Location LatLng `json:"location"`
		} `json:"geometry"`
	}
	if len(env.Results) > 0 {
		if err := json.Unmarshal(env.Results, &results); err != nil {
			return nil, fmt.Errorf("decode geocode results: %w", err)
		}
	}
	if len(results) == 0 {
		return nil, nil
	}
	loc := results[0].Geometry.Location
	return &loc, nil
}

// NearbySearch returns one page of establishments around req.Location.
func (c *Client) NearbySearch(ctx context.Context, req NearbyRequest) (NearbyPage, error) {
	params := url.Values{}
	if req.PageToken != "" {
		params.Set("pagetoken", req.PageToken)
	} else {
		params.Set("location", req.Location.String())
		params.Set("radius", strconv.Itoa(req.RadiusMeters))
		params.Set("type", "establishment")
		if kw := strings.TrimSpace(req.Keyword); kw != "" {
			params.Set("keyword", kw)
		}
	}
	env, err := c.get(ctx, "place/nearbysearch/json", params)
	if err != nil {
		return NearbyPage{}, err
	}
	page := NearbyPage{NextPageToken: env.NextPageToken}
	if len(env.Results) > 0 {
		if err := json.Unmarshal(env.Results, &page.Results); err != nil {
			return NearbyPage{}, fmt.Errorf("decode nearby results: %w", err)
		}
	}
	return page, nil
}

// PlaceDetails fetches the allowlisted fields for one place.
func (c *Client) PlaceDetails(ctx context.Context, placeID string, fields []string) (Detail, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	if len(fields) > 0 {
		params.Set("fields", strings.Join(fields, ","))
	}
	env, err := c.get(ctx, "place/details/json", params)
	if err != nil {
		return Detail{}, err
	}
	var d Detail
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &d); err != nil {
			return Detail{}, fmt.Errorf("decode place details: %w", err)
		}
	}
	return d, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (envelope, error) {
	var env envelope
	if c.apiKey == "" {
		return env, ErrMissingAPIKey
	}
	params.Set("key", c.apiKey)
	u := c.baseURL + "/" + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return env, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The request URL carries the API key.
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = c.baseURL + "/" + endpoint
		}
		return env, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return env, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return env, fmt.Errorf("%s: decode: %w", endpoint, err)
	}
	switch env.Status {
	case StatusOK, StatusZeroResults:
		return env, nil
	default:
		return env, &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Status: env.Status, Message: env.ErrorMessage}
	}
}
