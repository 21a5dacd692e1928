// Package places provides a client for the Google Places API (v1),
// covering the lookup, review, and photo needs of the extraction pipeline.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/cityhive/directory/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// detailsFieldMask selects the fields the pipeline consumes from a place.
const detailsFieldMask = "id,displayName,formattedAddress,internationalPhoneNumber,websiteUri,location,rating,userRatingCount,types"

// Client performs Google Places API operations.
type Client interface {
	// Details fetches a place by its resource id.
	Details(ctx context.Context, placeID string) (*Place, error)
	// SearchText finds the best-matching place for a free-text query.
	SearchText(ctx context.Context, query string) (*TextSearchResponse, error)
	// Reviews fetches the most relevant reviews for a place.
	Reviews(ctx context.Context, placeID string) ([]Review, error)
	// Photos fetches photo resource names for a place.
	Photos(ctx context.Context, placeID string) ([]Photo, error)
}

// Place represents a place returned by the API.
type Place struct {
	ID                       string      `json:"id"`
	DisplayName              DisplayName `json:"displayName"`
	FormattedAddress         string      `json:"formattedAddress"`
	InternationalPhoneNumber string      `json:"internationalPhoneNumber"`
	WebsiteURI               string      `json:"websiteUri"`
	Location                 LatLng      `json:"location"`
	Rating                   float64     `json:"rating"`
	UserRatingCount          int         `json:"userRatingCount"`
	Types                    []string    `json:"types"`
	Reviews                  []Review    `json:"reviews,omitempty"`
	Photos                   []Photo     `json:"photos,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// LatLng is a geographic coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Review is a single user review of a place.
type Review struct {
	Name            string      `json:"name"`
	Rating          float64     `json:"rating"`
	Text            ReviewText  `json:"text"`
	AuthorName      string      `json:"authorAttribution,omitempty"`
	PublishTime     string      `json:"publishTime,omitempty"`
	RelativeTimeDsc string      `json:"relativePublishTimeDescription,omitempty"`
}

// ReviewText holds the localized review body.
type ReviewText struct {
	Text string `json:"text"`
}

// Photo is a photo resource reference for a place.
type Photo struct {
	Name     string `json:"name"`
	WidthPx  int    `json:"widthPx"`
	HeightPx int    `json:"heightPx"`
}

// MediaURL returns a fetchable media URL for the photo at the given width.
func (p Photo) MediaURL(baseURL string, maxWidth int) string {
	return fmt.Sprintf("%s/%s/media?maxWidthPx=%d&skipHttpRedirect=false", baseURL, p.Name, maxWidth)
}

// TextSearchResponse is the response from Places Text Search.
type TextSearchResponse struct {
	Places []Place `json:"places"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Details(ctx context.Context, placeID string) (*Place, error) {
	var place Place
	url := fmt.Sprintf("%s/places/%s", c.baseURL, placeID)
	if err := c.doGet(ctx, url, detailsFieldMask, &place); err != nil {
		return nil, eris.Wrapf(err, "places: details %s", placeID)
	}
	return &place, nil
}

func (c *httpClient) SearchText(ctx context.Context, query string) (*TextSearchResponse, error) {
	body, err := json.Marshal(map[string]string{"textQuery": query})
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal search request")
	}

	var resp TextSearchResponse
	url := c.baseURL + "/places:searchText"
	mask := "places.id,places.displayName,places.formattedAddress,places.websiteUri,places.location,places.rating,places.userRatingCount"
	if err := c.doPost(ctx, url, mask, body, &resp); err != nil {
		return nil, eris.Wrap(err, "places: text search")
	}
	return &resp, nil
}

func (c *httpClient) Reviews(ctx context.Context, placeID string) ([]Review, error) {
	var place Place
	url := fmt.Sprintf("%s/places/%s", c.baseURL, placeID)
	if err := c.doGet(ctx, url, "id,reviews", &place); err != nil {
		return nil, eris.Wrapf(err, "places: reviews %s", placeID)
	}
	return place.Reviews, nil
}

func (c *httpClient) Photos(ctx context.Context, placeID string) ([]Photo, error) {
	var place Place
	url := fmt.Sprintf("%s/places/%s", c.baseURL, placeID)
	if err := c.doGet(ctx, url, "id,photos", &place); err != nil {
		return nil, eris.Wrapf(err, "places: photos %s", placeID)
	}
	return place.Photos, nil
}

func (c *httpClient) doGet(ctx context.Context, url, fieldMask string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	return c.do(req, fieldMask, out)
}

func (c *httpClient) doPost(ctx context.Context, url, fieldMask string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, fieldMask, out)
}

func (c *httpClient) do(req *http.Request, fieldMask string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}

	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("places api status %d: %s", resp.StatusCode, truncate(string(data), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
