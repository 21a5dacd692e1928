package steps

import (
	"context"

	"github.com/cityhive/directory/pkg/anthropic"
	"github.com/cityhive/directory/pkg/firecrawl"
	"github.com/cityhive/directory/pkg/geocode"
	"github.com/cityhive/directory/pkg/jina"
	"github.com/cityhive/directory/pkg/places"
)

// mockPlacesClient implements places.Client for testing.
type mockPlacesClient struct {
	place      *places.Place
	placeErr   error
	search     *places.TextSearchResponse
	searchErr  error
	reviews    []places.Review
	reviewsErr error
	photos     []places.Photo
	photosErr  error

	detailsCalls []string
	searchCalls  []string
}

func (m *mockPlacesClient) Details(_ context.Context, placeID string) (*places.Place, error) {
	m.detailsCalls = append(m.detailsCalls, placeID)
	return m.place, m.placeErr
}

func (m *mockPlacesClient) SearchText(_ context.Context, query string) (*places.TextSearchResponse, error) {
	m.searchCalls = append(m.searchCalls, query)
	if m.search == nil && m.searchErr == nil {
		return &places.TextSearchResponse{}, nil
	}
	return m.search, m.searchErr
}

func (m *mockPlacesClient) Reviews(_ context.Context, _ string) ([]places.Review, error) {
	return m.reviews, m.reviewsErr
}

func (m *mockPlacesClient) Photos(_ context.Context, _ string) ([]places.Photo, error) {
	return m.photos, m.photosErr
}

// mockJinaClient implements jina.Client for testing.
type mockJinaClient struct {
	read      *jina.ReadResponse
	readErr   error
	search    *jina.SearchResponse
	searchErr error

	readCalls   []string
	searchCalls []string
}

func (m *mockJinaClient) Read(_ context.Context, targetURL string) (*jina.ReadResponse, error) {
	m.readCalls = append(m.readCalls, targetURL)
	return m.read, m.readErr
}

func (m *mockJinaClient) Search(_ context.Context, query string, _ ...jina.SearchOption) (*jina.SearchResponse, error) {
	m.searchCalls = append(m.searchCalls, query)
	if m.search == nil && m.searchErr == nil {
		return &jina.SearchResponse{}, nil
	}
	return m.search, m.searchErr
}

// mockFirecrawlClient implements firecrawl.Client for testing.
type mockFirecrawlClient struct {
	resp  *firecrawl.ScrapeResponse
	err   error
	calls int
}

func (m *mockFirecrawlClient) Scrape(_ context.Context, _ firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	m.calls++
	return m.resp, m.err
}

// mockAnthropicClient implements anthropic.Client for testing.
type mockAnthropicClient struct {
	response *anthropic.MessageResponse
	err      error
	requests []anthropic.MessageRequest
}

func (m *mockAnthropicClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.requests = append(m.requests, req)
	return m.response, m.err
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// mockGeocoder implements geocode.Client for testing.
type mockGeocoder struct {
	result *geocode.Result
	err    error
	inputs []geocode.AddressInput
}

func (m *mockGeocoder) Geocode(_ context.Context, addr geocode.AddressInput) (*geocode.Result, error) {
	m.inputs = append(m.inputs, addr)
	return m.result, m.err
}

// mockLocator implements geo.Locator for testing.
type mockLocator struct {
	district string
	found    bool
}

func (m *mockLocator) Locate(_, _ float64) (string, bool) {
	return m.district, m.found
}
