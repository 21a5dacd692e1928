// Package steps holds the step adapters the pipeline definitions compose.
// Each adapter wraps exactly one external capability behind the engine's
// Adapter interface; adapters never persist anything themselves.
package steps

import (
	"crypto/sha256"
	"encoding/hex"
)

// Canonical step names. Progress records key on these, so renaming one
// orphans the state of every entity extracted before the rename.
const (
	StepPlaceDetails       = "place_details"
	StepFetchReviews       = "fetch_reviews"
	StepScrapeWebsite      = "scrape_website"
	StepDiscoverSocials    = "discover_socials"
	StepCollectImages      = "collect_images"
	StepGeocodeAddress     = "geocode_address"
	StepLocateDistrict     = "locate_district"
	StepEnhanceDescription = "enhance_description"
	StepSummarizeSentiment = "summarize_sentiment"
	StepComputeRating      = "compute_rating"
)

// contentDigest returns a short fingerprint of a payload for progress records.
func contentDigest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:12]
}
