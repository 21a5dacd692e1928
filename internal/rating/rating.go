// Package rating computes the derived quality score shown on listing pages.
// The score is a pure function of extraction output so it can be recomputed
// at any time without touching a provider.
package rating

import "math"

// Inputs are the extraction signals the score is derived from.
type Inputs struct {
	ProviderRating      float64
	ProviderRatingCount int
	HasWebsite          bool
	SocialCount         int
	ImageCount          int
	HasDescription      bool
	HasSentiment        bool
}

// Score maps extraction signals to a 0–5 score with one decimal.
//
// The provider rating anchors the score; richness signals (website, socials,
// images, editorial text) adjust it by at most ±0.75 so a well-documented
// venue with few reviews can still rank near an established one.
func Score(in Inputs) float64 {
	base := in.ProviderRating
	if base <= 0 {
		// Unrated venues start from the midpoint rather than zero so a
		// missing provider rating does not bury an otherwise rich listing.
		base = 2.5
	}

	// Confidence in the provider rating grows with review volume and
	// saturates around 200 reviews.
	confidence := math.Min(float64(in.ProviderRatingCount)/200.0, 1.0)
	score := 2.5 + (base-2.5)*(0.5+0.5*confidence)

	var richness float64
	if in.HasWebsite {
		richness += 0.20
	}
	if in.SocialCount > 0 {
		richness += 0.10
		if in.SocialCount >= 3 {
			richness += 0.05
		}
	}
	if in.ImageCount > 0 {
		richness += 0.10
		if in.ImageCount >= 5 {
			richness += 0.05
		}
	}
	if in.HasDescription {
		richness += 0.15
	}
	if in.HasSentiment {
		richness += 0.10
	}
	score += math.Min(richness, 0.75)

	score = math.Max(0, math.Min(5, score))
	return math.Round(score*10) / 10
}
