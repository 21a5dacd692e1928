package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_FullConfidenceFollowsProvider(t *testing.T) {
	// 200+ reviews means full confidence: the provider rating carries through.
	score := Score(Inputs{ProviderRating: 4.5, ProviderRatingCount: 200})
	assert.Equal(t, 4.5, score)
}

func TestScore_LowReviewVolumePullsTowardMidpoint(t *testing.T) {
	// Zero reviews halves the distance from the 2.5 midpoint.
	score := Score(Inputs{ProviderRating: 4.5, ProviderRatingCount: 0})
	assert.Equal(t, 3.5, score)

	// 100 reviews is 75% confidence: 2.5 + 2*(0.875) = 4.25 → 4.2 or 4.3.
	score = Score(Inputs{ProviderRating: 4.5, ProviderRatingCount: 100})
	assert.InDelta(t, 4.25, score, 0.06)
}

func TestScore_UnratedVenueStartsAtMidpoint(t *testing.T) {
	assert.Equal(t, 2.5, Score(Inputs{}))
}

func TestScore_RichnessBonuses(t *testing.T) {
	base := Inputs{ProviderRating: 4.0, ProviderRatingCount: 200}

	withWebsite := base
	withWebsite.HasWebsite = true
	assert.Equal(t, 4.2, Score(withWebsite))

	withDescription := base
	withDescription.HasDescription = true
	assert.InDelta(t, 4.2, Score(withDescription), 0.06)
}

func TestScore_RichnessIsCapped(t *testing.T) {
	// All signals sum to 0.20+0.15+0.15+0.15+0.10 = 0.75, the cap.
	everything := Inputs{
		ProviderRating:      4.0,
		ProviderRatingCount: 200,
		HasWebsite:          true,
		SocialCount:         5,
		ImageCount:          8,
		HasDescription:      true,
		HasSentiment:        true,
	}
	assert.Equal(t, 4.8, Score(everything))
}

func TestScore_ClampedToRange(t *testing.T) {
	top := Inputs{
		ProviderRating:      5.0,
		ProviderRatingCount: 500,
		HasWebsite:          true,
		SocialCount:         5,
		ImageCount:          8,
		HasDescription:      true,
		HasSentiment:        true,
	}
	assert.Equal(t, 5.0, Score(top))

	assert.GreaterOrEqual(t, Score(Inputs{ProviderRating: 0.1, ProviderRatingCount: 500}), 0.0)
}

func TestScore_SocialAndImageTiers(t *testing.T) {
	base := Inputs{ProviderRating: 4.0, ProviderRatingCount: 200}

	one := base
	one.SocialCount = 1
	three := base
	three.SocialCount = 3
	assert.Equal(t, 4.1, Score(one))
	assert.InDelta(t, 4.15, Score(three), 0.06)

	few := base
	few.ImageCount = 1
	many := base
	many.ImageCount = 5
	assert.Equal(t, 4.1, Score(few))
	assert.InDelta(t, 4.15, Score(many), 0.06)
}
