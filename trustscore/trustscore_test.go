package trustscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rate(v float64) *float64 { return &v }

func recommendationIDs(recs []Recommendation) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

func TestCompute_AllThresholdsMet(t *testing.T) {
	b, err := Compute(Input{
		TotalReviews:          20,
		AverageRating:         5,
		TotalEndorsements:     10,
		UPIVerified:           true,
		PhoneVerified:         true,
		CustomerRetentionRate: rate(0.8),
	})
	require.NoError(t, err)

	assert.Equal(t, 100.0, b.Reviews.Score)
	assert.Equal(t, 100.0, b.Endorsements.Score)
	assert.Equal(t, 95.0, b.Verification.Score)
	assert.Equal(t, 100.0, b.Engagement.Score)
	// (100*40 + 100*25 + 95*20 + 100*15) / 100
	assert.Equal(t, 99, b.CurrentScore)
	assert.Empty(t, b.Recommendations)
	assert.NotNil(t, b.Recommendations)
}

func TestCompute_Weights(t *testing.T) {
	b, err := Compute(Input{})
	require.NoError(t, err)
	assert.Equal(t, 100, b.Reviews.Weight+b.Endorsements.Weight+b.Verification.Weight+b.Engagement.Weight)
}

func TestCompute_EmptyBusiness(t *testing.T) {
	b, err := Compute(Input{})
	require.NoError(t, err)

	assert.Zero(t, b.Reviews.Score)
	assert.Zero(t, b.Endorsements.Score)
	assert.Equal(t, 50.0, b.Verification.Score)
	assert.Equal(t, 70.0, b.Engagement.Score)
	// (50*20 + 70*15) / 100 = 20.5
	assert.Equal(t, 21, b.CurrentScore)
	assert.Equal(t,
		[]string{"upi-verification", "more-reviews", "community-endorsements", "customer-engagement"},
		recommendationIDs(b.Recommendations))
	assert.Equal(t, ImpactHigh, b.Recommendations[0].Impact)
	assert.Equal(t, ImpactHigh, b.Recommendations[1].Impact)
	assert.Equal(t, ImpactMedium, b.Recommendations[2].Impact)
	assert.Equal(t, ImpactLow, b.Recommendations[3].Impact)
}

func TestCompute_Deterministic(t *testing.T) {
	in := Input{
		TotalReviews:          7,
		AverageRating:         4,
		TotalEndorsements:     3,
		PhoneVerified:         true,
		CustomerRetentionRate: rate(0.5),
		HasDescription:        true,
	}
	first, err := Compute(in)
	require.NoError(t, err)
	second, err := Compute(in)
	require.NoError(t, err)

	assert.Equal(t, first.CurrentScore, second.CurrentScore)
	assert.Equal(t, first.Recommendations, second.Recommendations)
}

func TestCompute_Boundaries(t *testing.T) {
	t.Run("no reviews scores zero regardless of rating", func(t *testing.T) {
		b, err := Compute(Input{TotalReviews: 0, AverageRating: 5})
		require.NoError(t, err)
		assert.Zero(t, b.Reviews.Score)
	})

	t.Run("UPI wins over phone", func(t *testing.T) {
		for _, phone := range []bool{true, false} {
			b, err := Compute(Input{UPIVerified: true, PhoneVerified: phone})
			require.NoError(t, err)
			assert.Equal(t, 95.0, b.Verification.Score)
		}
	})

	t.Run("phone only", func(t *testing.T) {
		b, err := Compute(Input{PhoneVerified: true})
		require.NoError(t, err)
		assert.Equal(t, 75.0, b.Verification.Score)
	})

	t.Run("review volume scales rating", func(t *testing.T) {
		b, err := Compute(Input{TotalReviews: 10, AverageRating: 5})
		require.NoError(t, err)
		assert.Equal(t, 50.0, b.Reviews.Score)

		b, err = Compute(Input{TotalReviews: 200, AverageRating: 5})
		require.NoError(t, err)
		assert.Equal(t, 100.0, b.Reviews.Score)
	})

	t.Run("endorsements cap at 100", func(t *testing.T) {
		b, err := Compute(Input{TotalEndorsements: 50})
		require.NoError(t, err)
		assert.Equal(t, 100.0, b.Endorsements.Score)
	})

	t.Run("zero retention is known", func(t *testing.T) {
		b, err := Compute(Input{CustomerRetentionRate: rate(0)})
		require.NoError(t, err)
		assert.Equal(t, 50.0, b.Engagement.Score)
	})

	t.Run("retention threshold", func(t *testing.T) {
		b, err := Compute(Input{UPIVerified: true, TotalReviews: 10, TotalEndorsements: 5, CustomerRetentionRate: rate(0.7)})
		require.NoError(t, err)
		assert.Empty(t, b.Recommendations)

		b, err = Compute(Input{UPIVerified: true, TotalReviews: 10, TotalEndorsements: 5, CustomerRetentionRate: rate(0.69)})
		require.NoError(t, err)
		assert.Equal(t, []string{"customer-engagement"}, recommendationIDs(b.Recommendations))
	})
}

func TestCompute_InvalidInput(t *testing.T) {
	cases := map[string]Input{
		"negative reviews":      {TotalReviews: -1},
		"rating above five":     {AverageRating: 5.5},
		"negative rating":       {AverageRating: -0.1},
		"negative endorsements": {TotalEndorsements: -2},
		"retention above one":   {CustomerRetentionRate: rate(1.2)},
		"negative retention":    {CustomerRetentionRate: rate(-0.1)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compute(in)
			assert.Error(t, err)
		})
	}
}
