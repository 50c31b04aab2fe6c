// Package trustscore computes the 0-100 trust score of a business from
// already-fetched aggregates. It performs no I/O.
package trustscore

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// Component weights. They sum to 100.
const (
	ReviewWeight       = 40
	EndorsementWeight  = 25
	VerificationWeight = 20
	EngagementWeight   = 15
)

const (
	reviewVolumeCap   = 20
	endorsementTarget = 10
	upiScore          = 95
	phoneScore        = 75
	unverifiedScore   = 50
	engagementBase    = 50
	unknownEngagement = 70
	minReviews        = 10
	minEndorsements   = 5
	targetRetention   = 0.7
)

// Impact ranks how much acting on a recommendation moves the score.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Input holds the aggregates the score is computed from.
type Input struct {
	TotalReviews      int     `json:"totalReviews" validate:"gte=0"`
	AverageRating     float64 `json:"averageRating" validate:"gte=0,lte=5"`
	TotalEndorsements int     `json:"totalEndorsements" validate:"gte=0"`
	PhoneVerified     bool    `json:"phoneVerified"`
	UPIVerified       bool    `json:"upiVerified"`
	// CustomerRetentionRate is nil when unknown.
	CustomerRetentionRate *float64 `json:"customerRetentionRate" validate:"omitempty,gte=0,lte=1"`
	HasDescription        bool     `json:"hasDescription"`
}

type ReviewComponent struct {
	Score         float64 `json:"score"`
	Weight        int     `json:"weight"`
	TotalReviews  int     `json:"totalReviews"`
	AverageRating float64 `json:"averageRating"`
}

type EndorsementComponent struct {
	Score             float64 `json:"score"`
	Weight            int     `json:"weight"`
	TotalEndorsements int     `json:"totalEndorsements"`
}

type VerificationComponent struct {
	Score         float64 `json:"score"`
	Weight        int     `json:"weight"`
	PhoneVerified bool    `json:"phoneVerified"`
	UPIVerified   bool    `json:"upiVerified"`
}

type EngagementComponent struct {
	Score                 float64  `json:"score"`
	Weight                int      `json:"weight"`
	CustomerRetentionRate *float64 `json:"customerRetentionRate"`
	HasDescription        bool     `json:"hasDescription"`
}

// Recommendation is one suggested action for raising the score.
type Recommendation struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Impact      Impact `json:"impact"`
	Action      string `json:"action"`
}

// Breakdown is the full result of Compute.
type Breakdown struct {
	CurrentScore    int                   `json:"currentScore"`
	Reviews         ReviewComponent       `json:"reviews"`
	Endorsements    EndorsementComponent  `json:"endorsements"`
	Verification    VerificationComponent `json:"verification"`
	Engagement      EngagementComponent   `json:"engagement"`
	Recommendations []Recommendation      `json:"recommendations"`
}

var validate = validator.New()

// Compute validates in and returns its breakdown. The same input always
// yields the same score and the same recommendations in the same order.
func Compute(in Input) (Breakdown, error) {
	if err := validate.Struct(in); err != nil {
		return Breakdown{}, fmt.Errorf("invalid trust score input: %w", err)
	}

	b := Breakdown{
		Reviews: ReviewComponent{
			Score:         reviewScore(in.AverageRating, in.TotalReviews),
			Weight:        ReviewWeight,
			TotalReviews:  in.TotalReviews,
			AverageRating: in.AverageRating,
		},
		Endorsements: EndorsementComponent{
			Score:             math.Min(100, float64(in.TotalEndorsements)/endorsementTarget*100),
			Weight:            EndorsementWeight,
			TotalEndorsements: in.TotalEndorsements,
		},
		Verification: VerificationComponent{
			Score:         verificationScore(in.UPIVerified, in.PhoneVerified),
			Weight:        VerificationWeight,
			PhoneVerified: in.PhoneVerified,
			UPIVerified:   in.UPIVerified,
		},
		Engagement: EngagementComponent{
			Score:                 engagementScore(in.CustomerRetentionRate),
			Weight:                EngagementWeight,
			CustomerRetentionRate: in.CustomerRetentionRate,
			HasDescription:        in.HasDescription,
		},
	}

	weighted := b.Reviews.Score*ReviewWeight +
		b.Endorsements.Score*EndorsementWeight +
		b.Verification.Score*VerificationWeight +
		b.Engagement.Score*EngagementWeight
	score := int(math.Round(weighted / 100))
	b.CurrentScore = max(0, min(100, score))
	b.Recommendations = recommend(in)
	return b, nil
}

// reviewScore scales rating quality down while volume is below the cap.
func reviewScore(avg float64, n int) float64 {
	volume := float64(min(n, reviewVolumeCap)) / reviewVolumeCap
	return math.Min(100, avg/5*100*volume)
}

func verificationScore(upi, phone bool) float64 {
	switch {
	case upi:
		return upiScore
	case phone:
		return phoneScore
	default:
		return unverifiedScore
	}
}

func engagementScore(retention *float64) float64 {
	if retention == nil {
		return unknownEngagement
	}
	return math.Min(100, *retention*100+engagementBase)
}

type rule struct {
	applies func(Input) bool
	rec     Recommendation
}

// rules are evaluated in order; the order is part of the output contract.
var rules = []rule{
	{
		applies: func(in Input) bool { return !in.UPIVerified },
		rec: Recommendation{
			ID:          "upi-verification",
			Title:       "Complete UPI Verification",
			Description: "Verify your UPI ID to show customers that payments reach a confirmed account.",
			Impact:      ImpactHigh,
			Action:      "verify_upi",
		},
	},
	{
		applies: func(in Input) bool { return in.TotalReviews < minReviews },
		rec: Recommendation{
			ID:          "more-reviews",
			Title:       "Encourage More Reviews",
			Description: "Ask recent customers to leave a review. Scores grow with review volume up to 20 reviews.",
			Impact:      ImpactHigh,
			Action:      "request_reviews",
		},
	},
	{
		applies: func(in Input) bool { return in.TotalEndorsements < minEndorsements },
		rec: Recommendation{
			ID:          "community-endorsements",
			Title:       "Request Community Endorsements",
			Description: "Endorsements from other local businesses build trust with new customers.",
			Impact:      ImpactMedium,
			Action:      "request_endorsements",
		},
	},
	{
		applies: func(in Input) bool {
			return in.CustomerRetentionRate == nil || *in.CustomerRetentionRate < targetRetention
		},
		rec: Recommendation{
			ID:          "customer-engagement",
			Title:       "Improve Customer Engagement",
			Description: "Follow up with customers and keep your profile current to bring them back.",
			Impact:      ImpactLow,
			Action:      "improve_engagement",
		},
	},
}

func recommend(in Input) []Recommendation {
	out := []Recommendation{}
	for _, r := range rules {
		if r.applies(in) {
			out = append(out, r.rec)
		}
	}
	return out
}
