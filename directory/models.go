package directory

import (
	"time"

	"trustcore"
	"trustcore/trustscore"
)

// Business is a listed business.
type Business struct {
	ID                    int64     `db:"id" json:"id"`
	Name                  string    `db:"name" json:"name"`
	Category              string    `db:"category" json:"category"`
	City                  string    `db:"city" json:"city"`
	Description           string    `db:"description" json:"description"`
	PhoneVerified         bool      `db:"phone_verified" json:"phoneVerified"`
	UPIVerified           bool      `db:"upi_verified" json:"upiVerified"`
	CustomerRetentionRate *float64  `db:"customer_retention_rate" json:"customerRetentionRate"`
	TrustScore            int       `db:"trust_score" json:"trustScore"`
	CreatedAt             time.Time `db:"created_at" json:"createdAt"`
}

var businessColumns = []string{
	"id", "name", "category", "city", "description",
	"phone_verified", "upi_verified", "customer_retention_rate",
	"trust_score", "created_at",
}

// filterable lists the columns ListBusinesses accepts in a Filter.
var filterable = map[string]bool{
	"id":                      true,
	"name":                    true,
	"category":                true,
	"city":                    true,
	"phone_verified":          true,
	"upi_verified":            true,
	"customer_retention_rate": true,
	"trust_score":             true,
	"created_at":              true,
}

// NewBusiness is the input of CreateBusiness.
type NewBusiness struct {
	Name        string `validate:"required,max=255"`
	Category    string `validate:"max=100"`
	City        string `validate:"max=100"`
	Description string
}

// NewReview is the input of AddReview.
type NewReview struct {
	BusinessID int64  `validate:"gt=0"`
	Rating     int    `validate:"gte=1,lte=5"`
	Comment    string `validate:"max=2000"`
}

// Verification replaces a business's verification flags.
type Verification struct {
	PhoneVerified bool
	UPIVerified   bool
	// CustomerRetentionRate is left unchanged when nil.
	CustomerRetentionRate *float64 `validate:"omitempty,gte=0,lte=1"`
}

// Aggregates are the per-business figures the trust score is computed from.
type Aggregates struct {
	TotalReviews          int      `db:"total_reviews" json:"totalReviews"`
	AverageRating         float64  `db:"average_rating" json:"averageRating"`
	TotalEndorsements     int      `db:"total_endorsements" json:"totalEndorsements"`
	PhoneVerified         bool     `db:"phone_verified" json:"phoneVerified"`
	UPIVerified           bool     `db:"upi_verified" json:"upiVerified"`
	CustomerRetentionRate *float64 `db:"customer_retention_rate" json:"customerRetentionRate"`
	HasDescription        bool     `db:"has_description" json:"hasDescription"`
}

// Input converts aggregates into trust score input.
func (a Aggregates) Input() trustscore.Input {
	return trustscore.Input{
		TotalReviews:          a.TotalReviews,
		AverageRating:         a.AverageRating,
		TotalEndorsements:     a.TotalEndorsements,
		PhoneVerified:         a.PhoneVerified,
		UPIVerified:           a.UPIVerified,
		CustomerRetentionRate: a.CustomerRetentionRate,
		HasDescription:        a.HasDescription,
	}
}

// ListQuery selects a page of businesses.
type ListQuery struct {
	Filters trustcore.Filters `json:"filters"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// ScoreSnapshot is the persisted result of one trust score refresh.
type ScoreSnapshot struct {
	BusinessID int64 `json:"businessId"`
	Score      int   `json:"score"`
}
