package analyzer

import (
	"bizcheck/internal/places"
	"bizcheck/internal/probe"
)

// DetailFields is the allowlist requested from the place details endpoint.
var DetailFields = []string{
	"name",
	"website",
	"formatted_phone_number",
	"formatted_address",
	"rating",
	"user_ratings_total",
	"opening_hours",
	"price_level",
	"type",
}

// BusinessSummary is one nearby search hit.
type BusinessSummary struct {
	Name       string   `json:"name"`
	PlaceID    string   `json:"place_id"`
	Rating     *float64 `json:"rating"`
	Address    *string  `json:"address"`
	Categories []string `json:"types"`
	PriceLevel *int     `json:"price_level"`
}

// BusinessDetail is the details record for one place. Unavailable fields are nil.
type BusinessDetail struct {
	Name         *string  `json:"name"`
	Website      *string  `json:"website"`
	Phone        *string  `json:"phone"`
	Address      *string  `json:"address"`
	Rating       *float64 `json:"rating"`
	TotalRatings *int     `json:"total_ratings"`
	Hours        []string `json:"hours"`
	PriceLevel   *int     `json:"price_level"`
	Categories   []string `json:"types"`
}

// EnrichedBusiness merges a summary, its details and the website probe.
type EnrichedBusiness struct {
	Name          string              `json:"name"`
	PlaceID       string              `json:"place_id"`
	Rating        *float64            `json:"rating"`
	Address       *string             `json:"address"`
	Categories    []string            `json:"types"`
	PriceLevel    *int                `json:"price_level"`
	Website       *string             `json:"website"`
	Phone         *string             `json:"phone"`
	TotalRatings  *int                `json:"total_ratings"`
	Hours         []string            `json:"hours"`
	WebsiteStatus probe.WebsiteStatus `json:"website_status"`
	LeadScore     int                 `json:"lead_score"`
}

// HasWebsite reports whether details listed a website.
func (b EnrichedBusiness) HasWebsite() bool {
	return b.Website != nil && *b.Website != ""
}

func summaryFromPlace(p places.Place) BusinessSummary {
	return BusinessSummary{
		Name:       p.Name,
		PlaceID:    p.PlaceID,
		Rating:     p.Rating,
		Address:    nonEmpty(p.Vicinity),
		Categories: p.Types,
		PriceLevel: p.PriceLevel,
	}
}

func detailFromPlace(d places.Detail) BusinessDetail {
	out := BusinessDetail{
		Name:         nonEmpty(d.Name),
		Website:      nonEmpty(d.Website),
		Phone:        nonEmpty(d.FormattedPhoneNumber),
		Address:      nonEmpty(d.FormattedAddress),
		Rating:       d.Rating,
		TotalRatings: d.UserRatingsTotal,
		PriceLevel:   d.PriceLevel,
		Categories:   d.Types,
	}
	if d.OpeningHours != nil && len(d.OpeningHours.WeekdayText) > 0 {
		out.Hours = d.OpeningHours.WeekdayText
	}
	return out
}

// merge overlays detail fields on the summary; the probe result is attached as-is.
func merge(s BusinessSummary, d BusinessDetail, st probe.WebsiteStatus) EnrichedBusiness {
	b := EnrichedBusiness{
		Name:          s.Name,
		PlaceID:       s.PlaceID,
		Rating:        s.Rating,
		Address:       s.Address,
		Categories:    s.Categories,
		PriceLevel:    s.PriceLevel,
		Website:       d.Website,
		Phone:         d.Phone,
		TotalRatings:  d.TotalRatings,
		Hours:         d.Hours,
		WebsiteStatus: st,
	}
	if d.Name != nil {
		b.Name = *d.Name
	}
	if d.Rating != nil {
		b.Rating = d.Rating
	}
	if d.Address != nil {
		b.Address = d.Address
	}
	if len(d.Categories) > 0 {
		b.Categories = d.Categories
	}
	if d.PriceLevel != nil {
		b.PriceLevel = d.PriceLevel
	}
	return b
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
