package stats

import (
	"math"
	"sort"

	"bizcheck/internal/analyzer"
)

// HighOpportunityScore is the lead score above which a business counts as high opportunity.
const HighOpportunityScore = 70

// Statistics summarises the businesses actually returned to a caller.
type Statistics struct {
	TotalBusinesses        int             `json:"total_businesses"`
	BusinessesWithWebsites int             `json:"businesses_with_websites"`
	AccessibleWebsites     int             `json:"accessible_websites"`
	NoWebsiteCount         int             `json:"no_website_count"`
	WebsitePercentage      float64         `json:"website_percentage"`
	AccessiblePercentage   float64         `json:"accessible_percentage"`
	AverageRating          float64         `json:"average_rating"`
	HighOpportunityCount   int             `json:"high_opportunity_count"`
	Market                 *MarketAnalysis `json:"market_analysis"`
}

// Competitor is a well rated business that already has a website.
type Competitor struct {
	PlaceID string  `json:"place_id"`
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"`
}

// MarketAnalysis describes the competitive landscape of one result set.
type MarketAnalysis struct {
	MarketSaturation    string       `json:"market_saturation"`
	WebsiteAdoptionRate float64      `json:"website_adoption_rate"`
	AverageRating       float64      `json:"average_rating"`
	CompetitionLevel    string       `json:"competition_level"`
	OpportunityScore    int          `json:"opportunity_score"`
	TopCompetitors      []Competitor `json:"top_competitors"`
	MarketGaps          []string     `json:"market_gaps"`
}

// Compute builds the statistics block. Percentages are rounded to one decimal
// and a zero denominator yields 0.
func Compute(businesses []analyzer.EnrichedBusiness) Statistics {
	s := Statistics{TotalBusinesses: len(businesses)}
	for _, b := range businesses {
		if b.HasWebsite() {
			s.BusinessesWithWebsites++
		}
		if b.WebsiteStatus.Accessible {
			s.AccessibleWebsites++
		}
		if b.LeadScore > HighOpportunityScore {
			s.HighOpportunityCount++
		}
	}
	s.NoWebsiteCount = s.TotalBusinesses - s.BusinessesWithWebsites
	s.WebsitePercentage = percent(s.BusinessesWithWebsites, s.TotalBusinesses)
	s.AccessiblePercentage = percent(s.AccessibleWebsites, s.BusinessesWithWebsites)
	s.AverageRating = round1(averageRating(businesses))
	return s
}

// WithMarket is Compute plus the market analysis block.
func WithMarket(businesses []analyzer.EnrichedBusiness) Statistics {
	s := Compute(businesses)
	m := Analyze(businesses)
	s.Market = &m
	return s
}

// Analyze derives saturation, competition and gaps for a result set.
func Analyze(businesses []analyzer.EnrichedBusiness) MarketAnalysis {
	if len(businesses) == 0 {
		return MarketAnalysis{
			MarketSaturation: "low",
			CompetitionLevel: "low",
			TopCompetitors:   []Competitor{},
			MarketGaps:       []string{},
		}
	}
	withSites := 0
	for _, b := range businesses {
		if b.HasWebsite() {
			withSites++
		}
	}
	adoption := float64(withSites) / float64(len(businesses)) * 100
	avg := averageRating(businesses)

	m := MarketAnalysis{
		MarketSaturation:    "low",
		WebsiteAdoptionRate: round1(adoption),
		AverageRating:       round1(avg),
		CompetitionLevel:    "low",
		TopCompetitors:      []Competitor{},
		MarketGaps:          []string{},
	}
	switch n := len(businesses); {
	case n > 50:
		m.MarketSaturation = "high"
	case n > 20:
		m.MarketSaturation = "medium"
	}
	switch {
	case avg > 4.2 && adoption > 70:
		m.CompetitionLevel = "high"
	case avg > 3.8 || adoption > 50:
		m.CompetitionLevel = "medium"
	}

	score := 100
	if adoption > 80 {
		score -= 30
	}
	if avg > 4.5 {
		score -= 20
	}
	if len(businesses) > 30 {
		score -= 15
	}
	m.OpportunityScore = score

	for _, b := range businesses {
		if b.Rating != nil && *b.Rating >= 4.0 && b.HasWebsite() {
			m.TopCompetitors = append(m.TopCompetitors, Competitor{PlaceID: b.PlaceID, Name: b.Name, Rating: *b.Rating})
		}
	}
	sort.SliceStable(m.TopCompetitors, func(i, j int) bool {
		return m.TopCompetitors[i].Rating > m.TopCompetitors[j].Rating
	})
	if len(m.TopCompetitors) > 5 {
		m.TopCompetitors = m.TopCompetitors[:5]
	}

	if adoption < 50 {
		m.MarketGaps = append(m.MarketGaps, "Low website adoption - opportunity for web development services")
	}
	if avg < 3.5 {
		m.MarketGaps = append(m.MarketGaps, "Poor customer satisfaction - opportunity for reputation management")
	}
	return m
}

// averageRating is the mean over businesses that carry a positive rating.
func averageRating(businesses []analyzer.EnrichedBusiness) float64 {
	sum, n := 0.0, 0
	for _, b := range businesses {
		if b.Rating != nil && *b.Rating > 0 {
			sum += *b.Rating
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round1(float64(part) / float64(whole) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
