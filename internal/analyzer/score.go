package analyzer

// LeadScore rates how promising a business is as a sales lead, 0 to 100.
func LeadScore(b EnrichedBusiness) int {
	score := 50

	if b.Rating != nil {
		switch r := *b.Rating; {
		case r >= 4.5:
			score += 15
		case r >= 4.0:
			score += 10
		case r >= 3.5:
			score += 5
		case r < 3.0:
			score -= 10
		}
	}

	if b.TotalRatings != nil {
		switch n := *b.TotalRatings; {
		case n >= 100:
			score += 10
		case n >= 50:
			score += 7
		case n >= 20:
			score += 5
		case n < 5:
			score -= 5
		}
	}

	if !b.HasWebsite() {
		score -= 20
	}
	if b.Phone == nil {
		score -= 10
	}
	if b.WebsiteStatus.Accessible {
		score += 5
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
