package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bizcheck/internal/analyzer"
)

var csvHeader = []string{
	"Name", "Place ID", "Address", "Phone", "Website", "Rating", "Reviews",
	"Business Type", "Lead Score", "Website Status", "Accessible", "Title",
}

// WriteCSV writes one row per business followed by a summary section.
func WriteCSV(w io.Writer, businesses []analyzer.EnrichedBusiness, s Statistics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range businesses {
		row := []string{
			b.Name,
			b.PlaceID,
			str(b.Address),
			str(b.Phone),
			str(b.Website),
			"",
			"",
			strings.Join(b.Categories, ";"),
			strconv.Itoa(b.LeadScore),
			string(b.WebsiteStatus.Status),
			"No",
			str(b.WebsiteStatus.Title),
		}
		if b.Rating != nil {
			row[5] = strconv.FormatFloat(*b.Rating, 'f', 1, 64)
		}
		if b.TotalRatings != nil {
			row[6] = strconv.Itoa(*b.TotalRatings)
		}
		if b.WebsiteStatus.Accessible {
			row[10] = "Yes"
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	summary := [][]string{
		{},
		{"SEARCH SUMMARY"},
		{fmt.Sprintf("Total Businesses Found: %d", s.TotalBusinesses)},
		{fmt.Sprintf("Businesses with Websites: %d", s.BusinessesWithWebsites)},
		{fmt.Sprintf("Accessible Websites: %d", s.AccessibleWebsites)},
		{fmt.Sprintf("Website Percentage: %.1f%%", s.WebsitePercentage)},
		{fmt.Sprintf("Accessible Percentage: %.1f%%", s.AccessiblePercentage)},
		{fmt.Sprintf("Average Rating: %.1f", s.AverageRating)},
		{fmt.Sprintf("High Opportunity Businesses: %d", s.HighOpportunityCount)},
	}
	if err := cw.WriteAll(summary); err != nil {
		return err
	}
	return cw.Error()
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
