package view

import "github.com/rewired-gh/quakewatch/internal/models"

// Category is a magnitude band, lower bound inclusive and upper exclusive.
type Category struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Categories are the magnitude bands reported by Statistics.
var Categories = []Category{
	{Name: "Minor", Min: 0, Max: 2},
	{Name: "Light", Min: 2, Max: 4},
	{Name: "Moderate", Min: 4, Max: 6},
	{Name: "Strong", Min: 6, Max: 7},
	{Name: "Major", Min: 7, Max: 8},
	{Name: "Great", Min: 8, Max: 10},
}

// CategoryCount is one histogram bar.
type CategoryCount struct {
	Category
	Total    int `json:"total"`
	Filtered int `json:"filtered"`
}

// Stats summarises the snapshot against the active filter.
type Stats struct {
	Total      int             `json:"total"`
	Filtered   int             `json:"filtered"`
	Categories []CategoryCount `json:"categories"`
}

// Statistics counts all and filtered quakes per magnitude category.
func Statistics(all, filtered []models.Quake) Stats {
	s := Stats{
		Total:      len(all),
		Filtered:   len(filtered),
		Categories: make([]CategoryCount, len(Categories)),
	}
	for i, c := range Categories {
		s.Categories[i].Category = c
	}
	for _, q := range all {
		if i := categoryIndex(q.Magnitude); i >= 0 {
			s.Categories[i].Total++
		}
	}
	for _, q := range filtered {
		if i := categoryIndex(q.Magnitude); i >= 0 {
			s.Categories[i].Filtered++
		}
	}
	return s
}

func categoryIndex(mag float64) int {
	for i, c := range Categories {
		if mag >= c.Min && mag < c.Max {
			return i
		}
	}
	return -1
}
