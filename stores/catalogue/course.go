package catalogue

import (
	"strings"
)

// Course levels as published by the backend.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// Course is one catalogue entry. Favorite and Progress are session-scoped
// annotations owned by the Store; they are never decoded from or encoded to
// backend JSON.
type Course struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Level       string   `json:"level,omitempty"`
	Instructor  string   `json:"instructor,omitempty"`
	Price       float64  `json:"price"`
	Rating      float64  `json:"rating"`
	IsFree      bool     `json:"isFree"`
	Tags        []string `json:"tags,omitempty"`

	Favorite bool `json:"-"`
	Progress int  `json:"-"` // percent complete, 0-100
}

// Filters narrows the catalogue. Zero values mean "no constraint".
type Filters struct {
	Category      string   `json:"category,omitempty"`
	Level         string   `json:"level,omitempty"`
	Search        string   `json:"search,omitempty"`
	MinRating     float64  `json:"minRating,omitempty"`
	MinPrice      *float64 `json:"minPrice,omitempty"`
	MaxPrice      *float64 `json:"maxPrice,omitempty"`
	FreeOnly      bool     `json:"freeOnly,omitempty"`
	FavoritesOnly bool     `json:"favoritesOnly,omitempty"`
}

// Filter returns the courses matching every set field of f, preserving order.
func Filter(courses []Course, f Filters) []Course {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Course, 0, len(courses))
	for _, c := range courses {
		if f.Category != "" && !strings.EqualFold(c.Category, f.Category) {
			continue
		}
		if f.Level != "" && !strings.EqualFold(c.Level, f.Level) {
			continue
		}
		if c.Rating < f.MinRating {
			continue
		}
		if f.MinPrice != nil && c.Price < *f.MinPrice {
			continue
		}
		if f.MaxPrice != nil && c.Price > *f.MaxPrice {
			continue
		}
		if f.FreeOnly && !c.IsFree {
			continue
		}
		if f.FavoritesOnly && !c.Favorite {
			continue
		}
		if search != "" && !c.matches(search) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (c Course) matches(search string) bool {
	if strings.Contains(strings.ToLower(c.Title), search) ||
		strings.Contains(strings.ToLower(c.Description), search) ||
		strings.Contains(strings.ToLower(c.Instructor), search) {
		return true
	}
	for _, tag := range c.Tags {
		if strings.Contains(strings.ToLower(tag), search) {
			return true
		}
	}
	return false
}
