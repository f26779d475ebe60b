// Package categorize assigns a coarse category to a paper from its title.
package categorize

import "strings"

// Category is the coarse kind of a paper.
type Category string

const (
	Exam       Category = "exam"
	Assignment Category = "assignment"
	Notes      Category = "notes"
	Other      Category = "other"
)

// All lists the categories in priority order.
var All = []Category{Exam, Assignment, Notes, Other}

type rule struct {
	category Category
	keywords []string
}

// Order matters: the first rule with a matching keyword wins.
var rules = []rule{
	{category: Exam, keywords: []string{"exam", "test", "quiz", "final", "midterm", "assessment"}},
	{category: Assignment, keywords: []string{"assignment", "homework", "project", "task", "problem set", "lab"}},
	{category: Notes, keywords: []string{"notes", "lecture", "study guide", "summary", "outline", "review"}},
}

// Categorize returns the category for title. Keywords match as substrings of
// the lower-cased title; titles matching nothing are Other.
func Categorize(title string) Category {
	lower := strings.ToLower(title)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.category
			}
		}
	}
	return Other
}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case Exam, Assignment, Notes, Other:
		return true
	default:
		return false
	}
}

// Parse normalizes a stored value. Empty or unknown values map to Other.
func Parse(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c.Valid() {
		return c
	}
	return Other
}

// ParseFilter parses a query-string filter. "all" and "" mean no filter.
func ParseFilter(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c == "" || c == "all" || !c.Valid() {
		return "", false
	}
	return c, true
}
