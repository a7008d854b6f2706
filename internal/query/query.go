// Package query filters, sorts and ranks materialised note sets in memory.
package query

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// Filter narrows a note set. Zero fields are ignored; set fields combine
// conjunctively.
type Filter struct {
	// Tags keeps notes sharing at least one of these tag ids.
	Tags       []string
	IsArchived *bool
	IsPinned   *bool
	// Search keeps notes whose title or content contains it, case-insensitively.
	Search string
}

// IsZero reports whether f keeps every note.
func (f Filter) IsZero() bool {
	return len(f.Tags) == 0 && f.IsArchived == nil && f.IsPinned == nil && strings.TrimSpace(f.Search) == ""
}

// Apply runs the filters in a fixed order: tag membership, archived state,
// pinned state, free text. The input slice is not modified.
func Apply(notes []*models.Note, f Filter) []*models.Note {
	out := slices.Clone(notes)
	if len(f.Tags) > 0 {
		out = slices.DeleteFunc(out, func(n *models.Note) bool {
			return !slices.ContainsFunc(f.Tags, n.HasTag)
		})
	}
	if f.IsArchived != nil {
		want := *f.IsArchived
		out = slices.DeleteFunc(out, func(n *models.Note) bool { return n.IsArchived != want })
	}
	if f.IsPinned != nil {
		want := *f.IsPinned
		out = slices.DeleteFunc(out, func(n *models.Note) bool { return n.IsPinned != want })
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		out = slices.DeleteFunc(out, func(n *models.Note) bool {
			return !strings.Contains(strings.ToLower(n.Title), q) &&
				!strings.Contains(strings.ToLower(n.Content), q)
		})
	}
	if out == nil {
		out = []*models.Note{}
	}
	return out
}

// SortField names a sortable note field.
type SortField string

// Sort fields.
const (
	SortTitle     SortField = "title"
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
)

// ParseSortField maps a request value to a SortField, defaulting to
// SortUpdatedAt.
func ParseSortField(s string) SortField {
	switch SortField(s) {
	case SortTitle, SortCreatedAt:
		return SortField(s)
	}
	return SortUpdatedAt
}

// SortOptions controls Sort.
type SortOptions struct {
	Field      SortField
	Descending bool
	// PinnedFirst puts pinned notes ahead of the rest regardless of Field.
	PinnedFirst bool
}

// Sort orders notes in place. It is stable.
func Sort(notes []*models.Note, opts SortOptions) {
	slices.SortStableFunc(notes, func(a, b *models.Note) int {
		if opts.PinnedFirst && a.IsPinned != b.IsPinned {
			if a.IsPinned {
				return -1
			}
			return 1
		}
		var c int
		switch opts.Field {
		case SortTitle:
			c = cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case SortCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
		default:
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		}
		if opts.Descending {
			c = -c
		}
		return c
	})
}

// Score weights.
const (
	TitleMatch        = 100
	TitleExactBonus   = 50
	ContentMatch      = 50
	ContentExactBonus = 25
	TagMatch          = 75
	TagExactBonus     = 30
	MaxRecencyBonus   = 10
)

// FuzzyMatch reports whether query occurs in text as a substring or as an
// in-order subsequence, ignoring case. An empty query never matches.
func FuzzyMatch(text, query string) bool {
	q := []rune(strings.ToLower(query))
	if len(q) == 0 {
		return false
	}
	t := strings.ToLower(text)
	if strings.Contains(t, string(q)) {
		return true
	}
	i := 0
	for _, r := range t {
		if r == q[i] {
			i++
			if i == len(q) {
				return true
			}
		}
	}
	return false
}

// Score rates how well a note matches query. tagNames are the names of the
// note's tags. The recency bonus, max(0, 10 - days since update), is only
// added when the title, content or a tag matched, so a zero score means no
// match.
func Score(n *models.Note, tagNames []string, query string, now time.Time) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	score := 0
	if FuzzyMatch(n.Title, q) {
		score += TitleMatch
		if strings.Contains(strings.ToLower(n.Title), q) {
			score += TitleExactBonus
		}
	}
	if FuzzyMatch(n.Content, q) {
		score += ContentMatch
		if strings.Contains(strings.ToLower(n.Content), q) {
			score += ContentExactBonus
		}
	}
	if slices.ContainsFunc(tagNames, func(name string) bool { return FuzzyMatch(name, q) }) {
		score += TagMatch
	}
	if slices.ContainsFunc(tagNames, func(name string) bool { return strings.Contains(strings.ToLower(name), q) }) {
		score += TagExactBonus
	}
	if score == 0 {
		return 0
	}
	// Future timestamps count as updated now.
	days := max(0, int(now.Sub(n.UpdatedAt).Hours()/24))
	return score + max(0, MaxRecencyBonus-days)
}

// Result is a scored search hit.
type Result struct {
	Note  *models.Note `json:"note"`
	Score int          `json:"score"`
}

// Search scores every note against query and returns the hits, best first.
// tagNames maps tag ids to names. Equal scores keep their input order.
func Search(notes []*models.Note, tagNames map[string]string, query string, now time.Time) []Result {
	out := []Result{}
	if strings.TrimSpace(query) == "" {
		return out
	}
	for _, n := range notes {
		names := make([]string, 0, len(n.Tags))
		for _, id := range n.Tags {
			if name, ok := tagNames[id]; ok {
				names = append(names, name)
			}
		}
		if s := Score(n, names, query, now); s > 0 {
			out = append(out, Result{Note: n, Score: s})
		}
	}
	slices.SortStableFunc(out, func(a, b Result) int { return cmp.Compare(b.Score, a.Score) })
	return out
}
