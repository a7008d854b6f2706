package models

// LinkType classifies a backlink.
type LinkType string

// Link types.
const (
	LinkWiki      LinkType = "wiki"
	LinkReference LinkType = "reference"
	LinkEmbed     LinkType = "embed"
)

// Valid reports whether t is a known link type.
func (t LinkType) Valid() bool {
	switch t {
	case LinkWiki, LinkReference, LinkEmbed:
		return true
	}
	return false
}

// Position is a rune offset span into the source note's content at sync time.
// It goes stale once the content is edited without a re-sync.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Backlink is a directed, persisted link from one note to another.
// Dangling note ids are tolerated; lookups simply fail to resolve.
type Backlink struct {
	Entity
	SourceNoteID string   `json:"sourceNoteId"`
	TargetNoteID string   `json:"targetNoteId"`
	LinkType     LinkType `json:"linkType"`
	Context      string   `json:"context"`
	Position     Position `json:"position"`
}

// BacklinkInput carries the caller-provided fields of a new backlink.
type BacklinkInput struct {
	SourceNoteID string
	TargetNoteID string
	LinkType     LinkType
	Context      string
	Position     Position
}
