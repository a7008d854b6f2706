package models

// Note is a Markdown document. Content is the single source of truth;
// Title is derived from it on every save.
type Note struct {
	Entity
	Title   string `json:"title"`
	Content string `json:"content"`
	// Tags holds Tag ids in first-appearance order.
	Tags []string `json:"tags"`
	// Backlinks lists the ids of notes this note links to (outgoing targets),
	// refreshed on every backlink sync. It is informational only; query the
	// Backlink collection for incoming links.
	Backlinks  []string `json:"backlinks"`
	IsArchived bool     `json:"isArchived"`
	IsPinned   bool     `json:"isPinned"`
}

// HasTag reports whether the note references tagID.
func (n *Note) HasTag(tagID string) bool {
	for _, id := range n.Tags {
		if id == tagID {
			return true
		}
	}
	return false
}

// NoteInput carries the caller-provided fields of a new note.
// An empty Title is derived from Content.
type NoteInput struct {
	Title      string
	Content    string
	Tags       []string
	IsArchived bool
	IsPinned   bool
}
