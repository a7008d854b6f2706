package models

// Tag is a label attached to notes. Names are unique; the first tag created
// with a given name wins.
type Tag struct {
	Entity
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Description string  `json:"description"`
	ParentID    *string `json:"parentId,omitempty"`
	IsSystemTag bool    `json:"isSystemTag"`
}

// TagInput carries the caller-provided fields of a new tag.
// An empty Color is replaced by the next palette colour.
type TagInput struct {
	Name        string
	Color       string
	Description string
	ParentID    *string
	IsSystemTag bool
}

// TagPalette is the fixed set of default tag colours, assigned round-robin.
var TagPalette = [10]string{
	"#3b82f6", // blue
	"#ef4444", // red
	"#10b981", // green
	"#f59e0b", // amber
	"#8b5cf6", // violet
	"#ec4899", // pink
	"#06b6d4", // cyan
	"#84cc16", // lime
	"#f97316", // orange
	"#6366f1", // indigo
}

// PaletteColor returns the palette colour for the n-th tag.
func PaletteColor(n int) string {
	if n < 0 {
		n = -n
	}
	return TagPalette[n%len(TagPalette)]
}
