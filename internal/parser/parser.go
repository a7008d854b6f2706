// Package parser extracts hashtags, wiki-links and a title from note content.
package parser

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const (
	// ContextRadius is the number of runes kept on each side of a wiki-link.
	ContextRadius = 50
	// MaxTitleRunes caps a title taken from the first line of content.
	MaxTitleRunes = 100
	// Untitled is used when content yields no title.
	Untitled = "Untitled"
)

var (
	hashtagRe  = regexp.MustCompile(`#([A-Za-z0-9_-]+)`)
	wikilinkRe = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
)

// WikiLink is one [[Title]] occurrence. Start and End are rune offsets into
// the content, End exclusive and covering the closing brackets.
type WikiLink struct {
	Title   string
	Start   int
	End     int
	Context string
}

// Result holds everything derived from one piece of content.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Hashtags    []string
	Links       []WikiLink
	Title       string
}

// Parse derives hashtags, wiki-links and title from content. Offsets in
// Links refer to the full content, frontmatter included.
func Parse(content string) *Result {
	fm, body := splitFrontmatter(content)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Hashtags:    Hashtags(content),
		Links:       WikiLinks(content),
		Title:       deriveTitle(fm, body),
	}
}

// Hashtags returns the lowercased hashtag names in content, in order of first
// appearance, without duplicates.
func Hashtags(content string) []string {
	matches := hashtagRe.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// WikiLinks returns every wiki-link occurrence in content, repeats included.
// Links whose trimmed title is empty are skipped.
func WikiLinks(content string) []WikiLink {
	idx := wikilinkRe.FindAllStringSubmatchIndex(content, -1)
	if len(idx) == 0 {
		return nil
	}
	total := utf8.RuneCountInString(content)
	out := make([]WikiLink, 0, len(idx))
	for _, m := range idx {
		title := strings.TrimSpace(content[m[2]:m[3]])
		if title == "" {
			continue
		}
		start := utf8.RuneCountInString(content[:m[0]])
		end := start + utf8.RuneCountInString(content[m[0]:m[1]])
		out = append(out, WikiLink{
			Title:   title,
			Start:   start,
			End:     end,
			Context: runeSlice(content, max(0, start-ContextRadius), min(total, end+ContextRadius)),
		})
	}
	return out
}

// Title derives a note title: frontmatter "title", else the first "# "
// heading, else the first non-empty line without leading '#' markers
// (truncated to MaxTitleRunes), else Untitled.
func Title(content string) string {
	fm, body := splitFrontmatter(content)
	return deriveTitle(fm, body)
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. Missing or invalid frontmatter leaves the content as body.
func splitFrontmatter(content string) (map[string]any, string) {
	const delim = "---"
	data := []byte(content)
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, content
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, content
	}
	block := rest[:idx]
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, content
	}
	return fm, body
}

func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}

	lines := strings.Split(body, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			if h := strings.TrimSpace(trimmed[2:]); h != "" {
				return h
			}
		}
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if trimmed == "" {
			continue
		}
		if utf8.RuneCountInString(trimmed) > MaxTitleRunes {
			trimmed = runeSlice(trimmed, 0, MaxTitleRunes)
		}
		return trimmed
	}
	return Untitled
}

// runeSlice returns the runes [from, to) of s.
func runeSlice(s string, from, to int) string {
	var (
		i       int
		byteLo  = len(s)
		byteHi  = len(s)
		foundLo bool
	)
	for pos := range s {
		if i == from {
			byteLo = pos
			foundLo = true
		}
		if i == to {
			byteHi = pos
			break
		}
		i++
	}
	if !foundLo {
		return ""
	}
	return s[byteLo:byteHi]
}
