package mcpserver

// NoteFormatContract describes the Markdown conventions Ansuz derives titles,
// tags and links from. LLM consumers should follow it when writing notes.
const NoteFormatContract = `# Ansuz Note Format Contract

A note is a single Markdown document. Ansuz derives everything else from the
content on every save, so the content is the only thing you write.

## Structure

` + "```" + `markdown
---
title: Optional explicit title     # OPTIONAL – overrides the derived title
---

# Note title

Body text in standard Markdown. Tag it inline with #hashtags and link other
notes by title with [[Other Note]].
` + "```" + `

## Rules

1. **Title.** The frontmatter ` + "`" + `title` + "`" + ` wins. Otherwise the first ` + "`" + `# ` + "`" + ` heading is
   used, then the first non-empty line (at most 100 characters), then "Untitled".
2. **Titles are how notes are found.** Keep them unique; renaming a note rewrites
   ` + "`" + `[[Old Title]]` + "`" + ` links in every other note to the new title.
3. **Hashtags** match ` + "`" + `#[A-Za-z0-9_-]+` + "`" + ` and are case-insensitive: ` + "`" + `#Work` + "`" + ` and
   ` + "`" + `#work` + "`" + ` are the same tag. A note's tags are exactly the hashtags in its content.
4. **Wiki links** use double brackets around a note title: ` + "`" + `[[Project Plan]]` + "`" + `.
   Matching is case-insensitive; an exact title beats a partial one. Links to
   titles that match no note are kept in the text but create no backlink.
5. **Encoding** is UTF-8.

## Example

` + "```" + `markdown
# Weekly standup 2025-01-20

Attendees: Alice, Bob. #meeting-notes #project-x

## Action items

- Review the [[Design Doc]]
- Update the [[Roadmap]]
` + "```" + `
`
