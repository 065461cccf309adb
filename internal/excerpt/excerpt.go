// Package excerpt derives short plain-text descriptions from post bodies.
// A body is either markdown or a Novel editor document serialized as JSON.
package excerpt

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultLength is the rune budget used for search result descriptions.
const DefaultLength = 160

// Node is one element of a Novel (ProseMirror) document tree.
type Node struct {
	Type    string `json:"type,omitempty"`
	Text    string `json:"text,omitempty"`
	Content []Node `json:"content,omitempty"`
}

// isBlock reports whether nodes of type t end with a line break.
func isBlock(t string) bool {
	return t == "paragraph" || t == "heading" || t == "blockquote"
}

var (
	newlineRun = regexp.MustCompile(`\s*\n\s*`)
	spaceRun   = regexp.MustCompile(`\s{2,}`)

	fencedCode = regexp.MustCompile("(?s)```.*?```")
	inlineCode = regexp.MustCompile("`([^`]+)`")
	image      = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	link       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	markup     = regexp.MustCompile(`[#>*_~-]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// NovelText extracts the text of a Novel JSON document. ok is false when
// input is not a JSON object or holds no text.
func NovelText(input string) (text string, ok bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var root Node
	if err := json.Unmarshal([]byte(trimmed), &root); err != nil {
		return "", false
	}

	var parts []string
	var walk func(n Node)
	walk = func(n Node) {
		if n.Text != "" {
			parts = append(parts, n.Text)
		}
		if n.Content != nil {
			for _, child := range n.Content {
				walk(child)
			}
			if isBlock(n.Type) {
				parts = append(parts, "\n")
			}
		}
	}
	walk(root)

	joined := strings.Join(parts, " ")
	joined = newlineRun.ReplaceAllString(joined, " \n ")
	joined = spaceRun.ReplaceAllString(joined, " ")
	joined = strings.TrimSpace(joined)
	if joined == "" {
		return "", false
	}
	return joined, true
}

// StripMarkdown removes code, images, link targets and emphasis markers and
// collapses whitespace.
func StripMarkdown(s string) string {
	s = fencedCode.ReplaceAllString(s, "")
	s = inlineCode.ReplaceAllString(s, "$1")
	s = image.ReplaceAllString(s, "")
	s = link.ReplaceAllString(s, "$1")
	s = markup.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Create returns a plain-text excerpt of body at most maxRunes long plus a
// trailing ellipsis when truncated. Non-positive maxRunes uses DefaultLength.
func Create(body string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultLength
	}
	src := body
	if text, ok := NovelText(body); ok {
		src = text
	}

	plain := StripMarkdown(src)
	if utf8.RuneCountInString(plain) <= maxRunes {
		return plain
	}
	runes := []rune(plain)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
