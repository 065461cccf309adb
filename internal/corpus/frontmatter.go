package corpus

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// frontMatter holds the recognised keys of a post header.
type frontMatter struct {
	Slug     string
	Title    string
	Date     time.Time
	AuthorID *string
}

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// splitFrontMatter separates a leading YAML (---) or TOML (+++) block from
// the body. Files without a header return nil meta and the whole input.
func splitFrontMatter(raw []byte) (meta map[string]any, body string, err error) {
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")

	var delim string
	switch {
	case strings.HasPrefix(text, "---\n"):
		delim = "---"
	case strings.HasPrefix(text, "+++\n"):
		delim = "+++"
	default:
		return nil, text, nil
	}

	rest := text[len(delim)+1:]
	var header string
	if strings.HasPrefix(rest, delim+"\n") || rest == delim {
		header, body = "", strings.TrimPrefix(strings.TrimPrefix(rest, delim), "\n")
	} else {
		end := strings.Index(rest, "\n"+delim+"\n")
		switch {
		case end >= 0:
			header, body = rest[:end], rest[end+len(delim)+2:]
		case strings.HasSuffix(rest, "\n"+delim):
			header, body = strings.TrimSuffix(rest, "\n"+delim), ""
		default:
			return nil, "", fmt.Errorf("unterminated %s front matter", delim)
		}
	}

	meta = map[string]any{}
	if delim == "---" {
		err = yaml.Unmarshal([]byte(header), &meta)
	} else {
		err = toml.Unmarshal([]byte(header), &meta)
	}
	if err != nil {
		return nil, "", fmt.Errorf("parse %s front matter: %w", delim, err)
	}
	return meta, body, nil
}

// parseFrontMatter extracts the known keys from meta. Unknown keys and
// values of the wrong type are ignored.
func parseFrontMatter(meta map[string]any) frontMatter {
	var fm frontMatter
	fm.Slug = stringValue(meta["slug"])
	fm.Title = stringValue(meta["title"])
	if t, ok := dateValue(meta["date"]); ok {
		fm.Date = t
	}
	if v, ok := meta["authorId"]; ok && v != nil {
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			fm.AuthorID = &s
		}
	}
	return fm
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// dateValue accepts YAML strings and TOML date/time values.
func dateValue(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d.UTC(), true
	case toml.LocalDateTime:
		return d.AsTime(time.UTC), true
	case toml.LocalDate:
		return d.AsTime(time.UTC), true
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
