package store

import (
	"sort"
	"strings"
)

// LexicalFloorScore is awarded when the haystack contains the query but the
// non-overlapping count is zero. The count can only be zero when contains is
// false, so in practice the floor never fires; it is kept for compatibility
// with existing result ordering.
const LexicalFloorScore = 0.1

// ScoreLexical scores a document against query: the number of
// non-overlapping case-insensitive occurrences of query in
// lower(title + " " + content). An empty query scores 0.
func ScoreLexical(title, content, query string) float64 {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return 0
	}
	haystack := strings.ToLower(title + " " + content)

	count := strings.Count(haystack, needle)
	if count == 0 && strings.Contains(haystack, needle) {
		return LexicalFloorScore
	}
	return float64(count)
}

// RankLexical scores docs against query, drops zero scores, sorts by score
// descending then slug ascending, and truncates to limit.
func RankLexical(docs []Document, query string, limit int) []Scored {
	out := make([]Scored, 0, len(docs))
	for _, d := range docs {
		score := ScoreLexical(d.Title, d.Content, query)
		if score <= 0 {
			continue
		}
		out = append(out, Scored{Document: d, Similarity: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Slug < out[j].Slug
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
