package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/vnmchuo/llm-optimizer/internal/query"
)

const keyPrefix = "llmcache:"

// BuildKey derives the deterministic cache key for a query. Text is
// lowercased, trimmed, inner whitespace collapsed and trailing
// punctuation stripped, so casing/whitespace variants of the same
// question share one key. Context parameters are folded in sorted by
// name: identical text under different context yields different keys.
func BuildKey(q query.Query) string {
	var b strings.Builder
	b.WriteString(Normalize(q.Text))

	if len(q.Context) > 0 {
		names := make([]string, 0, len(q.Context))
		for name := range q.Context {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString("\x00")
			b.WriteString(name)
			b.WriteString("=")
			b.WriteString(q.Context[name])
		}
	}

	h := sha256.Sum256([]byte(b.String()))
	return keyPrefix + hex.EncodeToString(h[:])
}

// Normalize is the text normalization behind BuildKey, exported so the
// similarity index compares the same canonical form.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimRight(text, ".!?")
}
