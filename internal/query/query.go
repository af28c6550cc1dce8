package query

// Query is an immutable natural-language request plus optional context
// parameters (domain tags, user id) that scope cache lookups.
type Query struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

func New(text string) Query {
	return Query{Text: text}
}

func (q Query) WithContext(ctx map[string]string) Query {
	q.Context = ctx
	return q
}
