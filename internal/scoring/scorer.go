package scoring

import (
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/vnmchuo/llm-optimizer/internal/query"
)

// Factor is one signal's contribution to a complexity score. The
// ordered list of factors forms the routing reasoning trail.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// SignalFunc is an injected domain-specific signal. It must return a
// value in [0,1]; the scorer applies the configured weight.
type SignalFunc func(q query.Query) (name string, value float64)

type Config struct {
	// LongQueryTokens is the token count at which the length signal
	// saturates to 1.
	LongQueryTokens int
	// Keywords is the technical/domain vocabulary for the lexical signal.
	Keywords []string
	// KeywordCap is the match count at which the lexical signal saturates.
	KeywordCap int

	LengthWeight     float64
	LexicalWeight    float64
	StructuralWeight float64
	ExtraWeight      float64
}

func DefaultConfig() Config {
	return Config{
		LongQueryTokens: 50,
		Keywords: []string{
			"analyze", "compare", "evaluate", "implement", "architecture",
			"performance", "security", "optimization", "framework", "scalability",
			"financial", "legal", "medical", "compliance", "regulation",
			"liability", "diagnosis", "portfolio",
		},
		KeywordCap:       4,
		LengthWeight:     0.35,
		LexicalWeight:    0.35,
		StructuralWeight: 0.2,
		ExtraWeight:      0.1,
	}
}

var enumItem = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*])\s`)

// Scorer estimates how hard a query is to answer well, as a value in
// [0,1]. It is pure: identical input and configuration always produce
// the same score.
type Scorer struct {
	cfg   Config
	extra SignalFunc
	enc   *tiktoken.Tiktoken
}

type Option func(*Scorer)

// WithSignal injects an additional domain-specific signal. This is the
// customization point: callers compose a signal in rather than
// replacing the scorer.
func WithSignal(fn SignalFunc) Option {
	return func(s *Scorer) { s.extra = fn }
}

func New(cfg Config, opts ...Option) *Scorer {
	s := &Scorer{cfg: cfg}
	// tiktoken fetches its BPE ranks on first use; fall back to
	// whitespace counting when the encoding is unavailable.
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		s.enc = enc
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the weighted complexity score and the per-signal
// contributions, clamped to [0,1].
func (s *Scorer) Score(q query.Query) (float64, []Factor) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return 0, []Factor{{Name: "empty_input", Contribution: 0}}
	}

	var factors []Factor
	total := 0.0

	length := s.lengthSignal(text) * s.cfg.LengthWeight
	factors = append(factors, Factor{Name: "length", Contribution: length})
	total += length

	lexical := s.lexicalSignal(text) * s.cfg.LexicalWeight
	factors = append(factors, Factor{Name: "lexical", Contribution: lexical})
	total += lexical

	structural := s.structuralSignal(text) * s.cfg.StructuralWeight
	factors = append(factors, Factor{Name: "structural", Contribution: structural})
	total += structural

	if s.extra != nil {
		name, value := s.extra(q)
		extra := clamp01(value) * s.cfg.ExtraWeight
		factors = append(factors, Factor{Name: name, Contribution: extra})
		total += extra
	}

	return clamp01(total), factors
}

func (s *Scorer) lengthSignal(text string) float64 {
	n := s.tokenCount(text)
	if s.cfg.LongQueryTokens <= 0 {
		return 0
	}
	return clamp01(float64(n) / float64(s.cfg.LongQueryTokens))
}

func (s *Scorer) lexicalSignal(text string) float64 {
	lower := strings.ToLower(text)
	matches := 0
	for _, kw := range s.cfg.Keywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	limit := s.cfg.KeywordCap
	if limit <= 0 {
		limit = 1
	}
	return clamp01(float64(matches) / float64(limit))
}

// structuralSignal detects multi-part requests: several question marks
// or enumerated sub-asks.
func (s *Scorer) structuralSignal(text string) float64 {
	parts := strings.Count(text, "?") + len(enumItem.FindAllString(text, -1))
	if parts <= 1 {
		return 0
	}
	return clamp01(float64(parts-1) / 3)
}

func (s *Scorer) tokenCount(text string) int {
	if s.enc != nil {
		return len(s.enc.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
