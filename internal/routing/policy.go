package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vnmchuo/llm-optimizer/internal/query"
	"github.com/vnmchuo/llm-optimizer/internal/scoring"
	"github.com/vnmchuo/llm-optimizer/internal/tier"
)

// Scorer computes a complexity score plus its reasoning trail. The
// policy takes it as a capability so callers can inject an override.
type Scorer interface {
	Score(q query.Query) (float64, []scoring.Factor)
}

const (
	MethodPattern    = "pattern_match"
	MethodComplexity = "complexity_analysis"
	MethodEmpty      = "empty_input"
)

// Decision is a transparent routing decision: the chosen tier, the
// score, and the ordered signal contributions that produced it.
type Decision struct {
	Tier      tier.Tier        `json:"-"`
	TierName  string           `json:"tier"`
	Score     float64          `json:"score"`
	Method    string           `json:"method"`
	Reasoning []scoring.Factor `json:"reasoning"`
}

type Config struct {
	// SimpleThreshold (t1) and CapableThreshold (t2) split the score
	// range into cheapest / mid / most capable. Must satisfy
	// 0 <= t1 <= t2 <= 1.
	SimpleThreshold  float64
	CapableThreshold float64
	// SimplePatterns short-circuit obviously trivial queries to the
	// cheapest tier before any scoring.
	SimplePatterns []string
}

func DefaultConfig() Config {
	return Config{
		SimpleThreshold:  0.3,
		CapableThreshold: 0.6,
		SimplePatterns: []string{
			`\b(what is|how do|where can|when does|can i)\b`,
			`\b(price|cost|pricing|fee|hours)\b`,
			`\b(cancel|refund|return|location)\b`,
			`\b(yes|no|thanks|hello|hi)\b`,
		},
	}
}

// Policy maps complexity scores to model tiers through a monotonic
// threshold table. Routing is pure computation; nothing here retries
// or blocks.
type Policy struct {
	table    *tier.Table
	cfg      Config
	scorer   Scorer
	patterns []*regexp.Regexp
}

func NewPolicy(table *tier.Table, cfg Config, scorer Scorer) (*Policy, error) {
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("routing: no tier table configured")
	}
	if scorer == nil {
		return nil, fmt.Errorf("routing: no scorer configured")
	}
	if cfg.SimpleThreshold < 0 || cfg.CapableThreshold > 1 || cfg.SimpleThreshold > cfg.CapableThreshold {
		return nil, fmt.Errorf("routing: thresholds must satisfy 0 <= t1 <= t2 <= 1, got t1=%v t2=%v",
			cfg.SimpleThreshold, cfg.CapableThreshold)
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.SimplePatterns))
	for _, p := range cfg.SimplePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("routing: invalid simple pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Policy{table: table, cfg: cfg, scorer: scorer, patterns: patterns}, nil
}

func (p *Policy) Route(q query.Query) Decision {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return p.decision(p.table.Cheapest(), 0, MethodEmpty,
			[]scoring.Factor{{Name: "empty_input", Contribution: 0}})
	}

	if p.matchesSimplePattern(text) {
		return p.decision(p.table.Cheapest(), 0.1, MethodPattern,
			[]scoring.Factor{{Name: "pattern_match", Contribution: 0.1}})
	}

	score, factors := p.scorer.Score(q)
	return p.decision(p.tierFor(score), score, MethodComplexity, factors)
}

func (p *Policy) matchesSimplePattern(text string) bool {
	lower := strings.ToLower(text)
	for _, re := range p.patterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// tierFor applies the threshold table: score < t1 routes cheapest,
// score < t2 routes mid, otherwise most capable. With a two-tier table
// the mid band collapses onto the cheapest tier.
func (p *Policy) tierFor(score float64) tier.Tier {
	tiers := p.table.Tiers()
	switch {
	case score < p.cfg.SimpleThreshold:
		return tiers[0]
	case score < p.cfg.CapableThreshold:
		return tiers[(len(tiers)-1)/2]
	default:
		return tiers[len(tiers)-1]
	}
}

func (p *Policy) decision(t tier.Tier, score float64, method string, factors []scoring.Factor) Decision {
	return Decision{
		Tier:      t,
		TierName:  t.Name,
		Score:     score,
		Method:    method,
		Reasoning: factors,
	}
}
