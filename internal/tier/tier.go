package tier

import (
	"fmt"
	"sort"
)

type LatencyClass string

const (
	LatencyFast     LatencyClass = "fast"
	LatencyStandard LatencyClass = "standard"
	LatencySlow     LatencyClass = "slow"
)

// Tier is one inference-quality/cost level. Prices are USD per token.
// Tiers are configuration data and never change after construction.
type Tier struct {
	Name        string
	Model       string // upstream model identifier
	InputPrice  float64
	OutputPrice float64
	Latency     LatencyClass
	Rank        int // capability rank, 0 = cheapest
}

// Cost returns the dollar cost of a call at this tier.
func (t Tier) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*t.InputPrice + float64(outputTokens)*t.OutputPrice
}

// Table holds the configured tiers sorted by capability rank.
type Table struct {
	tiers []Tier
}

func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier: no tiers configured")
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	seen := make(map[string]bool, len(sorted))
	for i, t := range sorted {
		if t.Name == "" {
			return nil, fmt.Errorf("tier: tier %d has no name", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tier: duplicate tier name %q", t.Name)
		}
		seen[t.Name] = true
		if t.InputPrice < 0 || t.OutputPrice < 0 {
			return nil, fmt.Errorf("tier: %s has a negative price", t.Name)
		}
		if i > 0 && t.Rank == sorted[i-1].Rank {
			return nil, fmt.Errorf("tier: %s and %s share rank %d", sorted[i-1].Name, t.Name, t.Rank)
		}
	}

	return &Table{tiers: sorted}, nil
}

// Tiers returns the tiers in ascending capability order.
func (tb *Table) Tiers() []Tier {
	out := make([]Tier, len(tb.tiers))
	copy(out, tb.tiers)
	return out
}

func (tb *Table) Cheapest() Tier {
	return tb.tiers[0]
}

func (tb *Table) MostCapable() Tier {
	return tb.tiers[len(tb.tiers)-1]
}

func (tb *Table) ByName(name string) (Tier, bool) {
	for _, t := range tb.tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// Next returns the next more capable tier, or false when t is already
// the most capable one.
func (tb *Table) Next(t Tier) (Tier, bool) {
	for i, c := range tb.tiers {
		if c.Name == t.Name && i+1 < len(tb.tiers) {
			return tb.tiers[i+1], true
		}
	}
	return Tier{}, false
}

func (tb *Table) Len() int {
	return len(tb.tiers)
}

// Default mirrors current Anthropic list pricing (USD per token).
func Default() *Table {
	tb, _ := NewTable([]Tier{
		{Name: "haiku", Model: "claude-3-5-haiku-20241022", InputPrice: 0.0000008, OutputPrice: 0.0000024, Latency: LatencyFast, Rank: 0},
		{Name: "sonnet", Model: "claude-3-5-sonnet-20241022", InputPrice: 0.000003, OutputPrice: 0.000015, Latency: LatencyStandard, Rank: 1},
		{Name: "opus", Model: "claude-3-opus-20240229", InputPrice: 0.00001, OutputPrice: 0.00005, Latency: LatencySlow, Rank: 2},
	})
	return tb
}
