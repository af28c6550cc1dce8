package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached inference response. An entry is owned by the store
// that committed it and becomes invisible to lookups once its TTL has
// elapsed, even if not yet physically removed.
type Entry struct {
	Key          string        `json:"key"`
	Response     string        `json:"response"`
	Tier         string        `json:"tier"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CreatedAt    time.Time     `json:"created_at"`
	TTL          time.Duration `json:"ttl"`
	Embedding    []float32     `json:"embedding,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (e *Entry) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (e *Entry) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

func (e *Entry) ExpiredAt(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}
