package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"

	"github.com/vnmchuo/llm-optimizer/internal/auth"
)

const (
	TestAPIKey   = "test-optimizer-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
)

// SeedTestAPIKey creates a known API key for local development.
func SeedTestAPIKey(ctx context.Context, store auth.Store) {
	h := sha256.Sum256([]byte(TestAPIKey))

	apiKey := &auth.APIKey{
		TenantID: TestTenantID,
		KeyHash:  hex.EncodeToString(h[:]),
		Active:   true,
	}

	err := store.Create(ctx, apiKey)
	if err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test API key created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
	log.Printf("[Seeder] TenantID: %s", TestTenantID)
}
