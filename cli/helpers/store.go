package helpers

import (
	"context"
	"fmt"
	"time"

	"github.com/compozy/policychat/engine/knowledge/vectordb"
	"github.com/compozy/policychat/pkg/config"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/sethvargo/go-retry"
)

const defaultConnectBackoff = 500 * time.Millisecond

// OpenVectorStore connects to the configured index, retrying with exponential backoff
// up to vector_db.connect.attempts times.
func OpenVectorStore(ctx context.Context, cfg *config.Config) (vectordb.Store, error) {
	log := logger.FromContext(ctx)
	attempts := cfg.VectorDB.Connect.Attempts
	if attempts == 0 {
		attempts = 1
	}
	base := cfg.VectorDB.Connect.Backoff
	if base <= 0 {
		base = defaultConnectBackoff
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(base))
	var (
		store vectordb.Store
		tries uint64
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tries++
		opened, err := vectordb.New(ctx, vectordb.ConfigFromApp(cfg))
		if err == nil {
			err = opened.Ping(ctx)
			if err != nil {
				_ = opened.Close(ctx)
			}
		}
		if err != nil {
			log.Warn("Vector database not reachable",
				"provider", cfg.VectorDB.Provider,
				"attempt", tries,
				"max_attempts", attempts,
				"error", err)
			return retry.RetryableError(err)
		}
		store = opened
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index %q after %d attempts: %w", cfg.VectorDB.Index, tries, err)
	}
	log.Debug("Vector database connected", "provider", cfg.VectorDB.Provider, "index", cfg.VectorDB.Index)
	return store, nil
}
