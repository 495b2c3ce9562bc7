package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/compozy/policychat/engine/knowledge"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "policychat:vectors:"

// redisStore keeps chunks in a Redis vector set; attributes hold the chunk payload as JSON.
type redisStore struct {
	client    *redis.Client
	setKey    string
	dimension int
	timeout   time.Duration
}

type redisAttributes struct {
	ChunkID    string    `json:"chunk_id"`
	Content    string    `json:"content"`
	SourceFile string    `json:"source_file"`
	PageNumber *int      `json:"page_number,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func newRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:          strings.TrimSpace(cfg.Redis.Addr),
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		Protocol:      3,
		UnstableResp3: true,
	})
	store := newRedisStoreWithClient(client, cfg)
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis vector_db %q: %w", cfg.Index, err)
	}
	return store, nil
}

func newRedisStoreWithClient(client *redis.Client, cfg *Config) *redisStore {
	return &redisStore{
		client:    client,
		setKey:    redisKeyPrefix + sanitizeRedisKey(cfg.Index),
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
	}
}

func sanitizeRedisKey(raw string) string {
	builder := strings.Builder{}
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
		default:
			builder.WriteRune('_')
		}
	}
	key := strings.Trim(builder.String(), "_-")
	if key == "" {
		return "default"
	}
	return key
}

// Recreate deletes the vector set. Redis declares the set implicitly on the first VADD.
func (r *redisStore) Recreate(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, r.setKey).Err(); err != nil {
		recordVectorError(ctx, string(ProviderRedis), "recreate")
		return backendFailure("redis: delete vector set %q: %w", r.setKey, err)
	}
	return nil
}

func (r *redisStore) Upsert(ctx context.Context, chunks []knowledge.DocumentChunk) (*UpsertResult, error) {
	if err := checkDimensions(chunks, r.dimension); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &UpsertResult{}, nil
	}
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	pipe := r.client.Pipeline()
	type pending struct {
		add  *redis.BoolCmd
		attr *redis.BoolCmd
	}
	cmds := make([]pending, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]
		cmds[i].add = pipe.VAdd(ctx, r.setKey, chunk.ID, &redis.VectorValues{Val: float32ToFloat64(chunk.ContentVector)})
		cmds[i].attr = pipe.VSetAttr(ctx, r.setKey, chunk.ID, buildRedisAttributes(chunk))
	}
	_, execErr := pipe.Exec(ctx)
	result := &UpsertResult{}
	for i := range cmds {
		err := cmds[i].add.Err()
		if err == nil {
			err = cmds[i].attr.Err()
		}
		if err == nil {
			result.Succeeded++
			continue
		}
		var replyErr redis.Error
		if !errors.As(err, &replyErr) {
			recordVectorError(ctx, string(ProviderRedis), "upsert")
			return nil, backendFailure("redis: upsert pipeline: %w", err)
		}
		result.Failed = append(result.Failed, RecordFailure{ID: chunks[i].ID, Reason: replyErr.Error()})
	}
	if execErr != nil && len(result.Failed) == 0 {
		recordVectorError(ctx, string(ProviderRedis), "upsert")
		return nil, backendFailure("redis: upsert pipeline: %w", execErr)
	}
	recordVectorUpsert(ctx, string(ProviderRedis), result.Succeeded)
	return result, nil
}

func (r *redisStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkQueryDimension(query, r.dimension); err != nil {
		return nil, err
	}
	topK := resolveTopK(opts.TopK)
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	results, err := r.client.VSimWithArgsWithScores(
		ctx,
		r.setKey,
		&redis.VectorValues{Val: float32ToFloat64(query)},
		&redis.VSimArgs{Count: int64(topK)},
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		recordVectorError(ctx, string(ProviderRedis), "search")
		return nil, backendFailure("redis: similarity search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	payloads, err := r.loadAttributePayloads(ctx, results)
	if err != nil {
		return nil, err
	}
	matches, err := buildMatchesFromPayloads(results, payloads)
	if err != nil {
		return nil, err
	}
	SortMatches(matches)
	recordVectorSearch(ctx, string(ProviderRedis), topK, time.Since(start), matches)
	return matches, nil
}

func (r *redisStore) loadAttributePayloads(ctx context.Context, results []redis.VectorScore) ([]string, error) {
	pipe := r.client.Pipeline()
	attrCmds := make([]*redis.StringCmd, len(results))
	for i := range results {
		attrCmds[i] = pipe.VGetAttr(ctx, r.setKey, results[i].Name)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, backendFailure("redis: fetch attributes: %w", err)
	}
	payloads := make([]string, len(results))
	for i := range attrCmds {
		raw, err := attrCmds[i].Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, backendFailure("redis: read attributes for %q: %w", results[i].Name, err)
		}
		payloads[i] = raw
	}
	return payloads, nil
}

func buildMatchesFromPayloads(results []redis.VectorScore, payloads []string) ([]Match, error) {
	matches := make([]Match, 0, len(results))
	for i, item := range results {
		chunk := knowledge.DocumentChunk{ID: item.Name}
		if raw := strings.TrimSpace(payloads[i]); raw != "" {
			var attrs redisAttributes
			if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
				return nil, fmt.Errorf("redis: parse attributes for %q: %w", item.Name, err)
			}
			chunk.Content = attrs.Content
			chunk.SourceFile = attrs.SourceFile
			chunk.PageNumber = attrs.PageNumber
			chunk.CreatedAt = attrs.CreatedAt
		}
		matches = append(matches, Match{Chunk: chunk, Score: item.Score})
	}
	return matches, nil
}

func (r *redisStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	total, err := r.client.VCard(ctx, r.setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, backendFailure("redis: vcard: %w", err)
	}
	return int(total), nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return backendFailure("redis ping: %w", err)
	}
	return nil
}

func (r *redisStore) Close(context.Context) error {
	return r.client.Close()
}

func buildRedisAttributes(chunk *knowledge.DocumentChunk) map[string]any {
	attrs := map[string]any{
		"chunk_id":    chunk.ID,
		"content":     chunk.Content,
		"source_file": chunk.SourceFile,
		"created_at":  chunk.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if chunk.PageNumber != nil {
		attrs["page_number"] = *chunk.PageNumber
	}
	return attrs
}

func float32ToFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = float64(values[i])
	}
	return out
}
