package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const qdrantDefaultTimeout = 10 * time.Second

// qdrantPointNamespace seeds deterministic point ids derived from chunk ids.
var qdrantPointNamespace = uuid.MustParse("6f1c1f0e-5a43-4d9b-9a57-0c4f4f1a6a2e")

var qdrantPayloadIndexes = []struct{ name, schema string }{
	{name: "source_file", schema: "keyword"},
	{name: "page_number", schema: "integer"},
}

type qdrantStore struct {
	client     *resty.Client
	collection string
	dimension  int
	metric     string
	hnswM      int
	hnswEF     int
	efSearch   int
}

type qdrantSearchResult struct {
	ID      any           `json:"id"`
	Score   float64       `json:"score"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantPayload struct {
	ChunkID    string    `json:"chunk_id"`
	Content    string    `json:"content"`
	SourceFile string    `json:"source_file"`
	PageNumber *int      `json:"page_number,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type qdrantError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

func newQdrantStore(_ context.Context, cfg *Config) (Store, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = qdrantDefaultTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	return &qdrantStore{
		client:     client,
		collection: normalizeIndexName(cfg.Index),
		dimension:  cfg.Dimension,
		metric:     chooseQdrantDistance(cfg.Metric),
		hnswM:      cfg.PGVector.M,
		hnswEF:     cfg.PGVector.EFConstruction,
		efSearch:   cfg.PGVector.EFSearch,
	}, nil
}

func chooseQdrantDistance(metric string) string {
	switch metric {
	case MetricL2:
		return "Euclid"
	case MetricDot:
		return "Dot"
	default:
		return "Cosine"
	}
}

// qdrantPointID maps a chunk id onto the UUID space Qdrant accepts for point ids.
func qdrantPointID(chunkID string) string {
	return uuid.NewSHA1(qdrantPointNamespace, []byte(chunkID)).String()
}

func (q *qdrantStore) collectionPath(suffix string) string {
	return "/collections/" + q.collection + suffix
}

func (q *qdrantStore) Recreate(ctx context.Context) error {
	status, err := q.do(ctx, http.MethodDelete, q.collectionPath(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		recordVectorError(ctx, string(ProviderQdrant), "recreate")
		return fmt.Errorf("qdrant: delete collection: %w", err)
	}
	create := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": q.metric,
		},
	}
	if q.hnswM > 0 || q.hnswEF > 0 {
		hnsw := map[string]any{}
		if q.hnswM > 0 {
			hnsw["m"] = q.hnswM
		}
		if q.hnswEF > 0 {
			hnsw["ef_construct"] = q.hnswEF
		}
		create["hnsw_config"] = hnsw
	}
	if _, err := q.do(ctx, http.MethodPut, q.collectionPath(""), create, nil); err != nil {
		recordVectorError(ctx, string(ProviderQdrant), "recreate")
		return fmt.Errorf("%w: qdrant: collection %q was dropped but not recreated: %w", core.ErrIndexState, q.collection, err)
	}
	for _, field := range qdrantPayloadIndexes {
		body := map[string]any{"field_name": field.name, "field_schema": field.schema}
		if _, err := q.do(ctx, http.MethodPut, q.collectionPath("/index?wait=true"), body, nil); err != nil {
			recordVectorError(ctx, string(ProviderQdrant), "recreate")
			return fmt.Errorf("%w: qdrant: create %s payload index: %w", core.ErrIndexState, field.name, err)
		}
	}
	return nil
}

func (q *qdrantStore) Upsert(ctx context.Context, chunks []knowledge.DocumentChunk) (*UpsertResult, error) {
	if err := checkDimensions(chunks, q.dimension); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &UpsertResult{}, nil
	}
	points := make([]map[string]any, 0, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]
		points = append(points, map[string]any{
			"id":     qdrantPointID(chunk.ID),
			"vector": chunk.ContentVector,
			"payload": qdrantPayload{
				ChunkID:    chunk.ID,
				Content:    chunk.Content,
				SourceFile: chunk.SourceFile,
				PageNumber: chunk.PageNumber,
				CreatedAt:  chunk.CreatedAt,
			},
		})
	}
	body := map[string]any{"points": points}
	if _, err := q.do(ctx, http.MethodPut, q.collectionPath("/points?wait=true"), body, nil); err != nil {
		recordVectorError(ctx, string(ProviderQdrant), "upsert")
		return nil, fmt.Errorf("qdrant: upsert points: %w", err)
	}
	recordVectorUpsert(ctx, string(ProviderQdrant), len(chunks))
	return &UpsertResult{Succeeded: len(chunks)}, nil
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkQueryDimension(query, q.dimension); err != nil {
		return nil, err
	}
	topK := resolveTopK(opts.TopK)
	request := map[string]any{
		"vector":       query,
		"limit":        topK,
		"with_payload": true,
	}
	if q.efSearch > 0 {
		request["params"] = map[string]any{"hnsw_ef": q.efSearch}
	}
	var response struct {
		Result []qdrantSearchResult `json:"result"`
	}
	start := time.Now()
	if _, err := q.do(ctx, http.MethodPost, q.collectionPath("/points/search"), request, &response); err != nil {
		recordVectorError(ctx, string(ProviderQdrant), "search")
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	matches := make([]Match, 0, len(response.Result))
	for _, res := range response.Result {
		id := res.Payload.ChunkID
		if id == "" {
			id = fmt.Sprint(res.ID)
		}
		score := res.Score
		if q.metric == "Euclid" {
			score = 1 / (1 + res.Score)
		}
		matches = append(matches, Match{
			Chunk: knowledge.DocumentChunk{
				ID:         id,
				Content:    res.Payload.Content,
				SourceFile: res.Payload.SourceFile,
				PageNumber: res.Payload.PageNumber,
				CreatedAt:  res.Payload.CreatedAt,
			},
			Score: score,
		})
	}
	SortMatches(matches)
	recordVectorSearch(ctx, string(ProviderQdrant), topK, time.Since(start), matches)
	return matches, nil
}

func (q *qdrantStore) Count(ctx context.Context) (int, error) {
	var response struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := q.do(ctx, http.MethodPost, q.collectionPath("/points/count"), map[string]any{"exact": true}, &response)
	if err != nil {
		if status == http.StatusNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return response.Result.Count, nil
}

func (q *qdrantStore) Ping(ctx context.Context) error {
	if _, err := q.do(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("qdrant: ping: %w", err)
	}
	return nil
}

func (q *qdrantStore) Close(context.Context) error {
	return nil
}

// do sends one request and decodes a successful body into out.
// The returned status is zero when the request never reached the server.
func (q *qdrantStore) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	req := q.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrServiceUnavailable, err)
	}
	if resp.IsError() {
		var apiErr qdrantError
		message := strings.TrimSpace(resp.String())
		if jsonErr := json.Unmarshal(resp.Body(), &apiErr); jsonErr == nil && apiErr.Status.Error != "" {
			message = apiErr.Status.Error
		}
		return resp.StatusCode(), fmt.Errorf(
			"%w: request failed with status %d: %s",
			core.ErrServiceUnavailable, resp.StatusCode(), message,
		)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return resp.StatusCode(), backendFailure("decode response: %w", err)
		}
	}
	return resp.StatusCode(), nil
}
