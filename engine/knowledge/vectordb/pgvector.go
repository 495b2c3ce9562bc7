package vectordb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/policychat/engine/core"
	"github.com/compozy/policychat/engine/knowledge"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const pgUndefinedTable = "42P01"

// pgPool is the subset of pgxpool.Pool used by the store.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type pgStore struct {
	pool       pgPool
	index      string
	tableIdent string
	hnswIdent  string
	fileIdent  string
	pageIdent  string
	dimension  int
	metric     string
	hnswM      int
	hnswEF     int
	timeout    time.Duration
}

func newPGStore(ctx context.Context, cfg *Config) (Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vector_db %q: invalid postgres dsn: %w", cfg.Index, err)
	}
	if cfg.PGVector.MaxConns > 0 {
		poolCfg.MaxConns = cfg.PGVector.MaxConns
	}
	if efSearch := cfg.PGVector.EFSearch; efSearch > 0 {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", efSearch))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("vector_db %q: failed to connect to postgres: %w", cfg.Index, err)
	}
	trackVectorPool(cfg.Index, pool)
	return newPGStoreWithPool(pool, cfg), nil
}

func newPGStoreWithPool(pool pgPool, cfg *Config) *pgStore {
	table := normalizeIndexName(cfg.Index)
	return &pgStore{
		pool:       pool,
		index:      cfg.Index,
		tableIdent: pgx.Identifier{table}.Sanitize(),
		hnswIdent:  pgx.Identifier{table + "_embedding_hnsw"}.Sanitize(),
		fileIdent:  pgx.Identifier{table + "_source_file_idx"}.Sanitize(),
		pageIdent:  pgx.Identifier{table + "_page_number_idx"}.Sanitize(),
		dimension:  cfg.Dimension,
		metric:     cfg.Metric,
		hnswM:      cfg.PGVector.M,
		hnswEF:     cfg.PGVector.EFConstruction,
		timeout:    cfg.Timeout,
	}
}

func (p *pgStore) Recreate(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		recordVectorError(ctx, string(ProviderPGVector), "recreate")
		return backendFailure("pgvector: enable extension: %w", err)
	}
	if _, err := p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+p.tableIdent); err != nil {
		recordVectorError(ctx, string(ProviderPGVector), "recreate")
		return backendFailure("pgvector: drop table: %w", err)
	}
	for _, stmt := range p.schemaStatements() {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			recordVectorError(ctx, string(ProviderPGVector), "recreate")
			return fmt.Errorf("%w: pgvector: index %q was dropped but not recreated: %w", core.ErrIndexState, p.index, err)
		}
	}
	return nil
}

func (p *pgStore) schemaStatements() []string {
	m, ef := p.hnswM, p.hnswEF
	if m <= 0 {
		m = 16
	}
	if ef <= 0 {
		ef = 64
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE %s (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		source_file TEXT NOT NULL,
		page_number INTEGER,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`, p.tableIdent, p.dimension),
		fmt.Sprintf(
			"CREATE INDEX %s ON %s USING hnsw (embedding %s) WITH (m = %d, ef_construction = %d)",
			p.hnswIdent,
			p.tableIdent,
			pgOpsClass(p.metric),
			m,
			ef,
		),
		fmt.Sprintf("CREATE INDEX %s ON %s (source_file)", p.fileIdent, p.tableIdent),
		fmt.Sprintf("CREATE INDEX %s ON %s (page_number)", p.pageIdent, p.tableIdent),
	}
}

func pgOpsClass(metric string) string {
	switch metric {
	case MetricL2:
		return "vector_l2_ops"
	case MetricDot:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

func pgDistanceOperator(metric string) string {
	switch metric {
	case MetricL2:
		return "<->"
	case MetricDot:
		return "<#>"
	default:
		return "<=>"
	}
}

// pgScore turns a pgvector distance into a higher-is-better score.
func pgScore(metric string, distance float64) float64 {
	switch metric {
	case MetricL2:
		return 1 / (1 + distance)
	case MetricDot:
		// <#> returns the negative inner product
		return -distance
	default:
		return 1 - distance
	}
}

func (p *pgStore) Upsert(ctx context.Context, chunks []knowledge.DocumentChunk) (*UpsertResult, error) {
	if err := checkDimensions(chunks, p.dimension); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	stmt := fmt.Sprintf(`INSERT INTO %s (id, content, embedding, source_file, page_number, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    content = excluded.content,
    embedding = excluded.embedding,
    source_file = excluded.source_file,
    page_number = excluded.page_number,
    created_at = excluded.created_at`, p.tableIdent)
	result := &UpsertResult{}
	for i := range chunks {
		chunk := &chunks[i]
		_, err := p.pool.Exec(
			ctx,
			stmt,
			chunk.ID,
			chunk.Content,
			pgvector.NewVector(chunk.ContentVector),
			chunk.SourceFile,
			pgPage(chunk.PageNumber),
			chunk.CreatedAt,
		)
		if err == nil {
			result.Succeeded++
			continue
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			result.Failed = append(result.Failed, RecordFailure{ID: chunk.ID, Reason: pgErr.Message})
			continue
		}
		recordVectorError(ctx, string(ProviderPGVector), "upsert")
		return result, backendFailure("pgvector: upsert %q: %w", chunk.ID, err)
	}
	recordVectorUpsert(ctx, string(ProviderPGVector), result.Succeeded)
	return result, nil
}

func pgPage(page *int) *int32 {
	if page == nil {
		return nil
	}
	v := int32(*page)
	return &v
}

func (p *pgStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkQueryDimension(query, p.dimension); err != nil {
		return nil, err
	}
	topK := resolveTopK(opts.TopK)
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	op := pgDistanceOperator(p.metric)
	sql := fmt.Sprintf(
		"SELECT id, content, source_file, page_number, created_at, embedding %s $1 AS distance FROM %s "+
			"ORDER BY embedding %s $1 ASC, id ASC LIMIT $2",
		op,
		p.tableIdent,
		op,
	)
	rows, err := p.pool.Query(ctx, sql, pgvector.NewVector(query), topK)
	if err != nil {
		recordVectorError(ctx, string(ProviderPGVector), "search")
		return nil, backendFailure("pgvector: search: %w", err)
	}
	defer rows.Close()
	results := make([]Match, 0, topK)
	for rows.Next() {
		var (
			chunk    knowledge.DocumentChunk
			page     *int32
			distance float64
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &chunk.SourceFile, &page, &chunk.CreatedAt, &distance); err != nil {
			return nil, backendFailure("pgvector: scan: %w", err)
		}
		if page != nil {
			chunk.PageNumber = knowledge.Page(int(*page))
		}
		results = append(results, Match{Chunk: chunk, Score: pgScore(p.metric, distance)})
	}
	if err := rows.Err(); err != nil {
		recordVectorError(ctx, string(ProviderPGVector), "search")
		return nil, backendFailure("pgvector: search rows: %w", err)
	}
	SortMatches(results)
	recordVectorSearch(ctx, string(ProviderPGVector), topK, time.Since(start), results)
	return results, nil
}

func (p *pgStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+p.tableIdent).Scan(&total); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
			return 0, nil
		}
		return 0, backendFailure("pgvector: count: %w", err)
	}
	return int(total), nil
}

func (p *pgStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return backendFailure("pgvector: ping: %w", err)
	}
	return nil
}

func (p *pgStore) Close(_ context.Context) error {
	untrackVectorPool(p.index)
	p.pool.Close()
	return nil
}
