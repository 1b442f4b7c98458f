package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// similarityThreshold is the minimum pg_trgm similarity for a fragment to
// match a term.
const similarityThreshold = 0.3

// pgxStore implements Querier over a pgxpool.Pool.
type pgxStore struct {
	pool *pgxpool.Pool
}

// DialPgx opens a connection pool to the knowledge store.
func DialPgx(ctx context.Context, dsn string) (Querier, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	cfg.MinConns = 2
	cfg.MaxConns = 20

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging store: %w", err)
	}
	return &pgxStore{pool: pool}, nil
}

func (s *pgxStore) TopFragments(ctx context.Context, limit int) ([]Result, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, category, faculty, keywords
		FROM knowledge_fragments
		ORDER BY usage_count DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top fragments: %w", err)
	}
	return scanResults(rows)
}

func (s *pgxStore) SearchFragments(ctx context.Context, terms []string, limit int) ([]Result, error) {
	sql, args := buildSearchQuery(terms, limit)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching fragments: %w", err)
	}
	return scanResults(rows)
}

// buildSearchQuery assembles the OR-combined match conditions with
// positional parameters. Ranking: trigram similarity against the first
// term descending, then usage count descending.
func buildSearchQuery(terms []string, limit int) (string, []any) {
	var conditions []string
	var args []any

	for _, term := range terms {
		args = append(args, "%"+term+"%")
		conditions = append(conditions, fmt.Sprintf("content ILIKE $%d", len(args)))
	}
	for _, term := range terms {
		args = append(args, term)
		conditions = append(conditions,
			fmt.Sprintf("similarity(content, $%d::text) > %g", len(args), similarityThreshold))
	}
	for _, term := range terms {
		args = append(args, term)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(keywords)", len(args)))
	}

	args = append(args, terms[0])
	orderParam := len(args)
	args = append(args, limit)

	sql := fmt.Sprintf(`
		SELECT id, content, category, faculty, keywords
		FROM knowledge_fragments
		WHERE %s
		ORDER BY
		  GREATEST(similarity(content, $%d::text), 0) DESC,
		  usage_count DESC
		LIMIT $%d`,
		strings.Join(conditions, " OR "), orderParam, orderParam+1)

	return sql, args
}

func scanResults(rows pgx.Rows) ([]Result, error) {
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var res Result
		var keywords []string
		if err := rows.Scan(&res.ID, &res.Content, &res.Category, &res.Faculty, &keywords); err != nil {
			return nil, fmt.Errorf("scanning fragment: %w", err)
		}
		res.Score = 1.0
		res.Keywords = keywords
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fragments: %w", err)
	}
	return results, nil
}

func (s *pgxStore) BumpUsage(ctx context.Context, ids []int32) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE knowledge_fragments SET usage_count = usage_count + 1 WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("bumping usage counters: %w", err)
	}
	return nil
}

func (s *pgxStore) CountFragments(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM knowledge_fragments`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting fragments: %w", err)
	}
	return count, nil
}

func (s *pgxStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging store: %w", err)
	}
	return nil
}

func (s *pgxStore) Close() {
	s.pool.Close()
}
