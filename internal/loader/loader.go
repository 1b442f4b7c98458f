// Package loader bulk-imports knowledge fragments from CSV into the
// store.
//
// Expected columns: content, category, faculty, keywords. The keywords
// column holds semicolon-separated terms. A header row is detected by
// its first cell and skipped.
package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fragment is one row to import.
type Fragment struct {
	Content  string
	Category string
	Faculty  string
	Keywords []string
}

// Parse reads fragments from CSV. Rows with an empty content cell are
// skipped; missing category/faculty cells default to "General".
func Parse(r io.Reader) ([]Fragment, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // tolerate short rows

	var fragments []Fragment
	for line := 1; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(cell(record, 0), "content") {
			continue
		}

		content := strings.TrimSpace(cell(record, 0))
		if content == "" {
			continue
		}
		fragments = append(fragments, Fragment{
			Content:  content,
			Category: defaultCell(record, 1, "General"),
			Faculty:  defaultCell(record, 2, "General"),
			Keywords: splitKeywords(cell(record, 3)),
		})
	}
	return fragments, nil
}

// Load parses CSV from r and bulk-inserts the fragments with CopyFrom.
// Returns the number of rows written.
func Load(ctx context.Context, pool *pgxpool.Pool, r io.Reader) (int64, error) {
	fragments, err := Parse(r)
	if err != nil {
		return 0, err
	}
	if len(fragments) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(fragments))
	for i, f := range fragments {
		rows[i] = []any{f.Content, f.Category, f.Faculty, f.Keywords}
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"knowledge_fragments"},
		[]string{"content", "category", "faculty", "keywords"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copying fragments: %w", err)
	}
	return n, nil
}

func cell(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return record[i]
}

func defaultCell(record []string, i int, def string) string {
	v := strings.TrimSpace(cell(record, i))
	if v == "" {
		return def
	}
	return v
}

func splitKeywords(raw string) []string {
	var keywords []string
	for _, k := range strings.Split(raw, ";") {
		k = strings.TrimSpace(strings.ToLower(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}
