package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the policies table with plainto_tsquery and ts_rank, using
// ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.Statuses) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "p.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	if q.OrgID != "" {
		where += fmt.Sprintf(" AND p.org_id = $%d", argN)
		args = append(args, q.OrgID)
		argN++
	}

	placeholders := make([]string, len(q.Statuses))
	for i, status := range q.Statuses {
		placeholders[i] = fmt.Sprintf("$%d", argN)
		args = append(args, status)
		argN++
	}
	where += " AND p.status IN (" + strings.Join(placeholders, ",") + ")"

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM policies p WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.title,
			ts_headline('english', coalesce(p.content, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			p.org_id, p.status, p.department, p.category
		FROM policies p
		WHERE %s
		ORDER BY ts_rank(p.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.OrgID, &r.Status, &r.Department, &r.Category); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every policy for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PolicyRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, org_id, status, department, category, tags
		FROM policies
	`)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	policies := make([]PolicyRecord, 0)
	for rows.Next() {
		var record PolicyRecord
		var tags []byte
		if err := rows.Scan(&record.ID, &record.Title, &record.Content, &record.OrgID,
			&record.Status, &record.Department, &record.Category, &tags); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		_ = json.Unmarshal(tags, &record.Tags)
		policies = append(policies, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}

	return policies, nil
}
