package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SearchTickets runs a full-text search over ticket titles and
// descriptions using the GIN indexes created by the embedded migrations,
// returning matching ticket IDs ranked by relevance. This is the
// keyword-search collaborator the Matcher's degraded-mode fallback reads
// from when the vector index is unavailable.
func SearchTickets(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT ticket_id FROM tickets
		WHERE to_tsvector('english', title || ' ' || description) @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(to_tsvector('english', title || ' ' || description), plainto_tsquery('english', $1)) DESC
		LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search tickets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ticket search result: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
