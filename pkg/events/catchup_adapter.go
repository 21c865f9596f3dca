package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatchupQuerier implements CatchupQuerier directly against the
// events table populated by EventPublisher.persistAndNotify.
type PostgresCatchupQuerier struct {
	pool *pgxpool.Pool
}

// NewPostgresCatchupQuerier creates a CatchupQuerier backed by pool.
func NewPostgresCatchupQuerier(pool *pgxpool.Pool) *PostgresCatchupQuerier {
	return &PostgresCatchupQuerier{pool: pool}
}

// GetCatchupEvents returns events on channel with id > sinceID, oldest
// first, capped at limit.
func (q *PostgresCatchupQuerier) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query catchup events: %w", err)
	}
	defer rows.Close()

	var result []CatchupEvent
	for rows.Next() {
		var id int
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan catchup event: %w", err)
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal catchup event payload: %w", err)
		}
		result = append(result, CatchupEvent{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catchup events: %w", err)
	}
	return result, nil
}
