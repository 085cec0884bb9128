package db

import (
	"context"

	"arcana/internal/types"
)

// CardRepository provides read-only access to the reading-deck catalog.
type CardRepository struct {
	db DBTX
}

// NewCardRepository creates a CardRepository backed by the given database
// connection.
func NewCardRepository(db DBTX) *CardRepository {
	return &CardRepository{db: db}
}

// List returns all cards ordered by name.
func (r *CardRepository) List(ctx context.Context) ([]types.Card, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, image_url FROM cards ORDER BY name ASC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list cards", err)
	}
	defer rows.Close()

	var cards []types.Card
	for rows.Next() {
		var c types.Card
		if err := rows.Scan(&c.Name, &c.ImageURL); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan card row", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate card rows", err)
	}
	return cards, nil
}
