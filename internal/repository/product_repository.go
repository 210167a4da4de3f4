package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"storefront/worker/internal/models"
)

var ErrProductNotFound = errors.New("product not found")

type ProductRepository struct {
	db DB
}

func NewProductRepository(db DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetMedia(ctx context.Context, storeID, productID string) ([]models.MediaEntry, error) {
	const query = `SELECT media FROM products WHERE store_id = $1 AND id = $2`

	var raw []byte
	if err := r.db.QueryRow(ctx, query, storeID, productID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	media := []models.MediaEntry{}
	if len(raw) == 0 {
		return media, nil
	}
	if err := json.Unmarshal(raw, &media); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	return media, nil
}

// AppendMedia appends one entry to the product's media list in a single
// statement, so concurrent appends on the same product never overwrite each
// other. It returns the product's new revision.
func (r *ProductRepository) AppendMedia(ctx context.Context, storeID, productID string, entry models.MediaEntry) (int64, error) {
	const query = `
		UPDATE products
		SET media = COALESCE(media, '[]'::jsonb) || jsonb_build_array($3::jsonb),
		    revision = revision + 1,
		    updated_at = NOW()
		WHERE store_id = $1 AND id = $2
		RETURNING revision
	`

	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encode media entry: %w", err)
	}

	var revision int64
	if err := r.db.QueryRow(ctx, query, storeID, productID, string(payload)).Scan(&revision); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return revision, nil
}
