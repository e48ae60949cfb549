package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-engine/internal/domain"
)

type categoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository builds the postgres category store.
func NewCategoryRepository(pool *pgxpool.Pool) CategoryRepository {
	return &categoryRepository{pool: pool}
}

func (r *categoryRepository) Get(ctx context.Context, id int64) (*domain.Category, error) {
	const query = `SELECT id, name, price, variable FROM categories WHERE id=$1`
	var category domain.Category
	err := r.pool.QueryRow(ctx, query, id).Scan(&category.ID, &category.Name, &category.Price, &category.Variable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *categoryRepository) Upsert(ctx context.Context, category *domain.Category) error {
	if category.ID == 0 {
		const insert = `INSERT INTO categories (name, price, variable) VALUES ($1,$2,$3) RETURNING id`
		return r.pool.QueryRow(ctx, insert, category.Name, category.Price, category.Variable).Scan(&category.ID)
	}
	const upsert = `
        INSERT INTO categories (id, name, price, variable) VALUES ($1,$2,$3,$4)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, price=EXCLUDED.price, variable=EXCLUDED.variable`
	if _, err := r.pool.Exec(ctx, upsert, category.ID, category.Name, category.Price, category.Variable); err != nil {
		return err
	}
	// explicit ids bypass the serial; keep it ahead of them
	const bump = `SELECT setval(pg_get_serial_sequence('categories', 'id'), GREATEST((SELECT MAX(id) FROM categories), 1))`
	_, err := r.pool.Exec(ctx, bump)
	return err
}
