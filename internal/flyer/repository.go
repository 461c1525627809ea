package flyer

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("flyer not found")

type Flyer struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Purchases int64  `json:"purchases"`
}

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository interface {
	Get(ctx context.Context, flyerID string) (Flyer, error)
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, flyerID string) (Flyer, error) {
	var f Flyer
	row := r.pool.QueryRow(ctx, `SELECT id, title, purchases FROM flyers WHERE id=$1`, flyerID)
	if err := row.Scan(&f.ID, &f.Title, &f.Purchases); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Flyer{}, ErrNotFound
		}
		return Flyer{}, err
	}
	return f, nil
}
