package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/flowershop/internal/domain/pickup"
)

const getPickupPointSQL = `SELECT id, name, address, phone, latitude, longitude, working_hours, is_active, sort_order
	FROM pickup_points WHERE id = $1`

var _ pickup.Repository = (*PickupRepository)(nil)

// PickupRepository implements pickup.Repository backed by PostgreSQL.
type PickupRepository struct {
	pool *pgxpool.Pool
}

// NewPickupRepository returns a PickupRepository that uses the given pool.
func NewPickupRepository(pool *pgxpool.Pool) *PickupRepository {
	return &PickupRepository{pool: pool}
}

// GetByID returns a pickup point regardless of its active flag.
func (r *PickupRepository) GetByID(ctx context.Context, id int64) (*pickup.Point, error) {
	rows, err := r.pool.Query(ctx, getPickupPointSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting pickup point %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (pickup.Point, error) {
		var p pickup.Point
		var sortOrder int32
		err := row.Scan(&p.ID, &p.Name, &p.Address, &p.Phone, &p.Latitude, &p.Longitude,
			&p.WorkingHours, &p.Active, &sortOrder)
		p.SortOrder = int(sortOrder)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pickup.ErrNotFound
		}
		return nil, fmt.Errorf("getting pickup point %d: %w", id, err)
	}
	return &p, nil
}
