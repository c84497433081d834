// Package pickup holds the shop's pickup points.
package pickup

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a pickup point does not exist.
	ErrNotFound = errors.New("pickup point not found")
	// ErrNotActive is returned when a pickup point exists but is disabled.
	ErrNotActive = errors.New("pickup point is not active")
)

// Point is a location where customers collect orders.
type Point struct {
	ID           int64
	Name         string
	Address      string
	Phone        string
	Latitude     float64
	Longitude    float64
	WorkingHours string
	Active       bool
	SortOrder    int
}

// Repository provides pickup point lookups.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Point, error)
}

// Validate returns the pickup point with the given id if it exists and is
// active.
func Validate(ctx context.Context, repo Repository, id int64) (*Point, error) {
	p, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup pickup point")
	}
	if !p.Active {
		return nil, ErrNotActive
	}
	return p, nil
}
