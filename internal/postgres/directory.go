package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/umrahops/realtime/internal/auth"
	"github.com/umrahops/realtime/internal/ierr"
)

// Directory resolves credential subjects against the back-office users
// table. Deactivated users are indistinguishable from missing ones.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{
		pool,
	}
}

func (d *Directory) Lookup(ctx context.Context, userID int64) (auth.Identity, error) {
	var identity auth.Identity

	err := d.pool.QueryRow(ctx,
		`SELECT id, full_name, role FROM users WHERE id = $1 AND is_active = true`,
		userID,
	).Scan(&identity.UserID, &identity.Name, &identity.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Identity{}, ierr.New(ierr.ErrorCodeNotFound, errors.New("user not found"))
	}
	if err != nil {
		return auth.Identity{}, fmt.Errorf("lookup user: %w", err)
	}

	return identity, nil
}
