package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"climascope/internal/types"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// CountyRepository provides data access for the counties reference table.
// Wards are stored as a JSONB column; county reference data is small and read
// far more often than written.
type CountyRepository struct {
	db DBTX
}

// NewCountyRepository creates a CountyRepository backed by the given database
// connection (pool or transaction).
func NewCountyRepository(db DBTX) *CountyRepository {
	return &CountyRepository{db: db}
}

// Get retrieves a county by its 2-digit code. Returns ErrCodeNotFoundCounty
// if no row matches.
func (r *CountyRepository) Get(ctx context.Context, id string) (*types.County, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, wards, created_at, updated_at
		 FROM counties
		 WHERE id = $1`,
		id,
	)

	county, err := scanCounty(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCounty, "county not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve county", err)
	}
	return county, nil
}

// List retrieves all counties ordered by code. The full set is small (47
// counties nationally) so no pagination is applied.
func (r *CountyRepository) List(ctx context.Context) ([]*types.County, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, wards, created_at, updated_at
		 FROM counties
		 ORDER BY id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list counties", err)
	}
	defer rows.Close()

	var results []*types.County
	for rows.Next() {
		county, scanErr := scanCounty(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan county row", scanErr)
		}
		results = append(results, county)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating county rows", err)
	}

	return results, nil
}

// Create inserts a new county. Returns ErrCodeConflictCountyExists when the
// code is already registered.
func (r *CountyRepository) Create(ctx context.Context, county *types.County) error {
	wards, err := json.Marshal(county.Wards)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode wards", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO counties (id, name, wards, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())`,
		county.ID,
		county.Name,
		wards,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return types.NewAppError(types.ErrCodeConflictCountyExists, "county code already registered", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create county", err)
	}
	return nil
}

// Update replaces a county's name and ward list. Returns
// ErrCodeNotFoundCounty if no row matches.
func (r *CountyRepository) Update(ctx context.Context, county *types.County) error {
	wards, err := json.Marshal(county.Wards)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode wards", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE counties SET
			name = $1,
			wards = $2,
			updated_at = NOW()
		 WHERE id = $3`,
		county.Name,
		wards,
		county.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update county", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCounty, "county not found", nil)
	}
	return nil
}

// Delete removes a county. Returns ErrCodeNotFoundCounty if no row matches.
func (r *CountyRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM counties WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete county", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundCounty, "county not found", nil)
	}
	return nil
}

// scanCounty scans a single county row, decoding the wards JSONB column.
func scanCounty(row pgx.Row) (*types.County, error) {
	var county types.County
	var wards []byte

	err := row.Scan(
		&county.ID,
		&county.Name,
		&wards,
		&county.CreatedAt,
		&county.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(wards) > 0 {
		if err := json.Unmarshal(wards, &county.Wards); err != nil {
			return nil, err
		}
	}

	return &county, nil
}
