package shipping

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) ActiveZones(ctx context.Context) ([]Zone, error) {
	return activeZones(ctx, r.DB)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func activeZones(ctx context.Context, q querier) ([]Zone, error) {
	rows, err := q.Query(ctx, `
		SELECT z.id, z.name, z.fee, z.is_active, COALESCE(array_agg(r.region) FILTER (WHERE r.region IS NOT NULL), '{}')
		FROM shipping_zones z
		LEFT JOIN shipping_zone_regions r ON r.zone_id = z.id
		WHERE z.is_active
		GROUP BY z.id
		ORDER BY z.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Zone
	for rows.Next() {
		var z Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Fee, &z.Active, &z.Regions); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// CreateZone inserts z after checking its regions against every active zone.
// The table lock serialises concurrent creations so the check cannot race.
func (r *Repo) CreateZone(ctx context.Context, z Zone) (Zone, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Zone{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `LOCK TABLE shipping_zones IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return Zone{}, err
	}
	existing, err := activeZones(ctx, tx)
	if err != nil {
		return Zone{}, err
	}
	if err := CheckOverlap(existing, z); err != nil {
		return Zone{}, err
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO shipping_zones(name, fee, is_active) VALUES ($1, $2, $3) RETURNING id`,
		strings.TrimSpace(z.Name), z.Fee, z.Active).Scan(&z.ID); err != nil {
		return Zone{}, err
	}
	regions := make([]string, 0, len(z.Regions))
	for _, reg := range z.Regions {
		reg = NormalizeRegion(reg)
		if reg == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO shipping_zone_regions(zone_id, region) VALUES ($1, $2)
			ON CONFLICT (zone_id, region) DO NOTHING`, z.ID, reg); err != nil {
			return Zone{}, err
		}
		regions = append(regions, reg)
	}
	z.Regions = regions

	if err := tx.Commit(ctx); err != nil {
		return Zone{}, err
	}
	return z, nil
}
