package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/fixit-services/dispatch/internal/domain/workers"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WorkersRepo implements worker reads and live-location writes using pgx and SQL.
type WorkersRepo struct{}

// NewWorkersRepo constructs a new WorkersRepo.
func NewWorkersRepo() *WorkersRepo {
	return &WorkersRepo{}
}

// GetByID loads a worker with its specializations.
func (r *WorkersRepo) GetByID(ctx context.Context, id string) (*workers.Worker, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ports.ErrNotFound
	}

	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var w workers.Worker
	err = tx.QueryRow(ctx, `
		SELECT id::text, first_name, last_name, phone_number, COALESCE(experience_years, 0)
		FROM workers
		WHERE id = $1
	`, id).Scan(&w.ID, &w.FirstName, &w.LastName, &w.Phone, &w.ExperienceYears)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT name, COALESCE(sub_category, '')
		FROM specializations
		WHERE worker_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s workers.Specialization
		if err := rows.Scan(&s.Category, &s.SubCategory); err != nil {
			return nil, err
		}
		w.Specializations = append(w.Specializations, s)
	}

	return &w, rows.Err()
}

// ListLive returns workers that have a live location, optionally narrowed by a
// category substring and a lat/lng box. Distance is not computed here.
func (r *WorkersRepo) ListLive(ctx context.Context, filter ports.LiveFilter) ([]workers.LiveWorker, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	box := filter.Box
	bounded := box != nil
	if box == nil {
		box = &ports.BoundingBox{}
	}

	rows, err := tx.Query(ctx, `
		SELECT w.id::text, w.first_name, w.last_name, w.phone_number, COALESCE(w.experience_years, 0),
		       l.lat, l.lng, l.updated_at
		FROM workers w
		INNER JOIN live_locations l ON l.worker_id = w.id
		WHERE ($1::text = '' OR EXISTS (
		        SELECT 1 FROM specializations s
		        WHERE s.worker_id = w.id
		          AND (s.name ILIKE '%' || $1 || '%' OR s.sub_category ILIKE '%' || $1 || '%')))
		  AND (NOT $2::boolean OR (l.lat BETWEEN $3 AND $4 AND l.lng BETWEEN $5 AND $6))
	`, filter.Category, bounded, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workers.LiveWorker
	for rows.Next() {
		var lw workers.LiveWorker
		err := rows.Scan(
			&lw.ID, &lw.FirstName, &lw.LastName, &lw.Phone, &lw.ExperienceYears,
			&lw.Location.Lat, &lw.Location.Lng, &lw.Location.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		lw.Location.WorkerID = lw.ID
		out = append(out, lw)
	}

	return out, rows.Err()
}

// UpsertLocation replaces the worker's single live-location row.
func (r *WorkersRepo) UpsertLocation(ctx context.Context, workerID string, lat, lng float64, at time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO live_locations (worker_id, lat, lng, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (worker_id) DO UPDATE
		  SET lat = EXCLUDED.lat,
		      lng = EXCLUDED.lng,
		      updated_at = EXCLUDED.updated_at
	`, workerID, lat, lng, at.UTC())
	return err
}
