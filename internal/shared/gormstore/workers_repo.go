package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/fixit-services/dispatch/internal/domain/workers"
	"github.com/fixit-services/dispatch/internal/ports"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkersRepo implements ports.WorkerRepository with GORM.
type WorkersRepo struct {
	db *gorm.DB
}

func NewWorkersRepo(db *gorm.DB) *WorkersRepo {
	return &WorkersRepo{db: db}
}

// Create inserts a worker and its specializations. Used for local seeding.
func (r *WorkersRepo) Create(ctx context.Context, w *workers.Worker) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}

	m := WorkerModel{
		ID:              w.ID,
		FirstName:       w.FirstName,
		LastName:        w.LastName,
		PhoneNumber:     w.Phone,
		ExperienceYears: w.ExperienceYears,
	}
	for _, s := range w.Specializations {
		m.Specializations = append(m.Specializations, SpecializationModel{
			ID:          uuid.New().String(),
			Name:        s.Category,
			SubCategory: s.SubCategory,
		})
	}

	return conn(ctx, r.db).Create(&m).Error
}

func (r *WorkersRepo) GetByID(ctx context.Context, id string) (*workers.Worker, error) {
	var m WorkerModel
	err := conn(ctx, r.db).Preload("Specializations").First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	w := toWorker(m)
	return &w, nil
}

// ListLive returns workers joined with their live location. The category filter
// is applied in Go so SQLite and Postgres agree on case folding.
func (r *WorkersRepo) ListLive(ctx context.Context, filter ports.LiveFilter) ([]workers.LiveWorker, error) {
	q := conn(ctx, r.db).
		Model(&WorkerModel{}).
		Preload("Specializations").
		Preload("Location").
		Joins("JOIN live_locations ON live_locations.worker_id = workers.id")

	if b := filter.Box; b != nil {
		q = q.Where("live_locations.lat BETWEEN ? AND ? AND live_locations.lng BETWEEN ? AND ?",
			b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
	}

	var models []WorkerModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]workers.LiveWorker, 0, len(models))
	for _, m := range models {
		if m.Location == nil {
			continue
		}
		w := toWorker(m)
		if !w.MatchesCategory(filter.Category) {
			continue
		}
		out = append(out, workers.LiveWorker{
			Worker: w,
			Location: workers.LiveLocation{
				WorkerID:  m.ID,
				Lat:       m.Location.Lat,
				Lng:       m.Location.Lng,
				UpdatedAt: m.Location.UpdatedAt,
			},
		})
	}

	return out, nil
}

func (r *WorkersRepo) UpsertLocation(ctx context.Context, workerID string, lat, lng float64, at time.Time) error {
	loc := LiveLocationModel{WorkerID: workerID, Lat: lat, Lng: lng, UpdatedAt: at.UTC()}
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"lat", "lng", "updated_at"}),
	}).Create(&loc).Error
}

// GetLocation returns the worker's live location.
func (r *WorkersRepo) GetLocation(ctx context.Context, workerID string) (*workers.LiveLocation, error) {
	var m LiveLocationModel
	err := conn(ctx, r.db).First(&m, "worker_id = ?", workerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &workers.LiveLocation{WorkerID: m.WorkerID, Lat: m.Lat, Lng: m.Lng, UpdatedAt: m.UpdatedAt}, nil
}

func toWorker(m WorkerModel) workers.Worker {
	w := workers.Worker{
		ID:              m.ID,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		Phone:           m.PhoneNumber,
		ExperienceYears: m.ExperienceYears,
	}
	for _, s := range m.Specializations {
		w.Specializations = append(w.Specializations, workers.Specialization{
			Category:    s.Name,
			SubCategory: s.SubCategory,
		})
	}
	return w
}
