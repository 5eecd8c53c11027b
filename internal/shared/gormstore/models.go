package gormstore

import "time"

// JobModel mirrors the jobs table.
type JobModel struct {
	ID              string  `gorm:"primaryKey;size:36"`
	UserID          string  `gorm:"index;size:36;not null"`
	WorkerID        *string `gorm:"index;size:36"`
	Description     string
	Address         string
	Lat             float64 `gorm:"not null"`
	Lng             float64 `gorm:"not null"`
	Status          string  `gorm:"index;size:20;default:'pending'"`
	BookedFor       *time.Time
	DurationMinutes int
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (JobModel) TableName() string { return "jobs" }

// WorkerModel mirrors the workers table.
type WorkerModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	FirstName       string `gorm:"not null"`
	LastName        string `gorm:"not null"`
	PhoneNumber     string `gorm:"size:13;not null"`
	ExperienceYears int    `gorm:"default:0"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`

	Specializations []SpecializationModel `gorm:"foreignKey:WorkerID"`
	Location        *LiveLocationModel    `gorm:"foreignKey:WorkerID"`
}

func (WorkerModel) TableName() string { return "workers" }

type SpecializationModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	WorkerID    string `gorm:"index;size:36;not null"`
	Name        string `gorm:"size:100;not null"`
	SubCategory string `gorm:"size:100"`
}

func (SpecializationModel) TableName() string { return "specializations" }

// LiveLocationModel holds one row per worker; latest write wins.
type LiveLocationModel struct {
	WorkerID  string  `gorm:"primaryKey;size:36"`
	Lat       float64 `gorm:"index:live_locations_lat_lng_idx;not null"`
	Lng       float64 `gorm:"index:live_locations_lat_lng_idx;not null"`
	UpdatedAt time.Time
}

func (LiveLocationModel) TableName() string { return "live_locations" }
