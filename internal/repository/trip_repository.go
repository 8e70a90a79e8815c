package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/trip"
	"github.com/rideline/ridectl/internal/domain/user"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TripSnapshotModel is the GORM model for the trip_snapshots table.
type TripSnapshotModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TripID    string          `gorm:"not null;size:64;uniqueIndex:idx_trip_snapshots_trip_role"`
	Role      string          `gorm:"not null;size:16;uniqueIndex:idx_trip_snapshots_trip_role;index"`
	Phase     string          `gorm:"not null;size:20"`
	Status    string          `gorm:"not null;size:20;default:''"`
	Trip      json.RawMessage `gorm:"type:jsonb"`
	Live      json.RawMessage `gorm:"type:jsonb"`
	Version   int64           `gorm:"not null;default:1"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (TripSnapshotModel) TableName() string {
	return "trip_snapshots"
}

// TripRecordModel is the GORM model for the trip_records table.
type TripRecordModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	TripID          string    `gorm:"not null;size:64;uniqueIndex:idx_trip_records_trip_role"`
	Role            string    `gorm:"not null;size:16;uniqueIndex:idx_trip_records_trip_role"`
	Phase           string    `gorm:"not null;size:20;index"`
	Status          string    `gorm:"not null;size:20;default:''"`
	Origin          string    `gorm:"not null;size:255;default:''"`
	Destination     string    `gorm:"not null;size:255;default:''"`
	DistanceMeters  float64   `gorm:"not null;default:0"`
	DurationSeconds float64   `gorm:"not null;default:0"`
	Fare            float64   `gorm:"not null;default:0"`
	Currency        string    `gorm:"not null;size:3;default:''"`
	Rating          *int      `gorm:""`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null;index"`
}

// TableName returns the table name for the GORM model.
func (TripRecordModel) TableName() string {
	return "trip_records"
}

// Models lists the GORM models for schema auto-migration.
func Models() []any {
	return []any{&TripSnapshotModel{}, &TripRecordModel{}}
}

// GormTripRepository is the GORM-based implementation of trip.SnapshotRepository.
type GormTripRepository struct {
	db *gorm.DB
}

// NewGormTripRepository creates a new GormTripRepository.
func NewGormTripRepository(db *gorm.DB) *GormTripRepository {
	return &GormTripRepository{db: db}
}

var _ trip.SnapshotRepository = (*GormTripRepository)(nil)

// SaveSnapshot updates the snapshot for trip+role when s is newer than the
// stored version, inserting it when none exists yet. Older writes conflict.
func (r *GormTripRepository) SaveSnapshot(ctx context.Context, s *trip.Snapshot) error {
	model, err := toSnapshotModel(s)
	if err != nil {
		return fmt.Errorf("failed to convert snapshot to model: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Versions only grow; a write older than the stored row is stale.
		result := tx.Model(&TripSnapshotModel{}).
			Where("trip_id = ? AND role = ? AND version < ?", model.TripID, model.Role, model.Version).
			Updates(map[string]interface{}{
				"phase":      model.Phase,
				"status":     model.Status,
				"trip":       model.Trip,
				"live":       model.Live,
				"version":    model.Version,
				"updated_at": model.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update snapshot: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}

		var existing int64
		if err := tx.Model(&TripSnapshotModel{}).
			Where("trip_id = ? AND role = ?", model.TripID, model.Role).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check snapshot: %w", err)
		}
		if existing > 0 {
			return domain.NewConflictError("snapshot was modified by another writer")
		}

		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		return nil
	})
}

// FindActive retrieves the most recently updated snapshot for a role.
func (r *GormTripRepository) FindActive(ctx context.Context, role user.Role) (*trip.Snapshot, error) {
	var model TripSnapshotModel
	if err := r.db.WithContext(ctx).
		Where("role = ?", role.String()).
		Order("updated_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Snapshot", role.String())
		}
		return nil, fmt.Errorf("failed to find active snapshot: %w", err)
	}
	return toDomainSnapshot(&model)
}

// FinishSnapshot removes the snapshot for trip+role.
func (r *GormTripRepository) FinishSnapshot(ctx context.Context, tripID string, role user.Role) error {
	if err := r.db.WithContext(ctx).
		Where("trip_id = ? AND role = ?", tripID, role.String()).
		Delete(&TripSnapshotModel{}).Error; err != nil {
		return fmt.Errorf("failed to finish snapshot: %w", err)
	}
	return nil
}

// SaveRecord inserts or replaces the history record for trip+role.
func (r *GormTripRepository) SaveRecord(ctx context.Context, rec *trip.Record) error {
	model := toRecordModel(rec)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trip_id"}, {Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"phase", "status", "origin", "destination", "distance_meters",
			"duration_seconds", "fare", "currency", "rating", "updated_at",
		}),
	}).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save trip record: %w", err)
	}
	return nil
}

// ListRecords retrieves history records with pagination, newest first.
func (r *GormTripRepository) ListRecords(ctx context.Context, page, limit int) ([]*trip.Record, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&TripRecordModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trip records: %w", err)
	}

	var models []TripRecordModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list trip records: %w", err)
	}

	records := make([]*trip.Record, len(models))
	for i := range models {
		records[i] = toDomainRecord(&models[i])
	}
	return records, total, nil
}

// CountByPhase returns record counts grouped by phase.
func (r *GormTripRepository) CountByPhase(ctx context.Context) (map[string]int64, error) {
	type phaseCount struct {
		Phase string
		Count int64
	}
	var results []phaseCount
	if err := r.db.WithContext(ctx).Model(&TripRecordModel{}).
		Select("phase, count(*) as count").
		Group("phase").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by phase: %w", err)
	}

	counts := make(map[string]int64)
	for _, pc := range results {
		counts[pc.Phase] = pc.Count
	}
	return counts, nil
}

// --- Conversion Helpers ---

func toSnapshotModel(s *trip.Snapshot) (*TripSnapshotModel, error) {
	var tripJSON, liveJSON json.RawMessage
	if s.Trip != nil {
		data, err := json.Marshal(s.Trip)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal trip: %w", err)
		}
		tripJSON = data
	}
	if s.Live != nil {
		data, err := json.Marshal(s.Live)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal live state: %w", err)
		}
		liveJSON = data
	}

	updated := s.UpdatedAt.UTC()
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return &TripSnapshotModel{
		ID:        uuid.New(),
		TripID:    s.TripID,
		Role:      s.Role.String(),
		Phase:     s.Phase.String(),
		Status:    s.Status.String(),
		Trip:      tripJSON,
		Live:      liveJSON,
		Version:   s.Version,
		CreatedAt: updated,
		UpdatedAt: updated,
	}, nil
}

func toDomainSnapshot(m *TripSnapshotModel) (*trip.Snapshot, error) {
	role, err := user.ParseRole(m.Role)
	if err != nil {
		return nil, err
	}
	phase := trip.Phase(m.Phase)
	if !phase.IsValid() {
		return nil, fmt.Errorf("stored snapshot has invalid phase %q", m.Phase)
	}
	var status trip.Status
	if m.Status != "" {
		if status, err = trip.ParseStatus(m.Status); err != nil {
			return nil, err
		}
	}

	s := &trip.Snapshot{
		TripID:    m.TripID,
		Role:      role,
		Phase:     phase,
		Status:    status,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.Trip) > 0 {
		var t trip.Trip
		if err := json.Unmarshal(m.Trip, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trip: %w", err)
		}
		s.Trip = &t
	}
	if len(m.Live) > 0 {
		var l trip.LiveState
		if err := json.Unmarshal(m.Live, &l); err != nil {
			return nil, fmt.Errorf("failed to unmarshal live state: %w", err)
		}
		s.Live = &l
	}
	return s, nil
}

func toRecordModel(r *trip.Record) *TripRecordModel {
	updated := r.UpdatedAt.UTC()
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return &TripRecordModel{
		ID:              uuid.New(),
		TripID:          r.TripID,
		Role:            r.Role.String(),
		Phase:           r.Phase.String(),
		Status:          r.Status.String(),
		Origin:          r.From,
		Destination:     r.To,
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: r.DurationSeconds,
		Fare:            r.Fare,
		Currency:        r.Currency,
		Rating:          r.Rating,
		CreatedAt:       updated,
		UpdatedAt:       updated,
	}
}

func toDomainRecord(m *TripRecordModel) *trip.Record {
	return &trip.Record{
		TripID:          m.TripID,
		Role:            user.Role(m.Role),
		Phase:           trip.Phase(m.Phase),
		Status:          trip.Status(m.Status),
		From:            m.Origin,
		To:              m.Destination,
		DistanceMeters:  m.DistanceMeters,
		DurationSeconds: m.DurationSeconds,
		Fare:            m.Fare,
		Currency:        m.Currency,
		Rating:          m.Rating,
		UpdatedAt:       m.UpdatedAt,
	}
}
