package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"bloodlink-backend/internal/apperr"
	"bloodlink-backend/internal/model"
)

// Store defines the drone and route persistence used by the sync loop,
// the drone client and the HTTP layer.
type Store interface {
	ListDrones(ctx context.Context) ([]model.Drone, error)
	ListSyncableDrones(ctx context.Context) ([]model.Drone, error)
	GetDrone(ctx context.Context, id int64) (*model.Drone, error)
	UpdateTelemetry(ctx context.Context, droneID int64, t Telemetry, syncedAt time.Time) error
	RecordIntent(ctx context.Context, droneID int64, in Intent) error
	GetDeliveryRoute(ctx context.Context, deliveryID int64) (*DeliveryRoute, error)
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) ListDrones(ctx context.Context) ([]model.Drone, error) {
	var drones []model.Drone
	if err := s.db.WithContext(ctx).Order("id").Find(&drones).Error; err != nil {
		return nil, fmt.Errorf("failed to list drones: %w", err)
	}
	return drones, nil
}

// ListSyncableDrones returns the drones that have a telemetry endpoint.
func (s *gormStore) ListSyncableDrones(ctx context.Context) ([]model.Drone, error) {
	var drones []model.Drone
	if err := s.db.WithContext(ctx).
		Where("endpoint IS NOT NULL AND endpoint <> ''").
		Order("id").
		Find(&drones).Error; err != nil {
		return nil, fmt.Errorf("failed to list syncable drones: %w", err)
	}
	return drones, nil
}

func (s *gormStore) GetDrone(ctx context.Context, id int64) (*model.Drone, error) {
	var drone model.Drone
	if err := s.db.WithContext(ctx).First(&drone, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("drone", id)
		}
		return nil, fmt.Errorf("failed to load drone %d: %w", id, err)
	}
	return &drone, nil
}

// UpdateTelemetry overwrites every telemetry column of a drone, zero values
// included, and stamps last_sync_at.
func (s *gormStore) UpdateTelemetry(ctx context.Context, droneID int64, t Telemetry, syncedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Drone{}).
		Where("id = ?", droneID).
		Updates(map[string]any{
			"latitude":            t.Latitude,
			"longitude":           t.Longitude,
			"altitude_m":          t.AltitudeM,
			"horizontal_speed_ms": t.HorizontalSpeedMS,
			"vertical_speed_ms":   t.VerticalSpeedMS,
			"heading_deg":         t.HeadingDeg,
			"is_armed":            t.IsArmed,
			"flight_mode":         t.FlightMode,
			"battery_percent":     t.BatteryPercent,
			"last_sync_at":        syncedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to store telemetry for drone %d: %w", droneID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("drone", droneID)
	}
	return nil
}

// RecordIntent stores the non-empty fields of in. Telemetry columns are never touched.
func (s *gormStore) RecordIntent(ctx context.Context, droneID int64, in Intent) error {
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	updates := map[string]any{"intent_at": at}
	if in.MissionStatus != "" {
		updates["intended_mission_status"] = in.MissionStatus
	}
	if in.FlightMode != "" {
		updates["intended_flight_mode"] = in.FlightMode
	}
	if in.MissionFile != "" {
		updates["mission_file"] = in.MissionFile
	}

	res := s.db.WithContext(ctx).Model(&model.Drone{}).Where("id = ?", droneID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to record intent for drone %d: %w", droneID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("drone", droneID)
	}
	return nil
}

func (s *gormStore) GetDeliveryRoute(ctx context.Context, deliveryID int64) (*DeliveryRoute, error) {
	var route DeliveryRoute
	db := s.db.WithContext(ctx)
	if err := db.First(&route.Delivery, deliveryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("delivery", deliveryID)
		}
		return nil, fmt.Errorf("failed to load delivery %d: %w", deliveryID, err)
	}
	if err := db.First(&route.Center, route.Delivery.CenterID).Error; err != nil {
		return nil, fmt.Errorf("failed to load center %d: %w", route.Delivery.CenterID, err)
	}
	if err := db.First(&route.Hospital, route.Delivery.HospitalID).Error; err != nil {
		return nil, fmt.Errorf("failed to load hospital %d: %w", route.Delivery.HospitalID, err)
	}
	return &route, nil
}
