package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"bloodlink-backend/internal/apperr"
	"bloodlink-backend/internal/db"
	"bloodlink-backend/internal/drone"
	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/model"
	"bloodlink-backend/internal/notification"
	"bloodlink-backend/internal/parse"
	"bloodlink-backend/internal/store"
)

// Reserver links blood bags to deliveries inside a caller's transaction.
type Reserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, deliveryID int64, bloodType model.BloodType, quantity int) ([]int64, error)
	Release(ctx context.Context, tx *gorm.DB, deliveryID int64) (int64, error)
}

// Notifier fans delivery events out to the interested users.
type Notifier interface {
	NotifyCenter(ctx context.Context, centerID int64, msg notification.Message, excludeUserID int64) (int, error)
	NotifyDronists(ctx context.Context, msg notification.Message, deliveryID, excludeUserID int64) (int, error)
	NotifyStatusChange(ctx context.Context, d *model.Delivery, status model.DeliveryStatus, actorID int64) (int, error)
}

// MissionControl drives the drone assigned to a delivery.
type MissionControl interface {
	CreateDeliveryMission(ctx context.Context, droneID int64, route *store.DeliveryRoute) (*drone.Result, error)
	StartMission(ctx context.Context, droneID int64) (*drone.Result, error)
}

// OrderRequest is a hospital's request for blood bags.
type OrderRequest struct {
	HospitalID int64  `json:"hospitalId"`
	CenterID   int64  `json:"centerId"`
	BloodType  string `json:"bloodType"`
	Quantity   int    `json:"quantity"`
	Urgent     bool   `json:"urgent"`
	Notes      string `json:"notes"`
}

// StatusUpdate is an operator decision on a delivery.
type StatusUpdate struct {
	Status  model.DeliveryStatus `json:"status"`
	DroneID *int64               `json:"droneId,omitempty"`
}

// DispatchResult describes a delivery that took off.
type DispatchResult struct {
	Delivery *model.Delivery `json:"delivery"`
	Mission  *drone.Result   `json:"mission"`
}

// StateMachine owns every operator-driven delivery transition.
type StateMachine struct {
	db        *gorm.DB
	inventory Reserver
	notifier  Notifier
	routes    store.Store
	missions  MissionControl
	log       *zap.Logger
	now       func() time.Time
}

// NewStateMachine creates a StateMachine. missions may be nil when dispatch is unused.
func NewStateMachine(gormDB *gorm.DB, inventory Reserver, notifier Notifier, routes store.Store, missions MissionControl, log *zap.Logger) *StateMachine {
	return &StateMachine{
		db:        gormDB,
		inventory: inventory,
		notifier:  notifier,
		routes:    routes,
		missions:  missions,
		log:       logger.OrNop(log).Named("delivery"),
		now:       time.Now,
	}
}

// PlaceOrder creates a pending delivery and reserves its bags atomically.
func (m *StateMachine) PlaceOrder(ctx context.Context, req OrderRequest, actorID int64) (*model.Delivery, error) {
	bloodType, err := parse.BloodType(req.BloodType)
	if err != nil {
		return nil, apperr.Validation("invalid blood type %q", req.BloodType)
	}
	if req.Quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive, got %d", req.Quantity)
	}
	if req.HospitalID <= 0 || req.CenterID <= 0 {
		return nil, apperr.Validation("hospitalId and centerId are required")
	}

	d := &model.Delivery{
		HospitalID:  req.HospitalID,
		CenterID:    req.CenterID,
		Status:      model.StatusPending,
		Urgent:      req.Urgent,
		BloodType:   bloodType,
		Quantity:    req.Quantity,
		Notes:       strings.TrimSpace(req.Notes),
		RequestedAt: m.now(),
	}

	var bagIDs []int64
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mustExist(tx, &model.Hospital{}, "hospital", req.HospitalID); err != nil {
			return err
		}
		if err := mustExist(tx, &model.DonationCenter{}, "center", req.CenterID); err != nil {
			return err
		}
		if err := tx.Create(d).Error; err != nil {
			return fmt.Errorf("create delivery: %w", err)
		}
		var err error
		bagIDs, err = m.inventory.Reserve(ctx, tx, d.ID, bloodType, req.Quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("order placed",
		zap.Int64("delivery_id", d.ID),
		zap.String("blood_type", string(bloodType)),
		zap.Int("quantity", req.Quantity),
		zap.Int64s("bag_ids", bagIDs),
		zap.Bool("urgent", req.Urgent),
	)

	msg := notification.NewOrderMessage(d)
	m.notify("new order to center", d.ID, func() error {
		_, err := m.notifier.NotifyCenter(ctx, d.CenterID, msg, actorID)
		return err
	})
	m.notify("new order to dronists", d.ID, func() error {
		_, err := m.notifier.NotifyDronists(ctx, msg, d.ID, actorID)
		return err
	})
	return d, nil
}

// CancelOrder withdraws a pending order: its bags return to stock and the
// delivery row is deleted. The returned copy carries status cancelled.
func (m *StateMachine) CancelOrder(ctx context.Context, deliveryID, actorID int64) (*model.Delivery, error) {
	var d model.Delivery
	var released int64
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDelivery(tx, deliveryID, &d); err != nil {
			return err
		}
		if d.Status != model.StatusPending {
			return apperr.Conflict("delivery %d is %s; only pending orders can be cancelled", deliveryID, d.Status)
		}

		var err error
		if released, err = m.inventory.Release(ctx, tx, deliveryID); err != nil {
			return err
		}
		if err := tx.Where("delivery_id = ?", deliveryID).Delete(&model.DeliveryParticipation{}).Error; err != nil {
			return fmt.Errorf("delete participations of delivery %d: %w", deliveryID, err)
		}
		if err := tx.Delete(&model.Delivery{}, deliveryID).Error; err != nil {
			return fmt.Errorf("delete delivery %d: %w", deliveryID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("order cancelled", zap.Int64("delivery_id", deliveryID), zap.Int64("released_bags", released))

	d.Status = model.StatusCancelled
	m.notify("cancellation", deliveryID, func() error {
		_, err := m.notifier.NotifyStatusChange(ctx, &d, model.StatusCancelled, actorID)
		return err
	})
	return &d, nil
}

// UpdateStatus applies an operator decision. Only the center and dronist
// accept/refuse statuses are accepted, and only along the transition graph.
// accepted_dronist may assign the delivering drone.
func (m *StateMachine) UpdateStatus(ctx context.Context, deliveryID int64, upd StatusUpdate, actorID int64) (*model.Delivery, error) {
	if !upd.Status.IsOperatorStatus() {
		return nil, apperr.Validation("invalid status %q", upd.Status)
	}
	if upd.DroneID != nil && upd.Status != model.StatusAcceptedDronist {
		return nil, apperr.Validation("a drone can only be assigned with status %s", model.StatusAcceptedDronist)
	}

	var d model.Delivery
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDelivery(tx, deliveryID, &d); err != nil {
			return err
		}
		if d.Status.IsTerminal() {
			return apperr.Conflict("delivery %d is already %s", deliveryID, d.Status)
		}
		if !d.Status.CanTransitionTo(upd.Status) {
			return apperr.Conflict("delivery %d cannot move from %s to %s", deliveryID, d.Status, upd.Status)
		}

		updates := map[string]any{"status": upd.Status}
		if upd.DroneID != nil {
			var dr model.Drone
			if err := tx.First(&dr, *upd.DroneID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound("drone", *upd.DroneID)
				}
				return fmt.Errorf("load drone %d: %w", *upd.DroneID, err)
			}
			if dr.Status != model.DroneAvailable {
				return apperr.Conflict("drone %d is %s", dr.ID, dr.Status)
			}
			updates["drone_id"] = dr.ID
		}

		return transition(tx, &d, updates)
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("delivery status updated",
		zap.Int64("delivery_id", deliveryID),
		zap.String("status", string(d.Status)),
		zap.Int64("actor_id", actorID),
	)

	m.notify("status change", deliveryID, func() error {
		_, err := m.notifier.NotifyStatusChange(ctx, &d, d.Status, actorID)
		return err
	})
	return &d, nil
}

// Dispatch uploads and starts the delivery mission on the assigned drone,
// then moves the delivery from charged to in_transit. The drone is commanded
// before the row changes, so a drone failure leaves the delivery charged.
func (m *StateMachine) Dispatch(ctx context.Context, deliveryID, actorID int64) (*DispatchResult, error) {
	if m.missions == nil {
		return nil, errors.New("dispatch is not configured")
	}

	route, err := m.routes.GetDeliveryRoute(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	d := route.Delivery
	if d.Status != model.StatusCharged {
		return nil, apperr.Conflict("delivery %d is %s; only charged deliveries can be dispatched", deliveryID, d.Status)
	}
	if d.DroneID == nil {
		return nil, apperr.Conflict("delivery %d has no drone assigned", deliveryID)
	}

	mission, err := m.missions.CreateDeliveryMission(ctx, *d.DroneID, route)
	if err != nil {
		return nil, err
	}
	if _, err := m.missions.StartMission(ctx, *d.DroneID); err != nil {
		return nil, err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return transition(tx, &d, map[string]any{"status": model.StatusInTransit})
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("delivery dispatched",
		zap.Int64("delivery_id", deliveryID),
		zap.Int64("drone_id", *d.DroneID),
		zap.String("mission_file", mission.Filename),
	)

	m.notify("dispatch", deliveryID, func() error {
		_, err := m.notifier.NotifyStatusChange(ctx, &d, model.StatusInTransit, actorID)
		return err
	})
	return &DispatchResult{Delivery: &d, Mission: mission}, nil
}

// notify runs a fan-out after commit. Its failure is only logged.
func (m *StateMachine) notify(what string, deliveryID int64, fn func() error) {
	if m.notifier == nil {
		return
	}
	if err := fn(); err != nil {
		m.log.Warn("notification failed",
			zap.String("event", what),
			zap.Int64("delivery_id", deliveryID),
			zap.Error(err),
		)
	}
}

// lockDelivery loads a delivery with a row lock where supported.
func lockDelivery(tx *gorm.DB, id int64, d *model.Delivery) error {
	if err := db.ForUpdate(tx).First(d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("delivery", id)
		}
		return fmt.Errorf("load delivery %d: %w", id, err)
	}
	return nil
}

// transition writes updates only if the delivery still has the status it was
// read with, then reloads it.
func transition(tx *gorm.DB, d *model.Delivery, updates map[string]any) error {
	res := tx.Model(&model.Delivery{}).
		Where("id = ? AND status = ?", d.ID, d.Status).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update delivery %d: %w", d.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("delivery %d changed concurrently", d.ID)
	}
	return tx.First(d, d.ID).Error
}

// mustExist rejects an order naming an unknown hospital or center as bad input.
func mustExist(tx *gorm.DB, dest any, entity string, id int64) error {
	var n int64
	if err := tx.Model(dest).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("look up %s %d: %w", entity, id, err)
	}
	if n == 0 {
		return apperr.Validation("unknown %s %d", entity, id)
	}
	return nil
}
