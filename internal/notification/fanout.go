package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/model"
)

// Dispatcher forwards a stored notification to an out-of-band channel.
type Dispatcher interface {
	Dispatch(notificationID int64)
}

// Fanout writes one Notification row per member of a role audience.
type Fanout struct {
	db   *gorm.DB
	log  *zap.Logger
	push Dispatcher
}

// NewFanout creates a Fanout. push may be nil.
func NewFanout(db *gorm.DB, log *zap.Logger, push Dispatcher) *Fanout {
	return &Fanout{db: db, log: logger.OrNop(log).Named("fanout"), push: push}
}

type audience uint8

const (
	audienceCenter audience = 1 << iota
	audienceHospital
	audienceDronists
)

// routeFor returns who hears about a delivery entering status.
// The side that authored the change is left out.
func routeFor(status model.DeliveryStatus) audience {
	switch {
	case status.IsDronistAuthored():
		return audienceCenter | audienceHospital
	case status.IsCenterAuthored():
		return audienceHospital | audienceDronists
	default:
		return audienceCenter | audienceHospital | audienceDronists
	}
}

// NotifyCenter notifies the staff of a donation center.
func (f *Fanout) NotifyCenter(ctx context.Context, centerID int64, msg Message, excludeUserID int64) (int, error) {
	ids, err := f.centerMembers(ctx, centerID)
	if err != nil {
		return 0, err
	}
	return f.deliver(ctx, msg, without(ids, excludeUserID))
}

// NotifyHospital notifies the staff of a hospital.
func (f *Fanout) NotifyHospital(ctx context.Context, hospitalID int64, msg Message, excludeUserID int64) (int, error) {
	ids, err := f.hospitalMembers(ctx, hospitalID)
	if err != nil {
		return 0, err
	}
	return f.deliver(ctx, msg, without(ids, excludeUserID))
}

// NotifyDronists notifies the dronists taking part in deliveryID, or every
// dronist when nobody has joined the delivery yet.
func (f *Fanout) NotifyDronists(ctx context.Context, msg Message, deliveryID, excludeUserID int64) (int, error) {
	ids, err := f.dronistPool(ctx, deliveryID)
	if err != nil {
		return 0, err
	}
	return f.deliver(ctx, msg, without(ids, excludeUserID))
}

// NotifyAllDronists broadcasts to every dronist.
func (f *Fanout) NotifyAllDronists(ctx context.Context, msg Message) (int, error) {
	ids, err := f.usersWithRole(ctx, model.RoleDronist)
	if err != nil {
		return 0, err
	}
	return f.deliver(ctx, msg, ids)
}

// NotifyStatusChange routes a status change of d to its audiences.
// A user belonging to several audiences is notified once.
func (f *Fanout) NotifyStatusChange(ctx context.Context, d *model.Delivery, status model.DeliveryStatus, actorID int64) (int, error) {
	route := routeFor(status)
	var recipients []int64

	if route&audienceCenter != 0 {
		ids, err := f.centerMembers(ctx, d.CenterID)
		if err != nil {
			return 0, err
		}
		recipients = append(recipients, ids...)
	}
	if route&audienceHospital != 0 {
		ids, err := f.hospitalMembers(ctx, d.HospitalID)
		if err != nil {
			return 0, err
		}
		recipients = append(recipients, ids...)
	}
	if route&audienceDronists != 0 {
		ids, err := f.dronistPool(ctx, d.ID)
		if err != nil {
			return 0, err
		}
		recipients = append(recipients, ids...)
	}

	return f.deliver(ctx, StatusMessage(d, status), without(recipients, actorID))
}

func (f *Fanout) centerMembers(ctx context.Context, centerID int64) ([]int64, error) {
	var ids []int64
	err := f.db.WithContext(ctx).Model(&model.User{}).
		Where("center_id = ? AND role IN ?", centerID, []model.Role{model.RoleCenterStaff, model.RoleAdmin}).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("resolve members of center %d: %w", centerID, err)
	}
	return ids, nil
}

func (f *Fanout) hospitalMembers(ctx context.Context, hospitalID int64) ([]int64, error) {
	var ids []int64
	err := f.db.WithContext(ctx).Model(&model.User{}).
		Where("hospital_id = ? AND role IN ?", hospitalID, []model.Role{model.RoleHospitalStaff, model.RoleAdmin}).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("resolve members of hospital %d: %w", hospitalID, err)
	}
	return ids, nil
}

func (f *Fanout) usersWithRole(ctx context.Context, role model.Role) ([]int64, error) {
	var ids []int64
	if err := f.db.WithContext(ctx).Model(&model.User{}).
		Where("role = ?", role).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("resolve users with role %s: %w", role, err)
	}
	return ids, nil
}

func (f *Fanout) dronistPool(ctx context.Context, deliveryID int64) ([]int64, error) {
	if deliveryID > 0 {
		var ids []int64
		err := f.db.WithContext(ctx).Model(&model.User{}).
			Joins("JOIN delivery_participations dp ON dp.user_id = users.id").
			Where("dp.delivery_id = ? AND users.role = ?", deliveryID, model.RoleDronist).
			Order("users.id").
			Pluck("users.id", &ids).Error
		if err != nil {
			return nil, fmt.Errorf("resolve dronists of delivery %d: %w", deliveryID, err)
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	return f.usersWithRole(ctx, model.RoleDronist)
}

// deliver inserts one notification per recipient and hands the new rows to
// the push dispatcher once they are committed.
func (f *Fanout) deliver(ctx context.Context, msg Message, recipients []int64) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	var created []int64
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip := map[int64]bool{}
		if msg.Type == model.NotificationCancelled && msg.DeliveryID > 0 {
			var already []int64
			if err := tx.Model(&model.Notification{}).
				Where("type = ? AND delivery_id = ? AND user_id IN ?", msg.Type, msg.DeliveryID, recipients).
				Pluck("user_id", &already).Error; err != nil {
				return err
			}
			for _, id := range already {
				skip[id] = true
			}
		}

		for _, userID := range recipients {
			if skip[userID] {
				continue
			}
			n := model.Notification{
				UserID:     userID,
				HospitalID: nonZero(msg.HospitalID),
				CenterID:   nonZero(msg.CenterID),
				DeliveryID: nonZero(msg.DeliveryID),
				Type:       msg.Type,
				Priority:   msg.Priority,
				Title:      msg.Title,
				Message:    msg.Body,
			}
			// The partial unique index backs the cancellation check above
			// when two fan-outs race.
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&n)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				created = append(created, n.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("write %s notifications: %w", msg.Type, err)
	}

	f.log.Debug("notifications written",
		zap.String("type", string(msg.Type)),
		zap.Int64("delivery_id", msg.DeliveryID),
		zap.Int("count", len(created)),
	)

	if f.push != nil {
		for _, id := range created {
			f.push.Dispatch(id)
		}
	}
	return len(created), nil
}

// without drops excluded and repeated ids, keeping order.
func without(ids []int64, excluded int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == excluded || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func nonZero(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
