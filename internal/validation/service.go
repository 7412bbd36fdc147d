package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bloodlink-backend/internal/apperr"
	"bloodlink-backend/internal/db"
	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/model"
	"bloodlink-backend/internal/notification"
)

// Outcome is the transition applied by a participation.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeDelivered Outcome = "delivered"
	OutcomeCharged   Outcome = "charged"
)

// Notifier is the fan-out used after a participation-driven transition.
type Notifier interface {
	NotifyCenter(ctx context.Context, centerID int64, msg notification.Message, excludeUserID int64) (int, error)
	NotifyHospital(ctx context.Context, hospitalID int64, msg notification.Message, excludeUserID int64) (int, error)
	NotifyStatusChange(ctx context.Context, d *model.Delivery, status model.DeliveryStatus, actorID int64) (int, error)
}

// ReconcileReport counts what a reconciliation sweep did.
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Delivered int `json:"delivered"`
	Charged   int `json:"charged"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Service advances deliveries when a participant is recorded.
//
// A hospital participant confirms reception (delivered). A center
// participant confirms loading (charged). Each check runs in its own
// transaction with the delivery row locked, so a concurrent cancellation or
// operator update cannot slip between the guard and the write.
type Service struct {
	db       *gorm.DB
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a validation service.
func NewService(gormDB *gorm.DB, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		db:       gormDB,
		notifier: notifier,
		log:      logger.OrNop(log).Named("validation"),
		now:      time.Now,
	}
}

// chargeable lists the statuses a center participation may charge from.
// Operators cannot set charged through a status update, so a delivery the
// dronist has accepted must be chargeable for loading to happen at all.
var chargeable = map[model.DeliveryStatus]bool{
	model.StatusPending:         true,
	model.StatusAcceptedDronist: true,
	model.StatusCharged:         true,
}

// result of one guarded check.
type result struct {
	applied  bool
	changed  bool
	delivery model.Delivery
}

// ValidateIfHospitalParticipant marks the delivery delivered when userID
// participates in it and belongs to its hospital.
func (s *Service) ValidateIfHospitalParticipant(ctx context.Context, deliveryID, userID int64) (bool, error) {
	r, err := s.validateHospital(ctx, deliveryID, userID)
	return r.applied, err
}

// ChargeIfCenterParticipant marks the delivery charged when userID
// participates in it and belongs to its center. An already charged delivery
// is accepted again without a write.
func (s *Service) ChargeIfCenterParticipant(ctx context.Context, deliveryID, userID int64) (bool, error) {
	r, err := s.chargeCenter(ctx, deliveryID, userID)
	return r.applied, err
}

// ValidateOnParticipation tries the hospital path, then the center path.
func (s *Service) ValidateOnParticipation(ctx context.Context, deliveryID, userID int64) (Outcome, error) {
	outcome, _, err := s.validate(ctx, deliveryID, userID)
	return outcome, err
}

func (s *Service) validate(ctx context.Context, deliveryID, userID int64) (Outcome, bool, error) {
	r, err := s.validateHospital(ctx, deliveryID, userID)
	if err != nil {
		return OutcomeNone, false, err
	}
	if r.applied {
		return OutcomeDelivered, true, nil
	}

	r, err = s.chargeCenter(ctx, deliveryID, userID)
	if err != nil {
		return OutcomeNone, false, err
	}
	if r.applied {
		return OutcomeCharged, r.changed, nil
	}
	return OutcomeNone, false, nil
}

// RecordParticipation stores that userID took part in deliveryID, then
// applies any transition the participation unlocks. Recording twice is a no-op.
func (s *Service) RecordParticipation(ctx context.Context, deliveryID, userID int64) (Outcome, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&model.Delivery{}, deliveryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("delivery", deliveryID)
			}
			return err
		}
		if err := tx.Select("id").First(&model.User{}, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("user", userID)
			}
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.DeliveryParticipation{UserID: userID, DeliveryID: deliveryID}).Error
	})
	if err != nil {
		return OutcomeNone, fmt.Errorf("record participation of user %d in delivery %d: %w", userID, deliveryID, err)
	}
	return s.ValidateOnParticipation(ctx, deliveryID, userID)
}

// ReconcileAll replays every participation. It catches up transitions whose
// trigger was missed.
func (s *Service) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	var participations []model.DeliveryParticipation
	if err := s.db.WithContext(ctx).Order("id").Find(&participations).Error; err != nil {
		return report, fmt.Errorf("list participations: %w", err)
	}

	for _, p := range participations {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		outcome, changed, err := s.validate(ctx, p.DeliveryID, p.UserID)
		switch {
		case err != nil:
			report.Failed++
			s.log.Warn("reconcile failed",
				zap.Int64("delivery_id", p.DeliveryID),
				zap.Int64("user_id", p.UserID),
				zap.Error(err),
			)
		case outcome == OutcomeDelivered:
			report.Delivered++
		case outcome == OutcomeCharged && changed:
			report.Charged++
		default:
			report.Unchanged++
		}
	}

	s.log.Info("reconcile finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("delivered", report.Delivered),
		zap.Int("charged", report.Charged),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Service) validateHospital(ctx context.Context, deliveryID, userID int64) (result, error) {
	var r result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, ok, err := guard(tx, deliveryID, userID, &r.delivery)
		if err != nil || !ok {
			return err
		}
		if !user.MemberOfHospital(r.delivery.HospitalID) {
			return nil
		}

		now := s.now()
		res := tx.Model(&model.Delivery{}).
			Where("id = ? AND status = ?", deliveryID, r.delivery.Status).
			Updates(map[string]any{"status": model.StatusDelivered, "validated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		r.delivery.Status = model.StatusDelivered
		r.delivery.ValidatedAt = &now
		r.applied, r.changed = true, true
		return nil
	})
	if err != nil {
		return result{}, fmt.Errorf("validate delivery %d for user %d: %w", deliveryID, userID, err)
	}

	if r.changed {
		s.log.Info("delivery validated", zap.Int64("delivery_id", deliveryID), zap.Int64("user_id", userID))
		msg := notification.StatusMessage(&r.delivery, model.StatusDelivered)
		s.notify(deliveryID, func() error {
			_, err := s.notifier.NotifyHospital(ctx, r.delivery.HospitalID, msg, userID)
			return err
		})
		s.notify(deliveryID, func() error {
			_, err := s.notifier.NotifyCenter(ctx, r.delivery.CenterID, msg, userID)
			return err
		})
	}
	return r, nil
}

func (s *Service) chargeCenter(ctx context.Context, deliveryID, userID int64) (result, error) {
	var r result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, ok, err := guard(tx, deliveryID, userID, &r.delivery)
		if err != nil || !ok {
			return err
		}
		if !chargeable[r.delivery.Status] {
			return nil
		}
		if !user.MemberOfCenter(r.delivery.CenterID) {
			return nil
		}
		if r.delivery.Status == model.StatusCharged {
			r.applied = true
			return nil
		}

		res := tx.Model(&model.Delivery{}).
			Where("id = ? AND status = ?", deliveryID, r.delivery.Status).
			Update("status", model.StatusCharged)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		r.delivery.Status = model.StatusCharged
		r.applied, r.changed = true, true
		return nil
	})
	if err != nil {
		return result{}, fmt.Errorf("charge delivery %d for user %d: %w", deliveryID, userID, err)
	}

	if r.changed {
		s.log.Info("delivery charged", zap.Int64("delivery_id", deliveryID), zap.Int64("user_id", userID))
		s.notify(deliveryID, func() error {
			_, err := s.notifier.NotifyStatusChange(ctx, &r.delivery, model.StatusCharged, userID)
			return err
		})
	}
	return r, nil
}

// guard locks the delivery and checks the participation and the terminal
// states shared by both paths. ok is false when nothing may happen.
func guard(tx *gorm.DB, deliveryID, userID int64, d *model.Delivery) (model.User, bool, error) {
	var user model.User

	var n int64
	if err := tx.Model(&model.DeliveryParticipation{}).
		Where("delivery_id = ? AND user_id = ?", deliveryID, userID).
		Count(&n).Error; err != nil {
		return user, false, err
	}
	if n == 0 {
		return user, false, nil
	}

	if err := db.ForUpdate(tx).First(d, deliveryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user, false, nil
		}
		return user, false, err
	}
	if d.Status == model.StatusDelivered || d.Status == model.StatusCancelled {
		return user, false, nil
	}

	if err := tx.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user, false, nil
		}
		return user, false, err
	}
	return user, true, nil
}

func (s *Service) notify(deliveryID int64, fn func() error) {
	if s.notifier == nil {
		return
	}
	if err := fn(); err != nil {
		s.log.Warn("notification failed", zap.Int64("delivery_id", deliveryID), zap.Error(err))
	}
}
