package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"bloodlink-backend/internal/apperr"
	"bloodlink-backend/internal/db"
	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/model"
)

// reserveSQL claims bags in one statement so two concurrent reservations can
// never select overlapping rows. The outer "delivery_id IS NULL" re-check makes
// a row that was claimed by a concurrent transaction drop out after its lock
// is released.
const reserveSQL = `UPDATE blood_bags SET delivery_id = ? ` +
	`WHERE delivery_id IS NULL AND id IN (` +
	`SELECT id FROM blood_bags WHERE blood_type = ? AND delivery_id IS NULL ORDER BY id LIMIT ?%s)`

// Allocator reserves and releases blood bags.
type Allocator struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewAllocator creates an Allocator.
func NewAllocator(gormDB *gorm.DB, log *zap.Logger) *Allocator {
	return &Allocator{db: gormDB, log: logger.OrNop(log).Named("inventory")}
}

// Reserve links quantity available bags of bloodType to deliveryID inside tx.
// On *apperr.InsufficientStockError some rows may already carry the delivery
// id, so the caller must roll tx back.
func (a *Allocator) Reserve(ctx context.Context, tx *gorm.DB, deliveryID int64, bloodType model.BloodType, quantity int) ([]int64, error) {
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be positive, got %d", quantity)
	}
	if !bloodType.Valid() {
		return nil, apperr.Validation("unknown blood type %q", bloodType)
	}

	locking := ""
	if db.IsPostgres(tx) {
		locking = " FOR UPDATE SKIP LOCKED"
	}

	res := tx.WithContext(ctx).Exec(fmt.Sprintf(reserveSQL, locking), deliveryID, bloodType, quantity)
	if res.Error != nil {
		return nil, fmt.Errorf("reserve %d x %s: %w", quantity, bloodType, res.Error)
	}

	if claimed := int(res.RowsAffected); claimed < quantity {
		// SKIP LOCKED passes over bags held by concurrent reservations that
		// may still roll back, so the claim alone under-reports the stock.
		free, err := a.available(ctx, tx, bloodType, deliveryID)
		if err != nil {
			return nil, err
		}
		available := max(claimed, int(free))
		a.log.Info("insufficient stock",
			zap.String("blood_type", string(bloodType)),
			zap.Int("claimed", claimed),
			zap.Int("available", available),
			zap.Int("requested", quantity),
		)
		return nil, &apperr.InsufficientStockError{
			BloodType: string(bloodType),
			Available: available,
			Requested: quantity,
		}
	}

	var ids []int64
	if err := tx.WithContext(ctx).Model(&model.BloodBag{}).
		Where("delivery_id = ?", deliveryID).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list bags reserved for delivery %d: %w", deliveryID, err)
	}
	return ids, nil
}

// Release returns every bag linked to deliveryID to the available stock.
func (a *Allocator) Release(ctx context.Context, tx *gorm.DB, deliveryID int64) (int64, error) {
	res := tx.WithContext(ctx).Model(&model.BloodBag{}).
		Where("delivery_id = ?", deliveryID).
		Update("delivery_id", gorm.Expr("NULL"))
	if res.Error != nil {
		return 0, fmt.Errorf("release bags of delivery %d: %w", deliveryID, res.Error)
	}
	return res.RowsAffected, nil
}

// StockLevel is the inventory of one blood type.
type StockLevel struct {
	BloodType model.BloodType `json:"bloodType"`
	Available int64           `json:"available"`
	Reserved  int64           `json:"reserved"`
}

// Stock reports available and reserved counts for every blood type, optionally
// restricted to one center (centerID 0 means all centers).
func (a *Allocator) Stock(ctx context.Context, centerID int64) ([]StockLevel, error) {
	type row struct {
		BloodType model.BloodType
		Available int64
		Reserved  int64
	}
	var rows []row
	q := a.db.WithContext(ctx).Model(&model.BloodBag{}).
		Select("blood_type, " +
			"SUM(CASE WHEN delivery_id IS NULL THEN 1 ELSE 0 END) AS available, " +
			"SUM(CASE WHEN delivery_id IS NOT NULL THEN 1 ELSE 0 END) AS reserved").
		Group("blood_type")
	if centerID > 0 {
		q = q.Where("center_id = ?", centerID)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("aggregate stock: %w", err)
	}

	byType := make(map[model.BloodType]row, len(rows))
	for _, r := range rows {
		byType[r.BloodType] = r
	}

	levels := make([]StockLevel, 0, len(model.BloodTypes))
	for _, bt := range model.BloodTypes {
		r := byType[bt]
		levels = append(levels, StockLevel{BloodType: bt, Available: r.Available, Reserved: r.Reserved})
	}
	return levels, nil
}

// available counts the committed bags of bloodType that are free or already
// claimed by deliveryID, without taking row locks.
func (a *Allocator) available(ctx context.Context, tx *gorm.DB, bloodType model.BloodType, deliveryID int64) (int64, error) {
	var n int64
	if err := tx.WithContext(ctx).Model(&model.BloodBag{}).
		Where("blood_type = ? AND (delivery_id IS NULL OR delivery_id = ?)", bloodType, deliveryID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count available %s: %w", bloodType, err)
	}
	return n, nil
}
