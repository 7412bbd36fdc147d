package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bloodlink-backend/internal/db"
	"bloodlink-backend/internal/model"
)

// OpenDB opens a private in-memory SQLite database with the full schema.
// A single connection is used so concurrent goroutines queue instead of
// tripping over SQLite table locks.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

// Fixture is a minimal organisation: one center, one hospital and their staff.
type Fixture struct {
	Center        model.DonationCenter
	Hospital      model.Hospital
	CenterStaff   []model.User
	HospitalStaff []model.User
	Dronists      []model.User
}

// Seed creates a center (id 3), a hospital (id 7), two staff members for
// each and two dronists.
func Seed(t *testing.T, gormDB *gorm.DB) *Fixture {
	t.Helper()
	f := &Fixture{
		Center:   model.DonationCenter{ID: 3, Name: "Centre Nord", Latitude: 48.85, Longitude: 2.35},
		Hospital: model.Hospital{ID: 7, Name: "Hopital Sud", Latitude: 48.80, Longitude: 2.30},
	}
	require.NoError(t, gormDB.Create(&f.Center).Error)
	require.NoError(t, gormDB.Create(&f.Hospital).Error)

	centerID, hospitalID := f.Center.ID, f.Hospital.ID
	f.CenterStaff = []model.User{
		{ID: 100, Email: "c1@center.test", Role: model.RoleCenterStaff, CenterID: &centerID},
		{ID: 101, Email: "c2@center.test", Role: model.RoleCenterStaff, CenterID: &centerID},
	}
	f.HospitalStaff = []model.User{
		{ID: 200, Email: "h1@hospital.test", Role: model.RoleHospitalStaff, HospitalID: &hospitalID},
		{ID: 201, Email: "h2@hospital.test", Role: model.RoleHospitalStaff, HospitalID: &hospitalID},
	}
	f.Dronists = []model.User{
		{ID: 300, Email: "d1@drone.test", Role: model.RoleDronist, CenterID: &centerID},
		{ID: 301, Email: "d2@drone.test", Role: model.RoleDronist},
	}
	for _, group := range [][]model.User{f.CenterStaff, f.HospitalStaff, f.Dronists} {
		require.NoError(t, gormDB.Create(&group).Error)
	}
	return f
}

// AddBags stocks n available bags of the given type and returns their ids.
func AddBags(t *testing.T, gormDB *gorm.DB, centerID int64, bloodType model.BloodType, n int) []int64 {
	t.Helper()
	bags := make([]model.BloodBag, n)
	for i := range bags {
		bags[i] = model.BloodBag{BloodType: bloodType, CenterID: centerID}
	}
	require.NoError(t, gormDB.Create(&bags).Error)

	ids := make([]int64, n)
	for i, b := range bags {
		ids[i] = b.ID
	}
	return ids
}

// CountAvailable counts bags of a type with no delivery.
func CountAvailable(t *testing.T, gormDB *gorm.DB, bloodType model.BloodType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gormDB.Model(&model.BloodBag{}).
		Where("blood_type = ? AND delivery_id IS NULL", bloodType).Count(&n).Error)
	return n
}

// CountNotifications counts notification rows for a user, optionally filtered by type.
func CountNotifications(t *testing.T, gormDB *gorm.DB, userID int64, typ model.NotificationType) int64 {
	t.Helper()
	q := gormDB.Model(&model.Notification{}).Where("user_id = ?", userID)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	var n int64
	require.NoError(t, q.Count(&n).Error)
	return n
}
