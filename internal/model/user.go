package model

// Role is the function of a user in the delivery workflow.
type Role string

const (
	RoleDronist       Role = "dronist"
	RoleHospitalStaff Role = "hospital_staff"
	RoleCenterStaff   Role = "center_staff"
	RoleAdmin         Role = "admin"
)

// User is read-only here; accounts are managed by the identity service.
type User struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	Email      string `gorm:"size:256;uniqueIndex;not null" json:"email"`
	Role       Role   `gorm:"size:32;index;not null" json:"role"`
	HospitalID *int64 `gorm:"index" json:"hospitalId"`
	CenterID   *int64 `gorm:"index" json:"centerId"`
}

// MemberOfCenter reports whether u is staff of the given donation center.
func (u *User) MemberOfCenter(centerID int64) bool {
	return (u.Role == RoleCenterStaff || u.Role == RoleAdmin) && u.CenterID != nil && *u.CenterID == centerID
}

// MemberOfHospital reports whether u is staff of the given hospital.
func (u *User) MemberOfHospital(hospitalID int64) bool {
	return (u.Role == RoleHospitalStaff || u.Role == RoleAdmin) && u.HospitalID != nil && *u.HospitalID == hospitalID
}

// Hospital receives deliveries.
type Hospital struct {
	ID        int64   `gorm:"primaryKey" json:"id"`
	Name      string  `gorm:"size:256;not null" json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DonationCenter stores blood bags and operates drones.
type DonationCenter struct {
	ID        int64   `gorm:"primaryKey" json:"id"`
	Name      string  `gorm:"size:256;not null" json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
