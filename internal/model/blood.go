package model

import "time"

// BloodType is an ABO/Rh blood group.
type BloodType string

const (
	BloodAPos  BloodType = "A+"
	BloodANeg  BloodType = "A-"
	BloodBPos  BloodType = "B+"
	BloodBNeg  BloodType = "B-"
	BloodABPos BloodType = "AB+"
	BloodABNeg BloodType = "AB-"
	BloodOPos  BloodType = "O+"
	BloodONeg  BloodType = "O-"
)

// BloodTypes lists every supported blood type.
var BloodTypes = []BloodType{BloodAPos, BloodANeg, BloodBPos, BloodBNeg, BloodABPos, BloodABNeg, BloodOPos, BloodONeg}

// Valid reports whether t is one of BloodTypes.
func (t BloodType) Valid() bool {
	for _, bt := range BloodTypes {
		if t == bt {
			return true
		}
	}
	return false
}

// BloodBag is one unit of inventory. A nil DeliveryID means the bag is available.
type BloodBag struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	BloodType  BloodType `gorm:"size:3;not null;index:idx_blood_bags_type_delivery,priority:1" json:"bloodType"`
	CenterID   int64     `gorm:"index" json:"centerId"`
	DeliveryID *int64    `gorm:"index:idx_blood_bags_type_delivery,priority:2" json:"deliveryId"`
	CreatedAt  time.Time `json:"createdAt"`
}
