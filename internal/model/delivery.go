package model

import "time"

// DeliveryStatus is the lifecycle state of a Delivery.
type DeliveryStatus string

const (
	StatusPending         DeliveryStatus = "pending"
	StatusAcceptedCenter  DeliveryStatus = "accepted_center"
	StatusRefusedCenter   DeliveryStatus = "refused_center"
	StatusAcceptedDronist DeliveryStatus = "accepted_dronist"
	StatusRefusedDronist  DeliveryStatus = "refused_dronist"
	StatusCharged         DeliveryStatus = "charged"
	StatusInTransit       DeliveryStatus = "in_transit"
	StatusDelivered       DeliveryStatus = "delivered"
	StatusCancelled       DeliveryStatus = "cancelled"
)

// transitions lists the successors of each status reachable through the
// operator state machine. Participation-driven transitions (charged,
// delivered) are checked separately by the validation service.
var transitions = map[DeliveryStatus][]DeliveryStatus{
	StatusPending:         {StatusAcceptedCenter, StatusRefusedCenter, StatusCancelled},
	StatusAcceptedCenter:  {StatusAcceptedDronist, StatusRefusedDronist},
	StatusAcceptedDronist: {StatusCharged},
	StatusCharged:         {StatusInTransit},
	StatusInTransit:       {StatusDelivered},
}

// IsOperatorStatus reports whether s may be set through a status update.
func (s DeliveryStatus) IsOperatorStatus() bool {
	switch s {
	case StatusAcceptedCenter, StatusRefusedCenter, StatusAcceptedDronist, StatusRefusedDronist:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is defined from s.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case StatusRefusedCenter, StatusRefusedDronist, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a direct successor of s.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsDronistAuthored reports whether s is set by a drone operator.
func (s DeliveryStatus) IsDronistAuthored() bool {
	return s == StatusAcceptedDronist || s == StatusRefusedDronist
}

// IsCenterAuthored reports whether s is set by donation center staff.
func (s DeliveryStatus) IsCenterAuthored() bool {
	return s == StatusAcceptedCenter || s == StatusRefusedCenter
}

// Delivery is one shipment of blood bags from a donation center to a hospital.
type Delivery struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	DroneID     *int64         `gorm:"index" json:"droneId"`
	HospitalID  int64          `gorm:"index;not null" json:"hospitalId"`
	CenterID    int64          `gorm:"index;not null" json:"centerId"`
	Status      DeliveryStatus `gorm:"size:32;index;not null" json:"status"`
	Urgent      bool           `gorm:"not null;default:false" json:"urgent"`
	BloodType   BloodType      `gorm:"size:3;not null" json:"bloodType"`
	Quantity    int            `gorm:"not null" json:"quantity"`
	Notes       string         `gorm:"size:1024" json:"notes"`
	RequestedAt time.Time      `gorm:"not null" json:"requestedAt"`
	ValidatedAt *time.Time     `json:"validatedAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// DeliveryParticipation records that a user acted on a delivery.
type DeliveryParticipation struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	UserID     int64     `gorm:"not null;uniqueIndex:idx_participation_user_delivery,priority:1" json:"userId"`
	DeliveryID int64     `gorm:"not null;index;uniqueIndex:idx_participation_user_delivery,priority:2" json:"deliveryId"`
	CreatedAt  time.Time `json:"createdAt"`
}
