package model

import "time"

// NotificationType identifies what a notification is about.
type NotificationType string

const (
	NotificationNewOrder     NotificationType = "new_order"
	NotificationStatusUpdate NotificationType = "status_update"
	NotificationCancelled    NotificationType = "cancelled"
	NotificationCharged      NotificationType = "charged"
	NotificationInTransit    NotificationType = "in_transit"
	NotificationDelivered    NotificationType = "delivered"
)

// NotificationPriority orders notifications for display.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Notification is a message addressed to one user.
// DeliveryID carries no foreign key so the row survives a cancelled delivery.
type Notification struct {
	ID         int64                `gorm:"primaryKey" json:"id"`
	UserID     int64                `gorm:"not null;index" json:"userId"`
	HospitalID *int64               `json:"hospitalId"`
	CenterID   *int64               `json:"centerId"`
	DeliveryID *int64               `gorm:"index" json:"deliveryId"`
	Type       NotificationType     `gorm:"size:32;not null;index" json:"type"`
	Priority   NotificationPriority `gorm:"size:16;not null" json:"priority"`
	Title      string               `gorm:"size:256;not null" json:"title"`
	Message    string               `gorm:"size:1024" json:"message"`
	IsRead     bool                 `gorm:"not null;default:false" json:"isRead"`
	CreatedAt  time.Time            `json:"createdAt"`
	ReadAt     *time.Time           `json:"readAt"`
}
