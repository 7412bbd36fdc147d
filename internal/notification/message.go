package notification

import (
	"fmt"

	"bloodlink-backend/internal/model"
)

// Message is the content of one fan-out. Zero ids are stored as NULL.
type Message struct {
	Type       model.NotificationType
	Priority   model.NotificationPriority
	Title      string
	Body       string
	DeliveryID int64
	HospitalID int64
	CenterID   int64
}

func basePriority(d *model.Delivery) model.NotificationPriority {
	if d.Urgent {
		return model.PriorityUrgent
	}
	return model.PriorityNormal
}

// NewOrderMessage announces a freshly placed order.
func NewOrderMessage(d *model.Delivery) Message {
	title := "New blood order"
	if d.Urgent {
		title = "Urgent blood order"
	}
	return Message{
		Type:       model.NotificationNewOrder,
		Priority:   basePriority(d),
		Title:      title,
		Body:       fmt.Sprintf("Delivery #%d: %d bag(s) of %s requested.", d.ID, d.Quantity, d.BloodType),
		DeliveryID: d.ID,
		HospitalID: d.HospitalID,
		CenterID:   d.CenterID,
	}
}

// CancelledMessage announces that a pending order was withdrawn.
func CancelledMessage(d *model.Delivery) Message {
	return Message{
		Type:       model.NotificationCancelled,
		Priority:   model.PriorityHigh,
		Title:      "Order cancelled",
		Body:       fmt.Sprintf("Delivery #%d (%d x %s) was cancelled.", d.ID, d.Quantity, d.BloodType),
		DeliveryID: d.ID,
		HospitalID: d.HospitalID,
		CenterID:   d.CenterID,
	}
}

// StatusMessage describes a delivery entering status.
func StatusMessage(d *model.Delivery, status model.DeliveryStatus) Message {
	msg := Message{
		Type:       model.NotificationStatusUpdate,
		Priority:   basePriority(d),
		DeliveryID: d.ID,
		HospitalID: d.HospitalID,
		CenterID:   d.CenterID,
	}

	switch status {
	case model.StatusAcceptedCenter:
		msg.Title = "Order accepted by the center"
	case model.StatusRefusedCenter:
		msg.Title = "Order refused by the center"
		msg.Priority = model.PriorityHigh
	case model.StatusAcceptedDronist:
		msg.Title = "Drone operator assigned"
	case model.StatusRefusedDronist:
		msg.Title = "Drone operator declined"
		msg.Priority = model.PriorityHigh
	case model.StatusCharged:
		msg.Type = model.NotificationCharged
		msg.Title = "Blood bags loaded"
	case model.StatusInTransit:
		msg.Type = model.NotificationInTransit
		msg.Title = "Delivery in flight"
	case model.StatusDelivered:
		msg.Type = model.NotificationDelivered
		msg.Title = "Delivery received"
		msg.Priority = model.PriorityNormal
	case model.StatusCancelled:
		return CancelledMessage(d)
	default:
		msg.Title = "Delivery updated"
	}
	msg.Body = fmt.Sprintf("Delivery #%d is now %s.", d.ID, status)
	return msg
}
