package store

import (
	"time"

	"bloodlink-backend/internal/model"
)

// Telemetry is one flight_info snapshot as reported by a drone.
type Telemetry struct {
	Latitude          float64
	Longitude         float64
	AltitudeM         float64
	HorizontalSpeedMS float64
	VerticalSpeedMS   float64
	HeadingDeg        float64
	IsArmed           bool
	FlightMode        string
	BatteryPercent    *float64
}

// Intent is the state a command asked a drone to move to.
// Empty fields are left untouched.
type Intent struct {
	MissionStatus model.MissionStatus
	FlightMode    string
	MissionFile   string
	At            time.Time
}

// DeliveryRoute is a delivery with both of its endpoints resolved.
type DeliveryRoute struct {
	Delivery model.Delivery
	Center   model.DonationCenter
	Hospital model.Hospital
}
