package model

import "time"

// DroneStatus is the maintenance status of a drone.
type DroneStatus string

const (
	DroneAvailable    DroneStatus = "available"
	DroneMaintenance  DroneStatus = "maintenance"
	DroneOutOfService DroneStatus = "out_of_service"
)

// MissionStatus is the mission state last accepted by a drone's HTTP layer.
type MissionStatus string

const (
	MissionIdle      MissionStatus = "IDLE"
	MissionReady     MissionStatus = "READY"
	MissionActive    MissionStatus = "ACTIVE"
	MissionReturning MissionStatus = "RETURNING"
)

// Drone is a delivery drone attached to a donation center.
//
// The telemetry columns are written only by the sync loop and reflect what
// the drone reported. The Intended* columns are written by the drone client
// when a command is accepted and reflect intent, not confirmed hardware state.
type Drone struct {
	ID       int64       `gorm:"primaryKey" json:"id"`
	Name     string      `gorm:"size:128;not null" json:"name"`
	CenterID int64       `gorm:"index;not null" json:"centerId"`
	Status   DroneStatus `gorm:"size:32;not null;default:available" json:"status"`
	Endpoint *string     `gorm:"size:512" json:"endpoint"`

	// Telemetry snapshot
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	AltitudeM         float64    `json:"altitudeM"`
	HorizontalSpeedMS float64    `json:"horizontalSpeedMS"`
	VerticalSpeedMS   float64    `json:"verticalSpeedMS"`
	HeadingDeg        float64    `json:"headingDeg"`
	IsArmed           bool       `gorm:"not null;default:false" json:"isArmed"`
	FlightMode        string     `gorm:"size:32" json:"flightMode"`
	BatteryPercent    *float64   `json:"batteryPercent"`
	LastSyncAt        *time.Time `json:"lastSyncAt"`

	// Command intent
	IntendedMissionStatus MissionStatus `gorm:"size:32" json:"intendedMissionStatus"`
	IntendedFlightMode    string        `gorm:"size:32" json:"intendedFlightMode"`
	MissionFile           string        `gorm:"size:256" json:"missionFile"`
	IntentAt              *time.Time    `json:"intentAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasEndpoint reports whether a telemetry endpoint is configured.
func (d *Drone) HasEndpoint() bool {
	return d.Endpoint != nil && *d.Endpoint != ""
}
