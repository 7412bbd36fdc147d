package drone

import (
	"encoding/json"

	"bloodlink-backend/internal/store"
)

// FlightInfo is the body of GET /flight_info.
type FlightInfo struct {
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	AltitudeM         float64  `json:"altitude_m"`
	HorizontalSpeedMS float64  `json:"horizontal_speed_m_s"`
	VerticalSpeedMS   float64  `json:"vertical_speed_m_s"`
	HeadingDeg        float64  `json:"heading_deg"`
	IsArmed           bool     `json:"is_armed"`
	FlightMode        string   `json:"flight_mode"`
	BatteryPercent    *float64 `json:"battery_percent,omitempty"`
}

// Telemetry converts the report into the persisted snapshot.
func (f FlightInfo) Telemetry() store.Telemetry {
	return store.Telemetry{
		Latitude:          f.Latitude,
		Longitude:         f.Longitude,
		AltitudeM:         f.AltitudeM,
		HorizontalSpeedMS: f.HorizontalSpeedMS,
		VerticalSpeedMS:   f.VerticalSpeedMS,
		HeadingDeg:        f.HeadingDeg,
		IsArmed:           f.IsArmed,
		FlightMode:        f.FlightMode,
		BatteryPercent:    f.BatteryPercent,
	}
}

// flightInfoReport decodes GET /flight_info keeping track of absent keys.
type flightInfoReport struct {
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	AltitudeM         *float64 `json:"altitude_m"`
	HorizontalSpeedMS *float64 `json:"horizontal_speed_m_s"`
	VerticalSpeedMS   *float64 `json:"vertical_speed_m_s"`
	HeadingDeg        *float64 `json:"heading_deg"`
	IsArmed           *bool    `json:"is_armed"`
	FlightMode        *string  `json:"flight_mode"`
	BatteryPercent    *float64 `json:"battery_percent"`
}

// missing lists the required keys absent from the report.
func (r flightInfoReport) missing() []string {
	var keys []string
	for _, f := range []struct {
		key     string
		present bool
	}{
		{"latitude", r.Latitude != nil},
		{"longitude", r.Longitude != nil},
		{"altitude_m", r.AltitudeM != nil},
		{"horizontal_speed_m_s", r.HorizontalSpeedMS != nil},
		{"vertical_speed_m_s", r.VerticalSpeedMS != nil},
		{"heading_deg", r.HeadingDeg != nil},
		{"is_armed", r.IsArmed != nil},
		{"flight_mode", r.FlightMode != nil},
	} {
		if !f.present {
			keys = append(keys, f.key)
		}
	}
	return keys
}

// flightInfo must only be called once missing reports nothing.
func (r flightInfoReport) flightInfo() FlightInfo {
	return FlightInfo{
		Latitude:          *r.Latitude,
		Longitude:         *r.Longitude,
		AltitudeM:         *r.AltitudeM,
		HorizontalSpeedMS: *r.HorizontalSpeedMS,
		VerticalSpeedMS:   *r.VerticalSpeedMS,
		HeadingDeg:        *r.HeadingDeg,
		IsArmed:           *r.IsArmed,
		FlightMode:        *r.FlightMode,
		BatteryPercent:    r.BatteryPercent,
	}
}

// Waypoint is one mission item. Altitude is relative to home, in meters.
type Waypoint struct {
	Latitude  float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude float64 `json:"longitude" binding:"min=-180,max=180"`
	Altitude  float64 `json:"altitude" binding:"min=0"`
}

// CreateMissionRequest is the body of POST /mission/create.
type CreateMissionRequest struct {
	Filename        string     `json:"filename"`
	TakeoffAltitude float64    `json:"takeoff_altitude" binding:"omitempty,gt=0"`
	Waypoints       []Waypoint `json:"waypoints" binding:"required,min=1,dive"`
	Mode            string     `json:"mode"`
}

// WaypointUpdate lists the fields to change on one waypoint.
type WaypointUpdate struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// ModifyMissionRequest is the body of POST /mission/modify.
type ModifyMissionRequest struct {
	Filename    string         `json:"filename" binding:"required"`
	WaypointSeq int            `json:"waypoint_seq" binding:"min=0"`
	Updates     WaypointUpdate `json:"updates"`
}

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// Result is the raw answer of a drone to a command.
type Result struct {
	DroneID  int64           `json:"droneId"`
	Filename string          `json:"filename,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}
