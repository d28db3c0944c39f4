package model

import "time"

// CoordinateSample is one point of a satellite pass track as seen from a
// ground station.
type CoordinateSample struct {
	Time time.Time `json:"time" yaml:"time"`
	// RangeRate is the radial velocity in m/s, positive when the satellite is
	// receding.
	RangeRate float64 `json:"range_rate" yaml:"range_rate"`
}

// Plan is a scheduled pass of a satellite over a ground station.
type Plan struct {
	ID              string             `json:"plan_id"`
	GroundStationID string             `json:"ground_station_id"`
	SatelliteID     string             `json:"satellite_id"`
	AOS             time.Time          `json:"aos"`
	LOS             time.Time          `json:"los"`
	Coordinates     []CoordinateSample `json:"coordinates,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	out := p
	if p.Coordinates != nil {
		out.Coordinates = append([]CoordinateSample(nil), p.Coordinates...)
	}
	return out
}

// GroundStation describes an observer location on the Earth's surface.
type GroundStation struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name,omitempty" yaml:"name"`
	LatitudeDeg  float64 `json:"latitude_deg" yaml:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg" yaml:"longitude_deg"`
	AltitudeM    float64 `json:"altitude_m" yaml:"altitude_m"`
}
