package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/groundlink/model"
)

// ErrInvalidWindow is returned when a planning window or step is unusable.
var ErrInvalidWindow = errors.New("invalid planning window")

const (
	defaultMinElevationDeg = 10.0
	defaultSampleInterval  = time.Second
)

// Observation is the geometry of the satellite seen from the ground station
// at one instant.
type Observation struct {
	Time         time.Time
	RangeM       float64
	RangeRate    float64 // m/s, positive receding
	ElevationDeg float64
}

// PlannerOption customises a PassPlanner.
type PlannerOption func(*PassPlanner)

// WithMinElevation sets the elevation mask in degrees.
func WithMinElevation(deg float64) PlannerOption {
	return func(p *PassPlanner) {
		p.minElevation = deg
	}
}

// WithSampleInterval sets the spacing of coordinate samples. Values below
// one second are ignored since propagation runs at whole seconds.
func WithSampleInterval(d time.Duration) PlannerOption {
	return func(p *PassPlanner) {
		if d >= time.Second {
			p.step = d.Truncate(time.Second)
		}
	}
}

// PassPlanner predicts passes of one satellite over one ground station.
type PassPlanner struct {
	prop         *Propagator
	station      model.GroundStation
	observer     r3.Vec
	minElevation float64
	step         time.Duration
}

// NewPassPlanner builds a planner for the satellite described by the TLE.
func NewPassPlanner(tle1, tle2 string, station model.GroundStation, opts ...PlannerOption) (*PassPlanner, error) {
	if station.ID == "" {
		return nil, fmt.Errorf("%w: ground station id is required", ErrInvalidWindow)
	}
	if math.Abs(station.LatitudeDeg) > 90 || math.Abs(station.LongitudeDeg) > 180 {
		return nil, fmt.Errorf("%w: station %s position out of range", ErrInvalidWindow, station.ID)
	}
	prop, err := NewPropagatorFromTLE(tle1, tle2)
	if err != nil {
		return nil, err
	}
	p := &PassPlanner{
		prop:         prop,
		station:      station,
		observer:     GeodeticToECEF(station.LatitudeDeg, station.LongitudeDeg, station.AltitudeM),
		minElevation: defaultMinElevationDeg,
		step:         defaultSampleInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SatelliteID returns the catalog number used in plan identifiers.
func (p *PassPlanner) SatelliteID() string {
	return p.prop.CatalogID()
}

// Observe computes range, range rate and elevation at t.
func (p *PassPlanner) Observe(t time.Time) (Observation, error) {
	t = t.UTC().Truncate(time.Second)
	st, err := p.prop.StateAt(t)
	if err != nil {
		return Observation{}, err
	}
	const kmToM = 1000.0
	return Observation{
		Time:         t,
		RangeM:       r3.Norm(r3.Sub(st.Position, p.observer)) * kmToM,
		RangeRate:    RangeRate(p.observer, st.Position, st.Velocity) * kmToM,
		ElevationDeg: ElevationDegrees(p.observer, st.Position),
	}, nil
}

// RangeRateAt returns the range rate in m/s (positive receding) and the
// elevation in degrees at t.
func (p *PassPlanner) RangeRateAt(t time.Time) (float64, float64, error) {
	obs, err := p.Observe(t)
	if err != nil {
		return 0, 0, err
	}
	return obs.RangeRate, obs.ElevationDeg, nil
}

// PlanPasses scans [start, end] and returns one plan per interval during
// which the satellite is at or above the elevation mask. Passes in progress
// at either edge of the window are clipped to it.
func (p *PassPlanner) PlanPasses(start, end time.Time) ([]model.Plan, error) {
	start = start.UTC().Truncate(time.Second)
	end = end.UTC().Truncate(time.Second)
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidWindow, end, start)
	}

	var (
		plans   []model.Plan
		current *model.Plan
	)
	closePass := func() {
		if current == nil {
			return
		}
		last := current.Coordinates[len(current.Coordinates)-1]
		current.LOS = last.Time
		current.ID = p.planID(current.AOS)
		plans = append(plans, *current)
		current = nil
	}

	for t := start; !t.After(end); t = t.Add(p.step) {
		obs, err := p.Observe(t)
		if err != nil {
			return nil, err
		}
		if obs.ElevationDeg < p.minElevation {
			closePass()
			continue
		}
		if current == nil {
			current = &model.Plan{
				GroundStationID: p.station.ID,
				SatelliteID:     p.prop.CatalogID(),
				AOS:             obs.Time,
			}
		}
		current.Coordinates = append(current.Coordinates, model.CoordinateSample{
			Time:      obs.Time,
			RangeRate: obs.RangeRate,
		})
	}
	closePass()
	return plans, nil
}

// planID is stable for a given pass so repeated planning overwrites rather
// than duplicates stored plans.
func (p *PassPlanner) planID(aos time.Time) string {
	return fmt.Sprintf("%s-%s-%d", p.station.ID, p.prop.CatalogID(), aos.Unix())
}
