package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrInvalidTLE is returned when two-line element data is malformed.
	ErrInvalidTLE = errors.New("invalid TLE")
	// ErrPropagation is returned when SGP4 produces no usable state.
	ErrPropagation = errors.New("propagation failed")
)

const tleLineLen = 69

// State is an Earth-fixed satellite state vector.
type State struct {
	// Position is ECEF in kilometres.
	Position r3.Vec
	// Velocity is relative to the rotating Earth, in km/s.
	Velocity r3.Vec
}

// Propagator wraps an SGP4 model built from a TLE.
type Propagator struct {
	sat       satellite.Satellite
	catalogID string
}

// NewPropagatorFromTLE checks the TLE layout and constructs an SGP4 model.
// Checksums are not verified.
func NewPropagatorFromTLE(line1, line2 string) (*Propagator, error) {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")
	if len(line1) != tleLineLen || len(line2) != tleLineLen {
		return nil, fmt.Errorf("%w: lines must be %d characters", ErrInvalidTLE, tleLineLen)
	}
	if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return nil, fmt.Errorf("%w: unexpected line numbers", ErrInvalidTLE)
	}
	id1 := strings.TrimSpace(line1[2:7])
	id2 := strings.TrimSpace(line2[2:7])
	if id1 == "" || id1 != id2 {
		return nil, fmt.Errorf("%w: catalog numbers %q and %q differ", ErrInvalidTLE, id1, id2)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &Propagator{sat: sat, catalogID: id1}, nil
}

// CatalogID returns the NORAD catalog number from the TLE.
func (p *Propagator) CatalogID() string {
	return p.catalogID
}

// StateAt propagates to t, truncated to whole seconds.
func (p *Propagator) StateAt(t time.Time) (State, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, velECI := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	if !finite(posECI) || !finite(velECI) {
		return State{}, fmt.Errorf("%w at %s", ErrPropagation, t.Format(time.RFC3339))
	}

	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	pos := satellite.ECIToECEF(posECI, gmst)
	vel := satellite.ECIToECEF(velECI, gmst)

	position := r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z}
	return State{
		Position: position,
		Velocity: rotatingFrameVelocity(position, r3.Vec{X: vel.X, Y: vel.Y, Z: vel.Z}),
	}, nil
}

func finite(v satellite.Vector3) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return v.X != 0 || v.Y != 0 || v.Z != 0
}
