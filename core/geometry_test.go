package core

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestGeodeticToECEF(t *testing.T) {
	tests := []struct {
		name          string
		lat, lon, alt float64
		want          r3.Vec
	}{
		{name: "equator prime meridian", want: r3.Vec{X: 6378.137}},
		{name: "equator 90E", lon: 90, want: r3.Vec{Y: 6378.137}},
		{name: "north pole", lat: 90, want: r3.Vec{Z: 6356.752314}},
		{name: "altitude", alt: 1000, want: r3.Vec{X: 6379.137}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GeodeticToECEF(tt.lat, tt.lon, tt.alt)
			if d := r3.Norm(r3.Sub(got, tt.want)); d > 1e-3 {
				t.Fatalf("GeodeticToECEF = %+v, want %+v (diff %.6f km)", got, tt.want, d)
			}
		})
	}
}

func TestElevationDegrees(t *testing.T) {
	const earthRadiusKm = 6371.0
	observer := r3.Vec{X: earthRadiusKm}

	if got := ElevationDegrees(observer, r3.Vec{X: earthRadiusKm + 500}); math.Abs(got-90) > 1e-9 {
		t.Fatalf("overhead elevation = %f, want 90", got)
	}
	if got := ElevationDegrees(observer, r3.Vec{X: earthRadiusKm, Y: 1000}); math.Abs(got) > 1e-9 {
		t.Fatalf("horizon elevation = %f, want 0", got)
	}
	if got := ElevationDegrees(observer, r3.Vec{X: -earthRadiusKm}); got >= 0 {
		t.Fatalf("antipode elevation = %f, want negative", got)
	}
}

func TestRangeRate(t *testing.T) {
	observer := r3.Vec{}
	target := r3.Vec{X: 1000}

	if got := RangeRate(observer, target, r3.Vec{X: 7}); math.Abs(got-7) > 1e-12 {
		t.Fatalf("receding range rate = %f, want 7", got)
	}
	if got := RangeRate(observer, target, r3.Vec{X: -3}); math.Abs(got+3) > 1e-12 {
		t.Fatalf("approaching range rate = %f, want -3", got)
	}
	if got := RangeRate(observer, target, r3.Vec{Y: 7}); math.Abs(got) > 1e-12 {
		t.Fatalf("tangential range rate = %f, want 0", got)
	}
	if got := RangeRate(observer, observer, r3.Vec{X: 1}); got != 0 {
		t.Fatalf("coincident range rate = %f, want 0", got)
	}
}

func TestRotatingFrameVelocity_Geostationary(t *testing.T) {
	const geoRadiusKm = 42164.0
	pos := r3.Vec{X: geoRadiusKm}
	inertial := r3.Vec{Y: earthRotationRadS * geoRadiusKm}

	got := rotatingFrameVelocity(pos, inertial)
	if r3.Norm(got) > 1e-9 {
		t.Fatalf("geostationary velocity in Earth frame = %+v, want zero", got)
	}
}
