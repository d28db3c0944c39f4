package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// WGS84 ellipsoid.
const (
	wgs84SemiMajorKm  = 6378.137
	wgs84Flattening   = 1 / 298.257223563
	earthRotationRadS = 7.292115e-5
)

// GeodeticToECEF converts a geodetic position (degrees, metres above the
// ellipsoid) to an ECEF vector in kilometres.
func GeodeticToECEF(latDeg, lonDeg, altM float64) r3.Vec {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	altKm := altM / 1000

	e2 := wgs84Flattening * (2 - wgs84Flattening)
	sinLat := math.Sin(lat)
	n := wgs84SemiMajorKm / math.Sqrt(1-e2*sinLat*sinLat)

	return r3.Vec{
		X: (n + altKm) * math.Cos(lat) * math.Cos(lon),
		Y: (n + altKm) * math.Cos(lat) * math.Sin(lon),
		Z: (n*(1-e2) + altKm) * sinLat,
	}
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
// The local zenith is the observer's geocentric direction.
func ElevationDegrees(observer, target r3.Vec) float64 {
	v := r3.Sub(target, observer)
	vNorm := r3.Norm(v)
	if vNorm == 0 {
		return 90
	}
	r := r3.Norm(observer)
	if r == 0 {
		return 90
	}

	cosGamma := r3.Dot(v, observer) / (vNorm * r)
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	return 90.0 - math.Acos(cosGamma)*180.0/math.Pi
}

// RangeRate returns the rate of change of |target - observer| given the
// target's position and velocity relative to a stationary observer.
// Units follow the inputs; positive means the distance is growing.
func RangeRate(observer, target, targetVel r3.Vec) float64 {
	rel := r3.Sub(target, observer)
	d := r3.Norm(rel)
	if d == 0 {
		return 0
	}
	return r3.Dot(rel, targetVel) / d
}

// rotatingFrameVelocity converts an inertial velocity already rotated into
// ECEF axes into the velocity seen in the rotating Earth frame.
func rotatingFrameVelocity(posECEF, velRotated r3.Vec) r3.Vec {
	omega := r3.Vec{Z: earthRotationRadS}
	return r3.Sub(velRotated, r3.Cross(omega, posECEF))
}
