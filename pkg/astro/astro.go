// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package astro provides the spherical-astronomy primitives behind target
// resolution and visibility checks: sidereal time, equatorial to
// horizontal coordinate transforms, and a low-precision solar-system
// ephemeris.
//
// Accuracy is a few arcminutes, far below the telescope's plate-solving
// tolerance. All angles are degrees and right ascensions are hours unless
// noted otherwise.
package astro

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// JulianDay converts a wall-clock instant to a Julian date (UTC).
func JulianDay(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	return satellite.JDay(year, int(month), day, hour, min, sec)
}

// GMSTDegrees returns Greenwich mean sidereal time in degrees [0,360).
func GMSTDegrees(t time.Time) float64 {
	return norm360(satellite.ThetaG_JD(JulianDay(t)) * rad2deg)
}

// LocalSiderealDegrees returns local mean sidereal time for an observer
// at the given east-positive longitude.
func LocalSiderealDegrees(t time.Time, lonDeg float64) float64 {
	return norm360(GMSTDegrees(t) + lonDeg)
}

// AltAz transforms equatorial coordinates (RA in hours, Dec in degrees)
// to topocentric altitude and azimuth for an observer at latDeg/lonDeg.
// Azimuth is measured from north through east.
func AltAz(raHours, decDeg, latDeg, lonDeg float64, t time.Time) (altDeg, azDeg float64) {
	lst := LocalSiderealDegrees(t, lonDeg)
	hourAngle := norm360(lst-raHours*15.0) * deg2rad
	lat := latDeg * deg2rad
	dec := decDeg * deg2rad

	sinAlt := math.Sin(lat)*math.Sin(dec) + math.Cos(lat)*math.Cos(dec)*math.Cos(hourAngle)
	altDeg = math.Asin(sinAlt) * rad2deg

	az := math.Atan2(
		math.Sin(hourAngle),
		math.Cos(hourAngle)*math.Sin(lat)-math.Tan(dec)*math.Cos(lat),
	)
	azDeg = norm360(az*rad2deg + 180.0)
	return altDeg, azDeg
}

// obliquityDegrees is the mean obliquity of the ecliptic at jd.
func obliquityDegrees(jd float64) float64 {
	t := (jd - 2451545.0) / 36525.0
	return 23.439291 - 0.0130042*t
}

// eclipticToEquatorial converts ecliptic longitude/latitude (degrees) to
// RA (hours) and Dec (degrees) for the obliquity eps.
func eclipticToEquatorial(lonDeg, latDeg, epsDeg float64) (raHours, decDeg float64) {
	lon := lonDeg * deg2rad
	lat := latDeg * deg2rad
	eps := epsDeg * deg2rad

	ra := math.Atan2(
		math.Sin(lon)*math.Cos(eps)-math.Tan(lat)*math.Sin(eps),
		math.Cos(lon),
	)
	dec := math.Asin(math.Sin(lat)*math.Cos(eps) + math.Cos(lat)*math.Sin(eps)*math.Sin(lon))
	return norm360(ra*rad2deg) / 15.0, dec * rad2deg
}

// norm360 wraps an angle into [0,360).
func norm360(x float64) float64 {
	x = math.Mod(x, 360.0)
	if x < 0 {
		x += 360.0
	}
	return x
}
