// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package astro

import (
	"fmt"
	"math"
	"time"
)

// SunPosition returns the apparent geocentric RA (hours) and Dec
// (degrees) of the Sun. Low-precision Almanac series, good to ~0.01
// degrees over the current century.
func SunPosition(t time.Time) (raHours, decDeg float64) {
	jd := JulianDay(t)
	n := jd - 2451545.0

	meanLon := norm360(280.460 + 0.9856474*n)
	meanAnom := norm360(357.528+0.9856003*n) * deg2rad
	eclipticLon := norm360(meanLon + 1.915*math.Sin(meanAnom) + 0.020*math.Sin(2*meanAnom))

	return eclipticToEquatorial(eclipticLon, 0.0, obliquityDegrees(jd))
}

// MoonPosition returns the geocentric RA (hours) and Dec (degrees) of
// the Moon from the low-precision lunar series (a few arcminutes).
func MoonPosition(t time.Time) (raHours, decDeg float64) {
	jd := JulianDay(t)
	T := (jd - 2451545.0) / 36525.0

	term := func(a, b float64) float64 {
		return math.Sin((a + b*T) * deg2rad)
	}

	lon := 218.32 + 481267.881*T +
		6.29*term(135.0, 477198.87) -
		1.27*term(259.3, -413335.36) +
		0.66*term(235.7, 890534.22) +
		0.21*term(269.9, 954397.74) -
		0.19*term(357.5, 35999.05) -
		0.11*term(186.5, 966404.03)

	lat := 5.13*term(93.3, 483202.02) +
		0.28*term(228.2, 960400.89) -
		0.28*term(318.3, 6003.15) -
		0.17*term(217.6, -407332.21)

	return eclipticToEquatorial(norm360(lon), lat, obliquityDegrees(jd))
}

// elements holds Keplerian mean elements at J2000 and their centennial
// rates: semi-major axis (au), eccentricity, inclination, mean
// longitude, longitude of perihelion, longitude of ascending node (all
// angles in degrees).
type elements struct {
	a, e, i, l, peri, node                   float64
	aDot, eDot, iDot, lDot, periDot, nodeDot float64
}

// planetElements are the JPL approximate elements valid 1800-2050
// (Standish), keyed by lower-case body name. "embary" is the Earth-Moon
// barycenter used as the observer origin.
var planetElements = map[string]elements{
	"mercury": {0.38709927, 0.20563593, 7.00497902, 252.25032350, 77.45779628, 48.33076593,
		0.00000037, 0.00001906, -0.00594749, 149472.67411175, 0.16047689, -0.12534081},
	"venus": {0.72333566, 0.00677672, 3.39467605, 181.97909950, 131.60246718, 76.67984255,
		0.00000390, -0.00004107, -0.00078890, 58517.81538729, 0.00268329, -0.27769418},
	"embary": {1.00000261, 0.01671123, -0.00001531, 100.46457166, 102.93768193, 0.0,
		0.00000562, -0.00004392, -0.01294668, 35999.37244981, 0.32327364, 0.0},
	"mars": {1.52371034, 0.09339410, 1.84969142, -4.55343205, -23.94362959, 49.55953891,
		0.00001847, 0.00007882, -0.00813131, 19140.30268499, 0.44441088, -0.29257343},
	"jupiter": {5.20288700, 0.04838624, 1.30439695, 34.39644051, 14.72847983, 100.47390909,
		-0.00011607, -0.00013253, -0.00183714, 3034.74612775, 0.21252668, 0.20469106},
	"saturn": {9.53667594, 0.05386179, 2.48599187, 49.95424423, 92.59887831, 113.66242448,
		-0.00125060, -0.00050991, 0.00193609, 1222.49362201, -0.41897216, -0.28867794},
	"uranus": {19.18916464, 0.04725744, 0.77263783, 313.23810451, 170.95427630, 74.01692503,
		-0.00196176, -0.00004397, -0.00242939, 428.48202785, 0.40805281, 0.04240589},
	"neptune": {30.06992276, 0.00859048, 1.77004347, -55.12002969, 44.96476227, 131.78422574,
		0.00026291, 0.00005105, 0.00035372, 218.45945325, -0.32241464, -0.00508664},
	"pluto": {39.48211675, 0.24882730, 17.14001206, 238.92903833, 224.06891629, 110.30393684,
		-0.00031596, 0.00005170, 0.00004818, 145.20780515, -0.04062942, -0.01183482},
}

// Planets lists the bodies PlanetPosition accepts, in distance order.
func Planets() []string {
	return []string{"mercury", "venus", "mars", "jupiter", "saturn", "uranus", "neptune", "pluto"}
}

// PlanetPosition returns the geocentric RA (hours) and Dec (degrees) of
// a planet from Keplerian mean elements.
func PlanetPosition(name string, t time.Time) (raHours, decDeg float64, err error) {
	el, ok := planetElements[name]
	if !ok || name == "embary" {
		return 0, 0, fmt.Errorf("no ephemeris for body %q", name)
	}

	jd := JulianDay(t)
	T := (jd - 2451545.0) / 36525.0

	px, py, pz := heliocentric(el, T)
	ex, ey, ez := heliocentric(planetElements["embary"], T)
	gx, gy, gz := px-ex, py-ey, pz-ez

	// Rotate from the ecliptic to the equatorial frame.
	eps := obliquityDegrees(jd) * deg2rad
	xe := gx
	ye := gy*math.Cos(eps) - gz*math.Sin(eps)
	ze := gy*math.Sin(eps) + gz*math.Cos(eps)

	ra := norm360(math.Atan2(ye, xe)*rad2deg) / 15.0
	dec := math.Asin(ze/math.Sqrt(xe*xe+ye*ye+ze*ze)) * rad2deg
	return ra, dec, nil
}

// heliocentric returns a body's J2000 ecliptic position (au) at T Julian
// centuries past J2000.
func heliocentric(el elements, T float64) (x, y, z float64) {
	a := el.a + el.aDot*T
	e := el.e + el.eDot*T
	incl := (el.i + el.iDot*T) * deg2rad
	meanLon := el.l + el.lDot*T
	periLon := el.peri + el.periDot*T
	nodeLon := el.node + el.nodeDot*T

	meanAnom := norm360(meanLon - periLon)
	if meanAnom > 180 {
		meanAnom -= 360
	}
	E := solveKepler(meanAnom*deg2rad, e)

	// Position in the orbital plane.
	xp := a * (math.Cos(E) - e)
	yp := a * math.Sqrt(1-e*e) * math.Sin(E)

	w := (periLon - nodeLon) * deg2rad
	om := nodeLon * deg2rad

	cosw, sinw := math.Cos(w), math.Sin(w)
	coso, sino := math.Cos(om), math.Sin(om)
	cosi, sini := math.Cos(incl), math.Sin(incl)

	x = (cosw*coso-sinw*sino*cosi)*xp + (-sinw*coso-cosw*sino*cosi)*yp
	y = (cosw*sino+sinw*coso*cosi)*xp + (-sinw*sino+cosw*coso*cosi)*yp
	z = (sinw*sini)*xp + (cosw*sini)*yp
	return x, y, z
}

// solveKepler iterates Kepler's equation E - e sin E = M by Newton's
// method. Converges in a handful of steps for planetary eccentricities.
func solveKepler(M, e float64) float64 {
	E := M + e*math.Sin(M)
	for i := 0; i < 20; i++ {
		dE := (M - (E - e*math.Sin(E))) / (1 - e*math.Cos(E))
		E += dE
		if math.Abs(dE) < 1e-12 {
			break
		}
	}
	return E
}
