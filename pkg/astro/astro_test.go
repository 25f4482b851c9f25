// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package astro

import (
	"math"
	"testing"
	"time"
)

func within(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (±%v)", name, got, want, tol)
	}
}

var (
	// 2024-01-15T06:00:00Z, JD 2460324.75
	winterNight = time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	// 2024-06-21T12:00:00Z, near the June solstice
	solsticeNoon = time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)
)

func TestJulianDay(t *testing.T) {
	within(t, "JD", JulianDay(winterNight), 2460324.75, 1e-9)
	// J2000.0 epoch
	within(t, "JD(J2000)", JulianDay(time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)), 2451545.0, 1e-9)
}

func TestGMST(t *testing.T) {
	within(t, "GMST", GMSTDegrees(winterNight), 204.198105, 0.05)
}

func TestLocalSidereal(t *testing.T) {
	lst := LocalSiderealDegrees(winterNight, -118.2437)
	within(t, "LST", lst, 85.954405, 0.05)
	if lst < 0 || lst >= 360 {
		t.Errorf("LST out of range: %v", lst)
	}
}

func TestAltAzRegressionM31FromLosAngeles(t *testing.T) {
	// M31 (RA 0h42m44s, Dec +41°16'09") from Los Angeles on a January
	// evening: setting in the northwest.
	alt, az := AltAz(0.712306, 41.26917, 34.0522, -118.2437, winterNight)
	within(t, "altitude", alt, 31.849, 0.06)
	within(t, "azimuth", az, 301.156, 0.1)
}

func TestAltAzZenith(t *testing.T) {
	// A target on the meridian with Dec equal to the latitude sits at
	// the zenith.
	lat, lon := 34.0522, -118.2437
	ra := LocalSiderealDegrees(winterNight, lon) / 15.0
	alt, _ := AltAz(ra, lat, lat, lon, winterNight)
	within(t, "zenith altitude", alt, 90.0, 1e-6)
}

func TestAltAzMeridianSouth(t *testing.T) {
	// Hour angle zero, Dec below latitude: due south.
	lat, lon := 34.0522, -118.2437
	ra := LocalSiderealDegrees(winterNight, lon) / 15.0
	alt, az := AltAz(ra, lat-50.0, lat, lon, winterNight)
	within(t, "meridian altitude", alt, 40.0, 1e-6)
	within(t, "meridian azimuth", az, 180.0, 1e-6)
}

func TestSunPosition(t *testing.T) {
	ra, dec := SunPosition(solsticeNoon)
	// At the June solstice the Sun stands at RA ~6h, Dec ~+23.44 deg.
	within(t, "sun RA", ra, 6.0439, 0.02)
	within(t, "sun Dec", dec, 23.4347, 0.02)

	ra, dec = SunPosition(winterNight)
	within(t, "sun RA (january)", ra, 19.7655, 0.02)
	within(t, "sun Dec (january)", dec, -21.2063, 0.02)
}

func TestMoonPosition(t *testing.T) {
	ra, dec := MoonPosition(winterNight)
	within(t, "moon RA", ra, 23.2196, 0.05)
	within(t, "moon Dec", dec, -8.1757, 0.1)
}

func TestPlanetPositions(t *testing.T) {
	tests := []struct {
		body    string
		ra, dec float64
	}{
		{"mercury", 18.0664, -22.2439},
		{"venus", 17.2609, -21.6126},
		{"mars", 18.5557, -23.8997},
		{"jupiter", 2.2436, 12.3255},
		{"saturn", 22.4548, -11.4241},
		{"uranus", 3.0976, 17.1305},
		{"neptune", 23.7267, -3.1148},
		{"pluto", 20.1506, -22.9770},
	}

	for _, tc := range tests {
		t.Run(tc.body, func(t *testing.T) {
			ra, dec, err := PlanetPosition(tc.body, winterNight)
			if err != nil {
				t.Fatalf("PlanetPosition failed: %v", err)
			}
			within(t, "RA", ra, tc.ra, 0.02)
			within(t, "Dec", dec, tc.dec, 0.05)
		})
	}
}

func TestPlanetPositionUnknownBody(t *testing.T) {
	if _, _, err := PlanetPosition("vulcan", winterNight); err == nil {
		t.Error("expected error for unknown body")
	}
	// The Earth-Moon barycenter is internal, not a target.
	if _, _, err := PlanetPosition("embary", winterNight); err == nil {
		t.Error("expected error for embary")
	}
}

func TestPlanetsList(t *testing.T) {
	bodies := Planets()
	if len(bodies) != 8 {
		t.Fatalf("Planets() returned %d bodies", len(bodies))
	}
	for _, b := range bodies {
		if _, _, err := PlanetPosition(b, winterNight); err != nil {
			t.Errorf("PlanetPosition(%s) failed: %v", b, err)
		}
	}
}
