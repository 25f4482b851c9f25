// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"strings"
	"time"
)

type builtinEntry struct {
	name       string
	raHours    float64
	decDegrees float64
	objectType string
	magnitude  *float64
	aliases    []string
}

// builtinTable holds bright objects a Seestar owner asks for on most
// nights. Coordinates are J2000.
var builtinTable = []builtinEntry{
	{"M1", 5.575539, 22.0145, "SNR", mag(8.4), []string{"crab nebula", "ngc 1952", "messier 1"}},
	{"M13", 16.694898, 36.4613, "GlC", mag(5.8), []string{"hercules cluster", "ngc 6205", "messier 13"}},
	{"M31", 0.712306, 41.26917, "G", mag(3.4), []string{"andromeda", "andromeda galaxy", "ngc 224", "messier 31"}},
	{"M33", 1.564138, 30.66017, "G", mag(5.7), []string{"triangulum galaxy", "ngc 598", "messier 33"}},
	{"M42", 5.588139, -5.39111, "HII", mag(4.0), []string{"orion nebula", "ngc 1976", "messier 42"}},
	{"M45", 3.790278, 24.11667, "OpC", mag(1.6), []string{"pleiades", "seven sisters", "messier 45"}},
	{"M51", 13.497972, 47.19517, "G", mag(8.4), []string{"whirlpool galaxy", "ngc 5194", "messier 51"}},
	{"M57", 18.893082, 33.02917, "PN", mag(8.8), []string{"ring nebula", "ngc 6720", "messier 57"}},
	{"M81", 9.925881, 69.06529, "G", mag(6.9), []string{"bode's galaxy", "bodes galaxy", "ngc 3031", "messier 81"}},
	{"M82", 9.931231, 69.67970, "G", mag(8.4), []string{"cigar galaxy", "ngc 3034", "messier 82"}},
	{"M101", 14.053495, 54.34875, "G", mag(7.9), []string{"pinwheel galaxy", "ngc 5457", "messier 101"}},
	{"M104", 12.666508, -11.62305, "G", mag(8.0), []string{"sombrero galaxy", "ngc 4594", "messier 104"}},
	{"NGC 7000", 20.988556, 44.52917, "HII", mag(4.0), []string{"north america nebula", "ngc7000"}},
	{"NGC 869", 2.316667, 57.13333, "OpC", mag(5.3), []string{"double cluster", "ngc869"}},
	{"Sirius", 6.752481, -16.71612, "Star", mag(-1.46), []string{"alpha canis majoris"}},
	{"Vega", 18.615649, 38.78369, "Star", mag(0.03), []string{"alpha lyrae"}},
	{"Polaris", 2.530301, 89.26411, "Star", mag(1.98), []string{"north star", "alpha ursae minoris"}},
	{"Betelgeuse", 5.919529, 7.40706, "Star", mag(0.5), []string{"alpha orionis"}},
	{"Rigel", 5.242298, -8.20164, "Star", mag(0.13), []string{"beta orionis"}},
	{"Arcturus", 14.261030, 19.18241, "Star", mag(-0.05), []string{"alpha bootis"}},
	{"Altair", 19.846388, 8.86832, "Star", mag(0.76), []string{"alpha aquilae"}},
	{"Deneb", 20.690532, 45.28034, "Star", mag(1.25), []string{"alpha cygni"}},
	{"Albireo", 19.512022, 27.95968, "Star", mag(3.1), []string{"beta cygni"}},
}

// Builtin answers from the local object table. It never touches the
// network and sits first in the resolution chain.
type Builtin struct {
	index map[string]*builtinEntry
}

// NewBuiltin builds the lookup index over the bundled object table.
func NewBuiltin() *Builtin {
	idx := make(map[string]*builtinEntry, len(builtinTable)*3)
	for i := range builtinTable {
		e := &builtinTable[i]
		idx[normalizeKey(e.name)] = e
		for _, a := range e.aliases {
			idx[normalizeKey(a)] = e
		}
	}
	return &Builtin{index: idx}
}

func (b *Builtin) Name() string { return "builtin" }

func (b *Builtin) Resolve(_ context.Context, name string) (*Target, error) {
	e, ok := b.index[normalizeKey(name)]
	if !ok {
		return nil, ErrNotFound
	}
	return &Target{
		Name:          e.name,
		RAHours:       e.raHours,
		DecDegrees:    e.decDegrees,
		ObjectType:    e.objectType,
		Magnitude:     e.magnitude,
		SourceCatalog: b.Name(),
		ResolvedAt:    time.Now().UTC(),
	}, nil
}

// Suggest returns table entries whose name or alias contains the query.
func (b *Builtin) Suggest(_ context.Context, name string) []string {
	q := normalizeKey(name)
	if q == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for i := range builtinTable {
		e := &builtinTable[i]
		if seen[e.name] {
			continue
		}
		if strings.Contains(normalizeKey(e.name), q) {
			out = append(out, e.name)
			seen[e.name] = true
			continue
		}
		for _, a := range e.aliases {
			if strings.Contains(normalizeKey(a), q) {
				out = append(out, e.name)
				seen[e.name] = true
				break
			}
		}
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// normalizeKey collapses case and spacing so "ngc224", "NGC 224" and
// "Ngc  224" all hit the same entry. Messier designations stay glued
// ("m31"), so a space between a letter prefix and digits is only kept
// for multi-letter prefixes.
func normalizeKey(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
	var sb strings.Builder
	letters := 0
	for i, r := range s {
		if r >= '0' && r <= '9' && letters > 1 && i > 0 && s[i-1] != ' ' {
			sb.WriteByte(' ')
		}
		if r >= 'a' && r <= 'z' {
			letters++
		} else if r == ' ' || (r >= '0' && r <= '9') {
			letters = 0
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
