// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package catalog resolves astronomical object names to equatorial
// coordinates.
//
// Every source implements the Client interface. Five clients exist:
//
//   - builtin: a local table of bright, commonly requested objects.
//     No network, never fails, answers in microseconds.
//   - ephemeris: solar system bodies computed locally from pkg/astro.
//   - simbad: the CDS SIMBAD TAP service, queried with ADQL.
//   - ned: the NASA/IPAC Extragalactic Database object lookup.
//   - sesame: the CDS Sesame resolver, a catch-all over several
//     catalogs.
//
// Remote clients are fragile in ways local ones are not, so they are
// wrapped by Resilient, which adds a per-query timeout, a circuit
// breaker and a courtesy rate limit. The resolver in pkg/resolver
// walks clients in priority order and takes the first hit.
//
// A lookup miss is ErrNotFound; anything else is a CatalogError and
// counts against the backend's circuit breaker.
package catalog
