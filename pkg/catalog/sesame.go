// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSesameURL is the CDS Sesame name resolver in ASCII output
// mode, querying SIMBAD, NED and VizieR in one shot.
const DefaultSesameURL = "https://cds.unistra.fr/cgi-bin/nph-sesame/-op/SNV"

// Sesame is the last-resort resolver. Its ASCII output carries the
// J2000 position on a line starting with "%J".
type Sesame struct {
	baseURL string
	client  *http.Client
}

// NewSesame returns a Sesame client. Empty baseURL uses the CDS
// endpoint.
func NewSesame(baseURL string, httpClient *http.Client) *Sesame {
	if baseURL == "" {
		baseURL = DefaultSesameURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Sesame{baseURL: baseURL, client: httpClient}
}

func (s *Sesame) Name() string { return "sesame" }

func (s *Sesame) Resolve(ctx context.Context, name string) (*Target, error) {
	u := s.baseURL + "?" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &CatalogError{Catalog: s.Name(), Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &CatalogError{Catalog: s.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CatalogError{Catalog: s.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return s.parse(io.LimitReader(resp.Body, 1<<20), name)
}

// parse walks the ASCII response. Relevant lines:
//
//	%J 10.68470833 +41.26875000 = 00 42 44.33 +41 16 07.5
//	%C.0 G
//	#!SIMBAD: Nothing found
func (s *Sesame) parse(r io.Reader, query string) (*Target, error) {
	var (
		found   bool
		raDeg   float64
		decDeg  float64
		objType string
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "%J "):
			fields := strings.Fields(line[3:])
			if len(fields) < 2 {
				continue
			}
			ra, err1 := strconv.ParseFloat(fields[0], 64)
			dec, err2 := strconv.ParseFloat(fields[1], 64)
			if err1 != nil || err2 != nil {
				return nil, &CatalogError{Catalog: s.Name(), Err: fmt.Errorf("bad position line %q", line)}
			}
			raDeg, decDeg, found = ra, dec, true
		case strings.HasPrefix(line, "%C.0 ") && objType == "":
			objType = strings.TrimSpace(line[5:])
		}
		if found && objType != "" {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &CatalogError{Catalog: s.Name(), Err: err}
	}
	if !found {
		return nil, ErrNotFound
	}

	return &Target{
		Name:          query,
		RAHours:       raDeg / 15.0,
		DecDegrees:    decDeg,
		ObjectType:    objType,
		SourceCatalog: s.Name(),
		ResolvedAt:    time.Now().UTC(),
	}, nil
}

// Suggest is not supported by the ASCII interface.
func (s *Sesame) Suggest(context.Context, string) []string { return nil }
