// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultSimbadURL is the SIMBAD TAP synchronous query endpoint.
const DefaultSimbadURL = "https://simbad.cds.unistra.fr/simbad/sim-tap/sync"

// Simbad resolves names against the CDS SIMBAD TAP service.
type Simbad struct {
	baseURL string
	client  *http.Client
}

// NewSimbad returns a SIMBAD client. Empty baseURL uses the public
// CDS endpoint; a nil httpClient gets a default with a 30s timeout.
func NewSimbad(baseURL string, httpClient *http.Client) *Simbad {
	if baseURL == "" {
		baseURL = DefaultSimbadURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Simbad{baseURL: baseURL, client: httpClient}
}

func (s *Simbad) Name() string { return "simbad" }

// simbadResponse is the TAP json format: column metadata plus rows of
// positional values.
type simbadResponse struct {
	Data [][]json.RawMessage `json:"data"`
}

func (s *Simbad) Resolve(ctx context.Context, name string) (*Target, error) {
	adql := fmt.Sprintf(
		"SELECT TOP 1 basic.main_id, basic.ra, basic.dec, basic.otype_txt, allfluxes.V"+
			" FROM basic LEFT JOIN allfluxes ON basic.oid = allfluxes.oidref"+
			" JOIN ident ON basic.oid = ident.oidref"+
			" WHERE ident.id = '%s'", escapeADQL(name))

	q := url.Values{}
	q.Set("request", "doQuery")
	q.Set("lang", "adql")
	q.Set("format", "json")
	q.Set("query", adql)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
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

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &CatalogError{Catalog: s.Name(), Err: err}
	}

	var tap simbadResponse
	if err := json.Unmarshal(body, &tap); err != nil {
		return nil, &CatalogError{Catalog: s.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(tap.Data) == 0 {
		return nil, ErrNotFound
	}

	row := tap.Data[0]
	if len(row) < 3 {
		return nil, &CatalogError{Catalog: s.Name(), Err: fmt.Errorf("row has %d columns", len(row))}
	}

	var mainID string
	var raDeg, decDeg float64
	if err := json.Unmarshal(row[0], &mainID); err != nil {
		return nil, &CatalogError{Catalog: s.Name(), Err: err}
	}
	if err := json.Unmarshal(row[1], &raDeg); err != nil {
		return nil, &CatalogError{Catalog: s.Name(), Err: err}
	}
	if err := json.Unmarshal(row[2], &decDeg); err != nil {
		return nil, &CatalogError{Catalog: s.Name(), Err: err}
	}

	t := &Target{
		Name:          mainID,
		RAHours:       raDeg / 15.0,
		DecDegrees:    decDeg,
		SourceCatalog: s.Name(),
		ResolvedAt:    time.Now().UTC(),
	}
	if len(row) > 3 {
		var otype string
		if json.Unmarshal(row[3], &otype) == nil {
			t.ObjectType = otype
		}
	}
	if len(row) > 4 {
		var flux float64
		if json.Unmarshal(row[4], &flux) == nil {
			t.Magnitude = mag(flux)
		}
	}
	return t, nil
}

// Suggest is not supported by the TAP endpoint.
func (s *Simbad) Suggest(context.Context, string) []string { return nil }

// escapeADQL doubles single quotes per the ADQL string literal rules.
func escapeADQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
