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

// DefaultNEDURL is the NASA/IPAC Extragalactic Database object lookup
// endpoint.
const DefaultNEDURL = "https://ned.ipac.caltech.edu/srs/ObjectLookup"

// NED resolves extragalactic object names via the NED lookup service.
type NED struct {
	baseURL string
	client  *http.Client
}

// NewNED returns a NED client. Empty baseURL uses the IPAC endpoint.
func NewNED(baseURL string, httpClient *http.Client) *NED {
	if baseURL == "" {
		baseURL = DefaultNEDURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &NED{baseURL: baseURL, client: httpClient}
}

func (n *NED) Name() string { return "ned" }

// nedResponse mirrors the ObjectLookup payload. ResultCode 3 means a
// known, unambiguous object.
type nedResponse struct {
	ResultCode int `json:"ResultCode"`
	Preferred  struct {
		Name     string `json:"Name"`
		Position struct {
			RA  float64 `json:"RA"`
			Dec float64 `json:"Dec"`
		} `json:"Position"`
		ObjType struct {
			Value string `json:"Value"`
		} `json:"ObjType"`
	} `json:"Preferred"`
}

func (n *NED) Resolve(ctx context.Context, name string) (*Target, error) {
	payload, err := json.Marshal(map[string]map[string]string{"name": {"v": name}})
	if err != nil {
		return nil, &CatalogError{Catalog: n.Name(), Err: err}
	}
	form := url.Values{"json": {string(payload)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &CatalogError{Catalog: n.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &CatalogError{Catalog: n.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CatalogError{Catalog: n.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &CatalogError{Catalog: n.Name(), Err: err}
	}

	var lookup nedResponse
	if err := json.Unmarshal(body, &lookup); err != nil {
		return nil, &CatalogError{Catalog: n.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if lookup.ResultCode != 3 {
		return nil, ErrNotFound
	}

	resolved := lookup.Preferred.Name
	if resolved == "" {
		resolved = name
	}
	return &Target{
		Name:          resolved,
		RAHours:       lookup.Preferred.Position.RA / 15.0,
		DecDegrees:    lookup.Preferred.Position.Dec,
		ObjectType:    lookup.Preferred.ObjType.Value,
		SourceCatalog: n.Name(),
		ResolvedAt:    time.Now().UTC(),
	}, nil
}

// Suggest is not supported by the lookup endpoint.
func (n *NED) Suggest(context.Context, string) []string { return nil }
