package hilltop

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
)

// Site is one entry of a SiteList response. Fields holds every child element
// by tag; Location is set when coordinates were requested.
type Site struct {
	Name     string
	Fields   map[string]string
	Location *Location
}

// Location holds either easting/northing (Location=Yes) or NZGD2000
// latitude/longitude (Location=LatLong).
type Location struct {
	Easting   float64 `json:"easting,omitempty"`
	Northing  float64 `json:"northing,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// SiteListRequest filters a SiteList request. All fields are optional.
type SiteListRequest struct {
	Location       string
	Measurement    string
	Collection     string
	SiteParameters []string
}

// CollectionMember is one (collection, site, measurement) row of a CollectionList.
type CollectionMember struct {
	Collection  string
	Site        string
	Measurement string
	FileName    string
}

// SampleParameter summarizes one WQ Sample parameter at a site.
type SampleParameter struct {
	Name string
	From time.Time
	To   time.Time
}

// DataRequest selects one GetData series.
type DataRequest struct {
	Site           string
	Measurement    string
	From           string
	To             string
	AggMethod      string
	AggInterval    string
	Alignment      string
	QualityCodes   bool
	ApplyPrecision bool
	TSType         string
}

const defaultAlignment = "00:00"

// SiteList returns the sites of the hts file, optionally filtered by
// measurement or collection.
func (c *Client) SiteList(ctx context.Context, r SiteListRequest) ([]Site, error) {
	var resp siteListResponse
	err := c.fetch(ctx, Request{
		Type:           RequestSiteList,
		Location:       r.Location,
		Measurement:    r.Measurement,
		Collection:     r.Collection,
		SiteParameters: r.SiteParameters,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("site list: %w", err)
	}

	sites := make([]Site, 0, len(resp.Sites))
	for _, s := range resp.Sites {
		site := Site{Name: clean(s.Name), Fields: make(map[string]string, len(s.Fields))}
		for _, f := range s.Fields {
			site.Fields[f.XMLName.Local] = clean(f.Text)
		}
		site.Location = locationFromFields(site.Fields)
		sites = append(sites, site)
	}
	return sites, nil
}

func locationFromFields(fields map[string]string) *Location {
	num := func(keys ...string) (float64, bool) {
		for _, k := range keys {
			if v, ok := fields[k]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					return f, true
				}
			}
		}
		return 0, false
	}

	var loc Location
	e, okE := num("Easting")
	n, okN := num("Northing")
	if okE && okN {
		loc.Easting, loc.Northing = e, n
		return &loc
	}
	lat, okLat := num("Latitude", "Lat")
	lon, okLon := num("Longitude", "Long", "Lon")
	if okLat && okLon {
		loc.Latitude, loc.Longitude = lat, lon
		return &loc
	}
	return nil
}

// MeasurementNames lists every measurement name in the hts file.
func (c *Client) MeasurementNames(ctx context.Context) ([]string, error) {
	var resp measurementNamesResponse
	if err := c.fetch(ctx, Request{Type: RequestMeasurementList}, &resp); err != nil {
		return nil, fmt.Errorf("measurement names: %w", err)
	}

	seen := make(map[string]struct{}, len(resp.Measurements))
	names := make([]string, 0, len(resp.Measurements))
	for _, m := range resp.Measurements {
		name := clean(m.Name)
		if _, dup := seen[strings.ToLower(name)]; dup || name == "" {
			continue
		}
		seen[strings.ToLower(name)] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// MeasurementList returns the catalog entries of a site, filtered to
// measurement when it is not empty, and merges them into catalog. A server
// error yields an empty list.
func (c *Client) MeasurementList(ctx context.Context, catalog domain.MeasurementCatalog, site, measurement string) ([]domain.MeasurementInfo, error) {
	var resp measurementListResponse
	err := c.fetch(ctx, Request{Type: RequestMeasurementList, Site: site, Measurement: measurement}, &resp)
	if errors.Is(err, ErrServer) {
		c.logger.Debug("measurement list returned server error", "site", site, "measurement", measurement, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("measurement list for %s: %w", site, err)
	}

	infos := parseMeasurementList(site, resp)
	if catalog != nil {
		catalog.Put(site, infos)
	}

	if measurement == "" {
		return infos, nil
	}
	filtered := infos[:0]
	for _, info := range infos {
		if strings.EqualFold(info.Measurement, measurement) {
			filtered = append(filtered, info)
		}
	}
	return filtered, nil
}

// SiteInfo returns every site table field of a site.
func (c *Client) SiteInfo(ctx context.Context, site string) (map[string]string, error) {
	var resp siteListResponse
	if err := c.fetch(ctx, Request{Type: RequestSiteInfo, Site: site}, &resp); err != nil {
		return nil, fmt.Errorf("site info for %s: %w", site, err)
	}
	if len(resp.Sites) == 0 {
		return nil, fmt.Errorf("site info for %s: %w", site, ErrUnknownSite)
	}

	fields := make(map[string]string, len(resp.Sites[0].Fields))
	for _, f := range resp.Sites[0].Fields {
		if text := clean(f.Text); text != "" {
			fields[f.XMLName.Local] = text
		}
	}
	return fields, nil
}

// CollectionList returns every collection member in the hts file.
func (c *Client) CollectionList(ctx context.Context) ([]CollectionMember, error) {
	var resp collectionListResponse
	if err := c.fetch(ctx, Request{Type: RequestCollectionList}, &resp); err != nil {
		return nil, fmt.Errorf("collection list: %w", err)
	}

	var out []CollectionMember
	for _, col := range resp.Collections {
		for _, item := range col.Items {
			out = append(out, CollectionMember{
				Collection:  clean(col.Name),
				Site:        clean(item.SiteName),
				Measurement: clean(item.Measurement),
				FileName:    clean(item.Filename),
			})
		}
	}
	return out, nil
}

// GetData fetches one series. The measurement is looked up in catalog first
// and fetched with MeasurementList on a miss; an unknown measurement or a
// server error yields an empty series.
func (c *Client) GetData(ctx context.Context, catalog domain.MeasurementCatalog, r DataRequest) (domain.Series, error) {
	key := domain.GroupKey{Site: r.Site, Measurement: r.Measurement}
	empty := domain.Series{Info: domain.MeasurementInfo{Site: r.Site, Measurement: r.Measurement}}

	info, ok := catalog.Get(r.Site, r.Measurement)
	if ok {
		c.metrics.MeasurementCache.WithLabelValues("hit").Inc()
	} else {
		c.metrics.MeasurementCache.WithLabelValues("miss").Inc()
		if _, err := c.MeasurementList(ctx, catalog, r.Site, r.Measurement); err != nil {
			return empty, err
		}
		if info, ok = catalog.Get(r.Site, r.Measurement); !ok {
			c.logger.Debug("measurement not found at site", "site", r.Site, "measurement", r.Measurement)
			return empty, nil
		}
	}

	if skipDataType(info.DataType) {
		return empty, fmt.Errorf("get data %s: %w: %s", key, ErrNotImplemented, info.DataType)
	}

	alignment := r.Alignment
	if alignment == "" {
		alignment = defaultAlignment
	}
	gauging := isGauging(info)

	var resp getDataResponse
	err := c.fetch(ctx, Request{
		Type:         RequestGetData,
		Site:         r.Site,
		Measurement:  r.Measurement,
		QualityCodes: r.QualityCodes,
		TSType:       r.TSType,
		Native:       gauging,
		AggMethod:    r.AggMethod,
		AggInterval:  r.AggInterval,
		From:         r.From,
		To:           r.To,
		Alignment:    alignment,
	}, &resp)
	if errors.Is(err, ErrServer) {
		c.logger.Debug("get data returned server error", "site", r.Site, "measurement", r.Measurement, "error", err)
		return domain.Series{Info: info}, nil
	}
	if err != nil {
		return empty, fmt.Errorf("get data %s: %w", key, err)
	}
	if resp.Measurement == nil {
		return domain.Series{Info: info}, nil
	}

	var obs []domain.Observation
	var rowErrs []error
	if gauging {
		obs, rowErrs = parseGauging(key, info, resp.Measurement.Data.V)
	} else {
		obs, rowErrs = parseEvents(key, info, resp.Measurement.Data.E, r.ApplyPrecision)
	}
	for _, e := range rowErrs {
		c.logger.Warn("skipping malformed row", "site", r.Site, "measurement", r.Measurement, "error", e)
	}
	return domain.Series{Info: info, Observations: obs}, nil
}

// WQSampleParameters lists the parameters recorded on WQ samples at a site
// with the first and last sample time of each.
func (c *Client) WQSampleParameters(ctx context.Context, site string) ([]SampleParameter, error) {
	var resp getDataResponse
	err := c.fetch(ctx, Request{Type: RequestGetData, Site: site, Measurement: domain.WQSampleMeasurement}, &resp)
	if err != nil {
		return nil, fmt.Errorf("wq sample parameters for %s: %w", site, err)
	}
	if resp.Measurement == nil {
		return nil, nil
	}

	ranges := make(map[string]*SampleParameter)
	for _, e := range resp.Measurement.Data.E {
		t, err := parseTime(clean(e.T))
		if err != nil || t.IsZero() {
			continue
		}
		for _, p := range e.Parameters {
			name := clean(p.Name)
			sp, ok := ranges[name]
			if !ok {
				ranges[name] = &SampleParameter{Name: name, From: t, To: t}
				continue
			}
			if t.Before(sp.From) {
				sp.From = t
			}
			if t.After(sp.To) {
				sp.To = t
			}
		}
	}

	out := make([]SampleParameter, 0, len(ranges))
	for _, sp := range ranges {
		out = append(out, *sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
