package hilltop

import (
	"context"
	"fmt"
	"strings"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
)

// Extractor fetches one series per target using a shared request template.
type Extractor struct {
	client   *Client
	template DataRequest
}

// NewExtractor creates an Extractor. Site and Measurement of template are
// replaced per target.
func NewExtractor(client *Client, template DataRequest) *Extractor {
	return &Extractor{client: client, template: template}
}

// Extract fetches the target's series. WQ Sample series are flattened to one
// observation per sample parameter.
func (e *Extractor) Extract(ctx context.Context, catalog domain.MeasurementCatalog, target domain.Target) (domain.Series, error) {
	req := e.template
	req.Site = target.Site
	req.Measurement = target.Measurement

	series, err := e.client.GetData(ctx, catalog, req)
	if err != nil {
		return series, err
	}
	if strings.EqualFold(target.Measurement, domain.WQSampleMeasurement) {
		series.Observations = series.SampleObservations()
	}
	e.client.metrics.ObservationsExtracted.Add(float64(len(series.Observations)))
	return series, nil
}

// TargetLister expands configured sites and measurements into targets.
type TargetLister struct {
	client       *Client
	sites        []string
	measurements []string
}

// NewTargetLister creates a TargetLister. With no sites configured, every
// site that records a measurement is a target for it.
func NewTargetLister(client *Client, sites, measurements []string) *TargetLister {
	return &TargetLister{client: client, sites: sites, measurements: measurements}
}

// Targets returns the (site, measurement) pairs of one run.
func (l *TargetLister) Targets(ctx context.Context) ([]domain.Target, error) {
	var targets []domain.Target
	for _, m := range l.measurements {
		sites := l.sites
		if len(sites) == 0 {
			listed, err := l.client.SiteList(ctx, SiteListRequest{Measurement: m})
			if err != nil {
				return nil, fmt.Errorf("list sites for %s: %w", m, err)
			}
			sites = make([]string, 0, len(listed))
			for _, s := range listed {
				sites = append(sites, s.Name)
			}
		}
		for _, s := range sites {
			targets = append(targets, domain.Target{Site: s, Measurement: m})
		}
	}
	return targets, nil
}
