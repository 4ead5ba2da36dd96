package domain

// Target is one (site, measurement) pair the pipeline extracts per run.
type Target struct {
	Site        string
	Measurement string
}

func (t Target) String() string { return t.Site + "/" + t.Measurement }

// MeasurementCatalog caches measurement metadata per site. Callers own the
// catalog and pass it into every fetch that needs measurement metadata.
type MeasurementCatalog interface {
	// Get looks up a measurement by site and case-insensitive name.
	Get(site, measurement string) (MeasurementInfo, bool)

	// Put merges catalog entries for one site.
	Put(site string, infos []MeasurementInfo)
}
