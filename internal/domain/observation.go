package domain

import (
	"fmt"
	"time"
)

// CensorCode records whether a value was reported as an exact number or only
// as being below or above a detection limit.
type CensorCode string

const (
	NotCensored CensorCode = "not_censored"
	LessThan    CensorCode = "less_than"
	GreaterThan CensorCode = "greater_than"
)

// WQSampleMeasurement is the Hilltop placeholder measurement that carries
// per-sample parameters rather than a value series.
const WQSampleMeasurement = "WQ Sample"

// GroupKey identifies one time series: a (site, measurement) pair, or a
// (site, measurement, parameter) triple for grouped sample parameters.
type GroupKey struct {
	Site        string `json:"site"`
	Measurement string `json:"measurement"`
	Parameter   string `json:"parameter,omitempty"`
}

func (k GroupKey) String() string {
	if k.Parameter == "" {
		return fmt.Sprintf("%s/%s", k.Site, k.Measurement)
	}
	return fmt.Sprintf("%s/%s/%s", k.Site, k.Measurement, k.Parameter)
}

// Less orders keys by site, then measurement, then parameter.
func (k GroupKey) Less(o GroupKey) bool {
	if k.Site != o.Site {
		return k.Site < o.Site
	}
	if k.Measurement != o.Measurement {
		return k.Measurement < o.Measurement
	}
	return k.Parameter < o.Parameter
}

// Observation is one measured data point as delivered by the Hilltop parser.
// Raw holds the textual value field untouched, e.g. "0.012" or "<0.005".
type Observation struct {
	Key  GroupKey
	Time time.Time
	Raw  string

	// Optional per-sample extras carried through to the output.
	QualityCode string
	Parameters  map[string]string
}

// ResolvedObservation is an Observation with a finite numeric value. The
// censor code survives resolution so consumers can still tell which values
// were originally reported against a detection limit.
type ResolvedObservation struct {
	Key         GroupKey          `json:"key"`
	Time        time.Time         `json:"time"`
	Raw         string            `json:"raw"`
	Value       float64           `json:"value"`
	CensorCode  CensorCode        `json:"censor_code"`
	Method      Method            `json:"dtl_method"`
	DTLRatio    *float64          `json:"dtl_ratio,omitempty"`
	QualityCode string            `json:"quality_code,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	ProcessedAt time.Time         `json:"processed_at"`
	RunID       string            `json:"run_id,omitempty"`
}

// GroupStatistics summarizes censoring within one group. It is computed
// during a single resolution call and not retained.
type GroupStatistics struct {
	TotalCount             int     `json:"total_count"`
	CensoredCount          int     `json:"censored_count"`
	DistinctCensoredValues int     `json:"distinct_censored_values"`
	CensoredRatio          float64 `json:"censored_ratio"`
	Clamped                bool    `json:"clamped"`
	HeavilyCensored        bool    `json:"heavily_censored"`
}

// MeasurementInfo is the catalog entry for one measurement of one site, as
// returned by a Hilltop MeasurementList request.
type MeasurementInfo struct {
	Site          string    `json:"site"`
	DataSource    string    `json:"data_source"`
	Measurement   string    `json:"measurement"`
	Units         string    `json:"units,omitempty"`
	Precision     int       `json:"precision"`
	Item          int       `json:"item"`
	Divisor       float64   `json:"divisor,omitempty"`
	TSType        string    `json:"ts_type,omitempty"`
	DataType      string    `json:"data_type"`
	Interpolation string    `json:"interpolation,omitempty"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	VMStart       time.Time `json:"vm_start,omitempty"`
	VMFinish      time.Time `json:"vm_finish,omitempty"`
}

// Series is the flattened result of one GetData request.
type Series struct {
	Info         MeasurementInfo
	Observations []Observation
}

// SampleObservations flattens the per-sample parameters of a WQ Sample
// series into one observation per (sample, parameter), keyed by parameter so
// each parameter is resolved as its own group.
func (s Series) SampleObservations() []Observation {
	var out []Observation
	for _, o := range s.Observations {
		for name, raw := range o.Parameters {
			out = append(out, Observation{
				Key: GroupKey{
					Site:        o.Key.Site,
					Measurement: WQSampleMeasurement,
					Parameter:   name,
				},
				Time:        o.Time,
				Raw:         raw,
				QualityCode: o.QualityCode,
			})
		}
	}
	return out
}
