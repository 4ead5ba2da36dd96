package hilltop

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
)

// mowsecsEpoch is the Hilltop epoch for Native (mowsecs) time stamps.
var mowsecsEpoch = time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC)

// Hilltop times carry no zone; they are read as UTC wall-clock values.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

// parseTime parses a Hilltop time stamp. Empty text yields the zero time.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q", s)
}

// convertMowsecs converts seconds since 1940-01-01 to a time.
func convertMowsecs(secs int64) time.Time {
	return mowsecsEpoch.Add(time.Duration(secs) * time.Second)
}

// precisionFromFormat counts the digits after the decimal point of a Hilltop
// number format such as "#.###".
func precisionFromFormat(format string) int {
	parts := strings.Split(strings.TrimSpace(format), ".")
	if len(parts) == 2 {
		return len(parts[1])
	}
	return 0
}

func clean(s string) string {
	return strings.TrimSpace(domain.StripNonASCII(s))
}

func skipDataType(dataType string) bool {
	return dataType == dataTypeHydSection || dataType == dataTypeHydFacecard
}

const (
	dataTypeHydSection    = "HydSection"
	dataTypeHydFacecard   = "HydFacecard"
	dataTypeGauging       = "GaugingResults"
	dataTypeWQData        = "WQData"
	dataTypeWQSample      = "WQSample"
	dataSourceGaugingName = "Gauging Results"
)

// parseMeasurementList flattens DataSource elements into catalog entries.
// Hydrology section and facecard sources are skipped, as are measurements
// without a RequestAs name.
func parseMeasurementList(site string, resp measurementListResponse) []domain.MeasurementInfo {
	var out []domain.MeasurementInfo
	for _, ds := range resp.DataSources {
		dataType := clean(ds.DataType)
		if dataType == "" || skipDataType(dataType) {
			continue
		}
		from, _ := parseTime(ds.From)
		to, _ := parseTime(ds.To)

		for _, m := range ds.Measurements {
			name := clean(m.RequestAs)
			if name == "" {
				continue
			}
			item := 1
			if n, err := strconv.Atoi(clean(m.Item)); err == nil && n > 0 {
				item = n
			}
			var divisor float64
			if d, err := strconv.ParseFloat(clean(m.Divisor), 64); err == nil && d != 0 {
				divisor = d
			}
			vmStart, _ := parseTime(m.VMStart)
			vmFinish, _ := parseTime(m.VMFinish)

			out = append(out, domain.MeasurementInfo{
				Site:          site,
				DataSource:    clean(ds.Name),
				Measurement:   name,
				Units:         clean(m.Units),
				Precision:     precisionFromFormat(clean(m.Format)),
				Item:          item,
				Divisor:       divisor,
				TSType:        clean(ds.TSType),
				DataType:      dataType,
				Interpolation: clean(ds.Interpolation),
				From:          from,
				To:            to,
				VMStart:       vmStart,
				VMFinish:      vmFinish,
			})
		}
	}
	return out
}

func isGauging(info domain.MeasurementInfo) bool {
	return info.DataType == dataTypeGauging || info.DataSource == dataSourceGaugingName
}

// parseGauging decodes Native <V> rows: "mowsecs v1 v2 ...". The item column
// is selected, negative values are dropped and the divisor applied.
func parseGauging(key domain.GroupKey, info domain.MeasurementInfo, rows []string) ([]domain.Observation, []error) {
	var out []domain.Observation
	var errs []error
	for _, row := range rows {
		fields := strings.Fields(clean(row))
		if len(fields) <= info.Item {
			errs = append(errs, fmt.Errorf("gauging row %q has no item %d", row, info.Item))
			continue
		}
		secs, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("gauging row %q: parse mowsecs: %w", row, err))
			continue
		}
		v, err := domain.ParseValue(fields[info.Item])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v.Number < 0 {
			continue
		}
		if info.Divisor != 0 {
			v.Number /= info.Divisor
			v.Integer = false
		}
		out = append(out, domain.Observation{
			Key:  key,
			Time: convertMowsecs(secs),
			Raw:  domain.FormatNumber(v),
		})
	}
	return out, errs
}

// parseEvents decodes <E> rows. WQData rows carry the raw text of <Value>,
// WQSample rows carry only parameters and every other type reads the item
// column I{item}.
func parseEvents(key domain.GroupKey, info domain.MeasurementInfo, rows []eventElement, applyPrecision bool) ([]domain.Observation, []error) {
	valueTag := "I" + strconv.Itoa(info.Item)
	qualityTag := "Q" + strconv.Itoa(info.Item)
	if info.DataType == dataTypeWQData {
		valueTag, qualityTag = "Value", "QualityCode"
	}

	out := make([]domain.Observation, 0, len(rows))
	var errs []error
	for _, e := range rows {
		t, err := parseTime(clean(e.T))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t.IsZero() {
			errs = append(errs, errors.New("row without time"))
			continue
		}

		o := domain.Observation{Key: key, Time: t}
		if info.DataType != dataTypeWQSample {
			raw, _ := e.field(valueTag)
			o.Raw = clean(raw)
			if applyPrecision {
				o.Raw = roundRaw(o.Raw, info.Precision)
			}
			if q, ok := e.field(qualityTag); ok {
				o.QualityCode = clean(q)
			}
		}
		if len(e.Parameters) > 0 {
			o.Parameters = make(map[string]string, len(e.Parameters))
			for _, p := range e.Parameters {
				o.Parameters[clean(p.Name)] = clean(p.Value)
			}
		}
		out = append(out, o)
	}
	return out, errs
}

// roundRaw rounds plain numeric text to precision. Censored or unparseable
// text is returned unchanged.
func roundRaw(raw string, precision int) string {
	v, err := domain.ParseValue(raw)
	if err != nil || v.Censor != domain.NotCensored {
		return raw
	}
	return domain.FormatNumber(domain.ApplyPrecision(v, precision))
}
