package hilltop

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// RequestType is a Hilltop web service request name.
type RequestType string

const (
	RequestSiteList        RequestType = "SiteList"
	RequestMeasurementList RequestType = "MeasurementList"
	RequestSiteInfo        RequestType = "SiteInfo"
	RequestCollectionList  RequestType = "CollectionList"
	RequestGetData         RequestType = "GetData"
)

var (
	ErrInvalidHTS     = errors.New("hts file name must end with .hts")
	ErrUnknownRequest = errors.New("unknown hilltop request")
)

const (
	defaultFrom = "1800-01-01"
	defaultTo   = "now"
)

// Request holds the query parameters of one Hilltop request. Zero-valued
// fields are omitted from the URL.
type Request struct {
	Type           RequestType
	Site           string
	Measurement    string
	Collection     string
	SiteParameters []string

	// Location applies to SiteList only: "Yes" for easting/northing or
	// "LatLong" for NZGD2000 coordinates.
	Location string

	// The remaining fields apply to GetData only.
	QualityCodes bool
	TSType       string // Standard, Quality or Check
	Native       bool
	AggMethod    string
	AggInterval  string
	From         string
	To           string
	Alignment    string
}

var tsTypes = map[string]string{
	"Standard": "StdSeries",
	"Quality":  "StdQualSeries",
	"Check":    "CheckSeries",
}

func validRequest(t RequestType) bool {
	switch t {
	case RequestSiteList, RequestMeasurementList, RequestSiteInfo, RequestCollectionList, RequestGetData:
		return true
	}
	return false
}

// BuildURL renders the Hilltop web service URL for a request against one hts
// file. The time interval is always the last query component of a GetData URL
// apart from the alignment.
func BuildURL(baseURL, hts string, req Request) (string, error) {
	if !strings.HasSuffix(hts, ".hts") {
		return "", fmt.Errorf("%w: %q", ErrInvalidHTS, hts)
	}
	if !validRequest(req.Type) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRequest, req.Type)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	var b strings.Builder
	b.WriteString(baseURL)
	b.WriteString(escape(hts))
	b.WriteString("?Service=Hilltop&Request=")
	b.WriteString(string(req.Type))

	add := func(key, value string) {
		b.WriteByte('&')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
	}

	if req.Site != "" {
		add("Site", escape(req.Site))
	}
	if req.Measurement != "" {
		add("Measurement", escape(req.Measurement))
	}
	if req.Collection != "" {
		add("Collection", escape(req.Collection))
	}
	if len(req.SiteParameters) > 0 {
		add("SiteParameters", escape(strings.Join(req.SiteParameters, ",")))
	}
	if req.Location != "" && req.Type == RequestSiteList {
		add("Location", escape(req.Location))
	}

	if req.Type != RequestGetData {
		return b.String(), nil
	}

	if req.QualityCodes {
		add("ShowQuality", "Yes")
	}
	if ts, ok := tsTypes[req.TSType]; ok {
		add("tsType", ts)
	}
	if req.Native {
		add("Format", "Native")
	}
	if req.AggMethod != "" {
		add("Method", escape(req.AggMethod))
	}
	if req.AggInterval != "" {
		add("Interval", escape(req.AggInterval))
	}

	from, to := req.From, req.To
	if from == "" {
		from = defaultFrom
	}
	if to == "" {
		to = defaultTo
	}
	add("TimeInterval", escape(from)+"/"+escape(to))

	if req.Alignment != "" {
		add("Alignment", req.Alignment)
	}
	return b.String(), nil
}

// escape percent-encodes a query value with %20 for spaces and keeps '/'
// literal, which is what Hilltop servers expect in site names.
func escape(s string) string {
	e := url.QueryEscape(s)
	e = strings.ReplaceAll(e, "+", "%20")
	return strings.ReplaceAll(e, "%2F", "/")
}
