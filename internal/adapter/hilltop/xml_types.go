package hilltop

import "encoding/xml"

// Hilltop answers with a HilltopServer or Hilltop root element depending on
// the request, so root types leave XMLName unset and accept either.

// anyField is a generic child element decoded through the ",any" rule.
type anyField struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

type errorProbe struct {
	Error *string `xml:"Error"`
}

type siteListResponse struct {
	Sites []siteElement `xml:"Site"`
}

type siteElement struct {
	Name   string     `xml:"Name,attr"`
	Fields []anyField `xml:",any"`
}

type measurementNamesResponse struct {
	Measurements []struct {
		Name string `xml:"Name,attr"`
	} `xml:"Measurement"`
}

type measurementListResponse struct {
	DataSources []dataSourceElement `xml:"DataSource"`
}

type dataSourceElement struct {
	Name          string               `xml:"Name,attr"`
	NumItems      int                  `xml:"NumItems,attr"`
	TSType        string               `xml:"TSType"`
	DataType      string               `xml:"DataType"`
	Interpolation string               `xml:"Interpolation"`
	From          string               `xml:"From"`
	To            string               `xml:"To"`
	Measurements  []measurementElement `xml:"Measurement"`
}

type measurementElement struct {
	Name      string `xml:"Name,attr"`
	Units     string `xml:"Units"`
	Format    string `xml:"Format"`
	Item      string `xml:"Item"`
	Divisor   string `xml:"Divisor"`
	RequestAs string `xml:"RequestAs"`
	VMStart   string `xml:"VMStart"`
	VMFinish  string `xml:"VMFinish"`
}

type collectionListResponse struct {
	Collections []struct {
		Name  string `xml:"Name,attr"`
		Items []struct {
			SiteName    string `xml:"SiteName"`
			Measurement string `xml:"Measurement"`
			Filename    string `xml:"Filename"`
		} `xml:"Item"`
	} `xml:"Collection"`
}

type getDataResponse struct {
	Measurement *struct {
		SiteName string `xml:"SiteName,attr"`
		Data     struct {
			DateFormat string         `xml:"DateFormat,attr"`
			E          []eventElement `xml:"E"`
			V          []string       `xml:"V"`
		} `xml:"Data"`
	} `xml:"Measurement"`
}

// eventElement is one <E> row. Item columns (I1, Q1, ...) and WQ fields
// (Value, QualityCode) are collected through ",any" and looked up by tag.
type eventElement struct {
	T          string             `xml:"T"`
	Parameters []parameterElement `xml:"Parameter"`
	Fields     []anyField         `xml:",any"`
}

type parameterElement struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

func (e eventElement) field(tag string) (string, bool) {
	for _, f := range e.Fields {
		if f.XMLName.Local == tag {
			return f.Text, true
		}
	}
	return "", false
}
