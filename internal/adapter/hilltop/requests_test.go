package hilltop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	siteTeachers = "Manawatu at Teachers College"
	siteOhau     = "Ohau at Rongomatane"

	siteListXML = `<?xml version="1.0" encoding="ISO-8859-1"?>
<HilltopServer>
<Agency>Horizons</Agency>
<Site Name="Manawatu at Teachers College"><Easting>1822000</Easting><Northing>5530000</Northing></Site>
<Site Name="Ohau at Rongomatane"><Latitude>-40.68</Latitude><Longitude>175.23</Longitude></Site>
<Site Name="Unlocated"/>
</HilltopServer>`

	siteInfoXML = `<HilltopServer>
<Site Name="Ohau at Rongomatane"><Catchment>Ohau</Catchment><Region>Horowhenua</Region><Blank></Blank></Site>
</HilltopServer>`

	collectionListXML = `<HilltopServer>
<Collection Name="SoE Rivers">
<Item><SiteName>Manawatu at Teachers College</SiteName><Measurement>Total Phosphorus</Measurement><Filename>wq.hts</Filename></Item>
<Item><SiteName>Ohau at Rongomatane</SiteName><Measurement>Total Phosphorus</Measurement></Item>
</Collection>
</HilltopServer>`

	measurementListXML = `<?xml version="1.0" encoding="ISO-8859-1"?>
<HilltopServer>
<Agency>Horizons</Agency>
<DataSource Name="WQ Data" NumItems="1">
<TSType>StdSeries</TSType><DataType>WQData</DataType><Interpolation>Discrete</Interpolation>
<From>2000-01-01T10:00:00</From><To>2023-06-01T09:30:00</To>
<Measurement Name="Total Phosphorus"><Units>g/m3</Units><Format>#.###</Format><RequestAs>Total Phosphorus</RequestAs></Measurement>
</DataSource>
<DataSource Name="Gauging Results" NumItems="15">
<TSType>StdSeries</TSType><DataType>GaugingResults</DataType><Interpolation>Discrete</Interpolation>
<Measurement Name="Flow"><Units>m3/s</Units><Format>#.###</Format><Item>2</Item><Divisor>1000</Divisor><RequestAs>Flow [Gauging Results]</RequestAs></Measurement>
</DataSource>
<DataSource Name="WQ Sample" NumItems="1">
<TSType>StdSeries</TSType><DataType>WQSample</DataType><Interpolation>Discrete</Interpolation>
<Measurement Name="WQ Sample"><RequestAs>WQ Sample</RequestAs></Measurement>
</DataSource>
<DataSource Name="Cross Section" NumItems="1">
<TSType>StdSeries</TSType><DataType>HydSection</DataType>
<Measurement Name="Section"><RequestAs>Section</RequestAs></Measurement>
</DataSource>
</HilltopServer>`

	wqDataXML = `<?xml version="1.0" encoding="ISO-8859-1"?>
<Hilltop>
<Agency>Horizons</Agency>
<Measurement SiteName="Manawatu at Teachers College">
<DataSource Name="WQ Data" NumItems="1"><TSType>StdSeries</TSType><DataType>WQData</DataType></DataSource>
<Data DateFormat="Calendar" NumItems="1">
<E><T>2020-01-15T10:30:00</T><Value>0.0123</Value><Parameter Name="Lab" Value="ARL"/><QualityCode>600</QualityCode></E>
<E><T>2020-02-12T11:00:00</T><Value>&lt;0.004</Value></E>
<E><T>2020-03-10T09:15:00</T><Value>&gt;2</Value></E>
</Data>
</Measurement>
</Hilltop>`

	gaugingXML = `<Hilltop>
<Measurement SiteName="Manawatu at Teachers College">
<Data DateFormat="mowsecs" NumItems="15">
<V>2524608000 1234 5678 90</V>
<V>2524694400 1300 -1 90</V>
</Data>
</Measurement>
</Hilltop>`

	wqSampleXML = `<Hilltop>
<Measurement SiteName="Ohau at Rongomatane">
<Data DateFormat="Calendar" NumItems="1">
<E><T>2020-01-15T10:30:00</T><Parameter Name="Water Temperature" Value="12.5"/><Parameter Name="E. coli" Value="&lt;1"/></E>
<E><T>2020-03-15T10:30:00</T><Parameter Name="E. coli" Value="40"/></E>
</Data>
</Measurement>
</Hilltop>`
)

// hilltopServer routes requests to canned responses and counts MeasurementList calls.
func hilltopServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var listCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("Request") {
		case "SiteList":
			writeXML(w, siteListXML)
		case "SiteInfo":
			if q.Get("Site") != siteOhau {
				writeXML(w, `<HilltopServer></HilltopServer>`)
				return
			}
			writeXML(w, siteInfoXML)
		case "CollectionList":
			writeXML(w, collectionListXML)
		case "MeasurementList":
			listCalls.Add(1)
			writeXML(w, measurementListXML)
		case "GetData":
			switch q.Get("Measurement") {
			case "Total Phosphorus":
				assert.Equal(t, "00:00", q.Get("Alignment"))
				assert.Empty(t, q.Get("Format"))
				writeXML(w, wqDataXML)
			case "Flow [Gauging Results]":
				assert.Equal(t, "Native", q.Get("Format"))
				writeXML(w, gaugingXML)
			case "WQ Sample":
				writeXML(w, wqSampleXML)
			default:
				writeXML(w, serverErrorXML)
			}
		default:
			http.Error(w, "unknown request", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &listCalls
}

func TestClient_SiteList(t *testing.T) {
	srv, _ := hilltopServer(t)

	sites, err := testClient(t, srv.URL).SiteList(context.Background(), SiteListRequest{Location: "Yes"})
	require.NoError(t, err)
	require.Len(t, sites, 3)

	assert.Equal(t, siteTeachers, sites[0].Name)
	assert.Equal(t, &Location{Easting: 1822000, Northing: 5530000}, sites[0].Location)
	assert.Equal(t, &Location{Latitude: -40.68, Longitude: 175.23}, sites[1].Location)
	assert.Nil(t, sites[2].Location)
	assert.Equal(t, "1822000", sites[0].Fields["Easting"])
}

func TestClient_SiteInfo(t *testing.T) {
	srv, _ := hilltopServer(t)
	c := testClient(t, srv.URL)

	fields, err := c.SiteInfo(context.Background(), siteOhau)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Catchment": "Ohau", "Region": "Horowhenua"}, fields)

	_, err = c.SiteInfo(context.Background(), "Nowhere")
	assert.ErrorIs(t, err, ErrUnknownSite)
}

func TestClient_CollectionList(t *testing.T) {
	srv, _ := hilltopServer(t)

	members, err := testClient(t, srv.URL).CollectionList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []CollectionMember{
		{Collection: "SoE Rivers", Site: siteTeachers, Measurement: "Total Phosphorus", FileName: "wq.hts"},
		{Collection: "SoE Rivers", Site: siteOhau, Measurement: "Total Phosphorus"},
	}, members)
}

func TestClient_MeasurementList(t *testing.T) {
	srv, _ := hilltopServer(t)
	cache := NewMeasurementCache(10)

	infos, err := testClient(t, srv.URL).MeasurementList(context.Background(), cache, siteTeachers, "total phosphorus")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "Total Phosphorus", infos[0].Measurement)
	assert.Equal(t, "WQData", infos[0].DataType)
	assert.Equal(t, 3, infos[0].Precision)
	assert.Equal(t, time.Date(2000, 1, 1, 10, 0, 0, 0, time.UTC), infos[0].From)

	gauging, ok := cache.Get(siteTeachers, "Flow [Gauging Results]")
	require.True(t, ok, "every measurement of the site is cached")
	assert.Equal(t, 2, gauging.Item)
	assert.Equal(t, 1000.0, gauging.Divisor)

	_, ok = cache.Get(siteTeachers, "Section")
	assert.False(t, ok, "hydrology sections are skipped")
}

func TestClient_MeasurementList_ServerErrorIsEmpty(t *testing.T) {
	srv, _ := flakyServer(t, 0, serverErrorXML)

	infos, err := testClient(t, srv.URL).MeasurementList(context.Background(), NewMeasurementCache(1), siteOhau, "")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestClient_GetData_WQData(t *testing.T) {
	srv, listCalls := hilltopServer(t)
	c := testClient(t, srv.URL)
	cache := NewMeasurementCache(10)
	req := DataRequest{Site: siteTeachers, Measurement: "Total Phosphorus", ApplyPrecision: true}

	series, err := c.GetData(context.Background(), cache, req)
	require.NoError(t, err)

	assert.Equal(t, "WQData", series.Info.DataType)
	require.Len(t, series.Observations, 3)
	first := series.Observations[0]
	assert.Equal(t, domain.GroupKey{Site: siteTeachers, Measurement: "Total Phosphorus"}, first.Key)
	assert.Equal(t, time.Date(2020, 1, 15, 10, 30, 0, 0, time.UTC), first.Time)
	assert.Equal(t, "0.012", first.Raw)
	assert.Equal(t, "600", first.QualityCode)
	assert.Equal(t, "ARL", first.Parameters["Lab"])
	assert.Equal(t, "<0.004", series.Observations[1].Raw)
	assert.Equal(t, ">2", series.Observations[2].Raw)

	_, err = c.GetData(context.Background(), cache, req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), listCalls.Load(), "second call is served from the cache")
}

func TestClient_GetData_Gauging(t *testing.T) {
	srv, _ := hilltopServer(t)

	series, err := testClient(t, srv.URL).GetData(context.Background(), NewMeasurementCache(10),
		DataRequest{Site: siteTeachers, Measurement: "Flow [Gauging Results]"})
	require.NoError(t, err)
	require.Len(t, series.Observations, 1)
	assert.Equal(t, "5.678", series.Observations[0].Raw)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), series.Observations[0].Time)
}

func TestClient_GetData_UnknownMeasurementIsEmpty(t *testing.T) {
	srv, _ := hilltopServer(t)

	series, err := testClient(t, srv.URL).GetData(context.Background(), NewMeasurementCache(10),
		DataRequest{Site: siteTeachers, Measurement: "Dissolved Oxygen"})
	require.NoError(t, err)
	assert.Empty(t, series.Observations)
	assert.Equal(t, "Dissolved Oxygen", series.Info.Measurement)
}

func TestClient_GetData_NotImplemented(t *testing.T) {
	srv, _ := hilltopServer(t)
	cache := NewMeasurementCache(10)
	cache.Put(siteTeachers, []domain.MeasurementInfo{{Site: siteTeachers, Measurement: "Section", DataType: "HydSection"}})

	_, err := testClient(t, srv.URL).GetData(context.Background(), cache,
		DataRequest{Site: siteTeachers, Measurement: "Section"})
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestClient_WQSampleParameters(t *testing.T) {
	srv, _ := hilltopServer(t)

	params, err := testClient(t, srv.URL).WQSampleParameters(context.Background(), siteOhau)
	require.NoError(t, err)
	assert.Equal(t, []SampleParameter{
		{Name: "E. coli", From: time.Date(2020, 1, 15, 10, 30, 0, 0, time.UTC), To: time.Date(2020, 3, 15, 10, 30, 0, 0, time.UTC)},
		{Name: "Water Temperature", From: time.Date(2020, 1, 15, 10, 30, 0, 0, time.UTC), To: time.Date(2020, 1, 15, 10, 30, 0, 0, time.UTC)},
	}, params)
}

func TestExtractor_WQSampleIsFlattened(t *testing.T) {
	srv, _ := hilltopServer(t)
	e := NewExtractor(testClient(t, srv.URL), DataRequest{})

	series, err := e.Extract(context.Background(), NewMeasurementCache(10),
		domain.Target{Site: siteOhau, Measurement: domain.WQSampleMeasurement})
	require.NoError(t, err)
	require.Len(t, series.Observations, 3)
	for _, o := range series.Observations {
		assert.Equal(t, domain.WQSampleMeasurement, o.Key.Measurement)
		assert.NotEmpty(t, o.Key.Parameter)
	}
}

func TestTargetLister(t *testing.T) {
	srv, _ := hilltopServer(t)
	c := testClient(t, srv.URL)

	t.Run("configured sites", func(t *testing.T) {
		targets, err := NewTargetLister(c, []string{siteOhau}, []string{"Flow", "Total Phosphorus"}).Targets(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []domain.Target{
			{Site: siteOhau, Measurement: "Flow"},
			{Site: siteOhau, Measurement: "Total Phosphorus"},
		}, targets)
	})

	t.Run("sites listed from the server", func(t *testing.T) {
		targets, err := NewTargetLister(c, nil, []string{"Total Phosphorus"}).Targets(context.Background())
		require.NoError(t, err)
		assert.Len(t, targets, 3)
		assert.Equal(t, siteTeachers, targets[0].Site)
	})
}
