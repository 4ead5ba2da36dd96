package hilltop

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHTS           = "data.hts"
	headerContentType = "Content-Type"
	contentTypeXML    = "text/xml"

	measurementNamesXML = `<?xml version="1.0" encoding="ISO-8859-1"?>
<HilltopServer>
<Agency>Horizons</Agency>
<Measurement Name="Flow"/>
<Measurement Name="Total Phosphorus"/>
<Measurement Name="flow"/>
</HilltopServer>`

	serverErrorXML = `<?xml version="1.0"?>
<HilltopServer><Error>No data found for site</Error></HilltopServer>`
)

func testClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(baseURL, testHTS, 5*time.Second,
		observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts...)
	require.NoError(t, err)
	return c
}

func writeXML(w http.ResponseWriter, body string) {
	w.Header().Set(headerContentType, contentTypeXML)
	_, _ = io.WriteString(w, body)
}

// flakyServer fails the first `failures` requests with a 502, then serves body.
func flakyServer(t *testing.T, failures int32, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= failures {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		writeXML(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewClient_InvalidHTS(t *testing.T) {
	_, err := NewClient(testBase, "data.dsn", time.Second, observability.NewMetricsForTesting(), slog.Default())
	assert.ErrorIs(t, err, ErrInvalidHTS)
}

func TestClient_MeasurementNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+testHTS, r.URL.Path)
		assert.Equal(t, "Hilltop", r.URL.Query().Get("Service"))
		assert.Equal(t, "MeasurementList", r.URL.Query().Get("Request"))
		writeXML(w, measurementNamesXML)
	}))
	defer srv.Close()

	names, err := testClient(t, srv.URL).MeasurementNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Flow", "Total Phosphorus"}, names)
}

func TestClient_RetriesOnSchedule(t *testing.T) {
	srv, calls := flakyServer(t, 2, measurementNamesXML)
	fc := clockwork.NewFakeClock()
	c := testClient(t, srv.URL, WithClock(fc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		names []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		names, err := c.MeasurementNames(ctx)
		done <- result{names, err}
	}()

	for _, d := range []time.Duration{10 * time.Second, 20 * time.Second} {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(d)
	}

	res := <-done
	require.NoError(t, res.err)
	assert.Len(t, res.names, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_TooManyAttempts(t *testing.T) {
	srv, calls := flakyServer(t, 100, measurementNamesXML)
	fc := clockwork.NewFakeClock()
	c := testClient(t, srv.URL, WithClock(fc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.MeasurementNames(ctx)
		done <- err
	}()

	for _, d := range DefaultRetryDelays {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(d)
	}

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(4), calls.Load())
}

func TestClient_RetryWaitHonorsContext(t *testing.T) {
	srv, calls := flakyServer(t, 100, measurementNamesXML)
	fc := clockwork.NewFakeClock()
	c := testClient(t, srv.URL, WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.MeasurementNames(ctx)
		done <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, fc.BlockUntilContext(waitCtx, 1))
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ServerErrorIsNotRetried(t *testing.T) {
	srv, calls := flakyServer(t, 0, serverErrorXML)
	c := testClient(t, srv.URL, WithClock(clockwork.NewFakeClock()))

	_, err := c.MeasurementNames(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServer)
	assert.Contains(t, err.Error(), "No data found for site")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_MalformedXMLIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			writeXML(w, "<HilltopServer><Measurement")
			return
		}
		writeXML(w, measurementNamesXML)
	}))
	defer srv.Close()
	c := testClient(t, srv.URL, WithRetryDelays(time.Millisecond))

	names, err := c.MeasurementNames(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_NonASCIIBytesAreStripped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeXML)
		_, _ = w.Write([]byte("<HilltopServer><Measurement Name=\"Temp \xb0C\"/></HilltopServer>"))
	}))
	defer srv.Close()

	names, err := testClient(t, srv.URL).MeasurementNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Temp C"}, names)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv, calls := flakyServer(t, 100, measurementNamesXML)
	c := testClient(t, srv.URL, WithRetryDelays())

	for i := 0; i < breakerFailures; i++ {
		_, err := c.MeasurementNames(context.Background())
		require.ErrorIs(t, err, ErrTooManyAttempts)
	}

	_, err := c.MeasurementNames(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(breakerFailures), calls.Load())
}

func TestClient_RateLimit(t *testing.T) {
	srv, _ := flakyServer(t, 0, measurementNamesXML)
	c := testClient(t, srv.URL, WithRateLimit(1000))

	for i := 0; i < 3; i++ {
		_, err := c.MeasurementNames(context.Background())
		require.NoError(t, err)
	}
	assert.InDelta(t, 1000, float64(c.limiter.Limit()), 0.001)
}
