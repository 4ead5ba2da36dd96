package hilltop

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
	"github.com/couchcryptid/hilltop-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

var (
	// ErrServer reports an <Error> element returned by the Hilltop server.
	ErrServer = errors.New("hilltop server error")

	// ErrTooManyAttempts wraps the last failure once every retry is spent.
	ErrTooManyAttempts = errors.New("hilltop request tried too many times, the server is probably down")

	ErrUnknownSite    = errors.New("site not found in hts file")
	ErrNotImplemented = errors.New("data type not implemented")
)

// DefaultRetryDelays is the wait before each retry of a failed request.
var DefaultRetryDelays = []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}

const (
	breakerFailures = 5
	breakerTimeout  = 2 * time.Minute
)

// HTTPClient is the subset of *http.Client the Hilltop client uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries one hts file on a Hilltop web server.
type Client struct {
	baseURL     string
	hts         string
	httpClient  HTTPClient
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[[]byte]
	clock       clockwork.Clock
	retryDelays []time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock sets the clock used for retry waits.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithRateLimit caps requests per second. Zero or less disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithRetryDelays replaces DefaultRetryDelays.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(c *Client) { c.retryDelays = delays }
}

// NewClient creates a Hilltop client for baseURL and the named hts file.
func NewClient(baseURL, hts string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) (*Client, error) {
	if !strings.HasSuffix(hts, ".hts") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHTS, hts)
	}

	c := &Client{
		baseURL:     baseURL,
		hts:         hts,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Inf, 1),
		clock:       clockwork.NewRealClock(),
		retryDelays: DefaultRetryDelays,
		metrics:     metrics,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "hilltop",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen {
				c.metrics.BreakerOpen.Set(1)
			} else {
				c.metrics.BreakerOpen.Set(0)
			}
		},
	})
	return c, nil
}

// fetch requests a URL, retrying on the configured schedule, and decodes the
// XML body into v. A server <Error> is returned as ErrServer without retrying.
func (c *Client) fetch(ctx context.Context, req Request, v any) error {
	u, err := BuildURL(c.baseURL, c.hts, req)
	if err != nil {
		return err
	}
	name := string(req.Type)

	for attempt := 0; ; attempt++ {
		start := time.Now()
		err = c.attempt(ctx, u, v)
		c.metrics.HilltopDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			c.metrics.HilltopRequests.WithLabelValues(name, "success").Inc()
			return nil
		case errors.Is(err, ErrServer):
			c.metrics.HilltopRequests.WithLabelValues(name, "server_error").Inc()
			return err
		case ctx.Err() != nil:
			c.metrics.HilltopRequests.WithLabelValues(name, "error").Inc()
			return ctx.Err()
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.metrics.HilltopRequests.WithLabelValues(name, "error").Inc()
			return fmt.Errorf("%s request: %w", name, err)
		}

		if attempt >= len(c.retryDelays) {
			c.metrics.HilltopRequests.WithLabelValues(name, "error").Inc()
			return fmt.Errorf("%w: %s: %w", ErrTooManyAttempts, name, err)
		}

		delay := c.retryDelays[attempt]
		c.logger.Warn("hilltop request failed, retrying",
			"request", name,
			"error", err,
			"attempt", attempt+1,
			"retry_in", delay,
		)
		c.metrics.HilltopRetries.WithLabelValues(name).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}
	}
}

// attempt performs one rate-limited, breaker-guarded round trip and decodes
// the body.
func (c *Client) attempt(ctx context.Context, u string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, u)
	})
	if err != nil {
		return err
	}
	return decode(body, v)
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hilltop request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hilltop server status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

// decode strips non-ASCII bytes, checks for a server <Error> element, and
// unmarshals the document into v.
func decode(body []byte, v any) error {
	clean := []byte(domain.StripNonASCII(string(body)))

	var probe errorProbe
	if err := newDecoder(clean).Decode(&probe); err != nil {
		return fmt.Errorf("decode xml: %w", err)
	}
	if probe.Error != nil {
		return fmt.Errorf("%w: %s", ErrServer, strings.TrimSpace(*probe.Error))
	}
	if err := newDecoder(clean).Decode(v); err != nil {
		return fmt.Errorf("decode xml: %w", err)
	}
	return nil
}

// newDecoder accepts any declared charset; the body is plain ASCII by the
// time it is decoded.
func newDecoder(b []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(b))
	d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }
	return d
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
