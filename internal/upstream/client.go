package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ridewatch/transit-alerts/internal/domain"
	"github.com/ridewatch/transit-alerts/internal/metrics"
)

// Client queries the SIRI vehicle-monitoring and stop-monitoring endpoints.
// Transport failures and non-2xx responses are retried under the bounded
// RetryPolicy; a 2xx body that doesn't carry the expected nesting is an
// empty result, not an error — retrying won't change a structurally
// different response.
type Client struct {
	httpClient *http.Client
	apiKey     string
	vehicleURL string
	stopURL    string
	retry      RetryPolicy
	limiter    *RateLimiter
	rateLimit  int
	logger     *slog.Logger
}

type ClientOption func(*Client)

// WithRateLimiter enforces a per-route request budget before each call.
func WithRateLimiter(rl *RateLimiter, perSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rl
		c.rateLimit = perSecond
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(apiKey, vehicleURL, stopURL string, timeout time.Duration, retry RetryPolicy, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		vehicleURL: vehicleURL,
		stopURL:    stopURL,
		retry:      retry,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchVehicleActivity returns every vehicle's current progress on the
// route. An empty slice means the route has no active vehicles right now.
func (c *Client) FetchVehicleActivity(ctx context.Context, route string) ([]domain.VehicleActivity, error) {
	if c.limiter != nil && !c.limiter.Allow(ctx, route, c.rateLimit) {
		return nil, domain.ErrUpstreamBudget
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("LineRef", route)
	params.Set("VehicleMonitoringDetailLevel", "calls")

	env, err := c.fetch(ctx, "vehicle-monitoring", c.vehicleURL, params)
	if err != nil {
		return nil, err
	}

	var activities []domain.VehicleActivity
	for _, delivery := range env.Siri.ServiceDelivery.VehicleMonitoringDelivery {
		for _, va := range delivery.VehicleActivity {
			j := va.MonitoredVehicleJourney
			activities = append(activities, domain.VehicleActivity{
				Route:           route,
				VehicleRef:      j.VehicleRef,
				StopPointRef:    j.MonitoredCall.StopPointRef,
				DelaySeconds:    j.Delay,
				ProgressStatus:  j.ProgressStatus,
				ExpectedArrival: parseSiriTime(j.MonitoredCall.ExpectedArrivalTime),
			})
		}
	}
	return activities, nil
}

// FetchStopPredictions returns the next few raw arrival records for a stop
// on the route, soonest first. An empty slice is the "no data" sentinel
// input for the normalizer.
func (c *Client) FetchStopPredictions(ctx context.Context, route, stopID string) ([]StopVisit, error) {
	if c.limiter != nil && !c.limiter.Allow(ctx, route, c.rateLimit) {
		return nil, domain.ErrUpstreamBudget
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("LineRef", route)
	params.Set("MonitoringRef", stopID)
	params.Set("MaximumStopVisits", "3")

	env, err := c.fetch(ctx, "stop-monitoring", c.stopURL, params)
	if err != nil {
		return nil, err
	}

	var visits []StopVisit
	for _, delivery := range env.Siri.ServiceDelivery.StopMonitoringDelivery {
		for _, visit := range delivery.MonitoredStopVisit {
			call := visit.MonitoredVehicleJourney.MonitoredCall
			visits = append(visits, StopVisit{
				StopPointRef:        call.StopPointRef,
				ExpectedArrivalTime: call.ExpectedArrivalTime,
				AimedArrivalTime:    call.AimedArrivalTime,
				StopsFromCall:       call.Extensions.Distances.StopsFromCall,
				DistanceFromCallM:   call.Extensions.Distances.DistanceFromCall,
			})
		}
	}
	return visits, nil
}

func (c *Client) fetch(ctx context.Context, op, endpoint string, params url.Values) (*siriEnvelope, error) {
	var env siriEnvelope
	attempt := 0

	err := c.retry.Do(ctx, op, func() error {
		attempt++
		if attempt > 1 {
			metrics.UpstreamRetries.Inc()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues("error").Inc()
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			metrics.UpstreamRequests.WithLabelValues("error").Inc()
			io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("%s returned %d", op, resp.StatusCode)
		}

		metrics.UpstreamRequests.WithLabelValues("ok").Inc()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}

		if jerr := json.Unmarshal(body, &env); jerr != nil {
			// A 2xx body that isn't the expected shape won't improve on
			// retry. Treat it as an empty delivery.
			c.logger.Warn("unexpected upstream response shape, treating as empty",
				"op", op,
				"error", jerr,
			)
			env = siriEnvelope{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func parseSiriTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
