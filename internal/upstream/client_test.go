package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

const vehicleBody = `{
  "Siri": {
    "ServiceDelivery": {
      "VehicleMonitoringDelivery": [
        {
          "VehicleActivity": [
            {
              "MonitoredVehicleJourney": {
                "LineRef": "Q1",
                "VehicleRef": "NYCT_401",
                "ProgressStatus": "delayed",
                "Delay": 720,
                "MonitoredCall": {
                  "StopPointRef": "502184",
                  "ExpectedArrivalTime": "2025-06-01T12:12:00Z"
                }
              }
            }
          ]
        }
      ]
    }
  }
}`

const stopBody = `{
  "Siri": {
    "ServiceDelivery": {
      "StopMonitoringDelivery": [
        {
          "MonitoredStopVisit": [
            {
              "MonitoredVehicleJourney": {
                "LineRef": "B1",
                "MonitoredCall": {
                  "StopPointRef": "308209",
                  "ExpectedArrivalTime": "2025-06-01T12:07:00Z",
                  "AimedArrivalTime": "2025-06-01T12:03:00Z",
                  "Extensions": {
                    "Distances": {"StopsFromCall": 3, "DistanceFromCall": 1207.0}
                  }
                }
              }
            }
          ]
        }
      ]
    }
  }
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func zeroDelayPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func newTestClient(serverURL string, maxAttempts int, opts ...ClientOption) *Client {
	return NewClient("test-key", serverURL, serverURL, time.Second, zeroDelayPolicy(maxAttempts), testLogger(), opts...)
}

func TestFetchVehicleActivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("LineRef"); got != "Q1" {
			t.Errorf("LineRef = %q, want Q1", got)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q, want test-key", got)
		}
		w.Write([]byte(vehicleBody))
	}))
	defer server.Close()

	activities, err := newTestClient(server.URL, 3).FetchVehicleActivity(context.Background(), "Q1")
	if err != nil {
		t.Fatalf("FetchVehicleActivity() error: %v", err)
	}

	if len(activities) != 1 {
		t.Fatalf("got %d activities, want 1", len(activities))
	}
	a := activities[0]
	if a.DelaySeconds != 720 {
		t.Errorf("DelaySeconds = %d, want 720", a.DelaySeconds)
	}
	if a.ProgressStatus != "delayed" {
		t.Errorf("ProgressStatus = %q, want delayed", a.ProgressStatus)
	}
	if a.ExpectedArrival == nil {
		t.Error("ExpectedArrival should be parsed")
	}
}

func TestFetchStopPredictions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stopBody))
	}))
	defer server.Close()

	visits, err := newTestClient(server.URL, 3).FetchStopPredictions(context.Background(), "B1", "308209")
	if err != nil {
		t.Fatalf("FetchStopPredictions() error: %v", err)
	}

	if len(visits) != 1 {
		t.Fatalf("got %d visits, want 1", len(visits))
	}
	v := visits[0]
	if v.ExpectedArrivalTime != "2025-06-01T12:07:00Z" {
		t.Errorf("ExpectedArrivalTime = %q", v.ExpectedArrivalTime)
	}
	if v.StopsFromCall == nil || *v.StopsFromCall != 3 {
		t.Errorf("StopsFromCall = %v, want 3", v.StopsFromCall)
	}
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(vehicleBody))
	}))
	defer server.Close()

	activities, err := newTestClient(server.URL, 3).FetchVehicleActivity(context.Background(), "Q1")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("made %d calls, want 3", calls.Load())
	}
	if len(activities) != 1 {
		t.Errorf("got %d activities, want 1", len(activities))
	}
}

func TestFetch_ExhaustedRetriesReturnUpstreamError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).FetchVehicleActivity(context.Background(), "Q1")

	var uerr *domain.UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected *domain.UpstreamError, got %v", err)
	}
	if uerr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", uerr.Attempts)
	}
	if calls.Load() != 3 {
		t.Errorf("made %d calls, want exactly 3 (bounded attempts)", calls.Load())
	}
}

func TestFetch_MalformedBodyIsEmptyResultNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`<html>maintenance page</html>`))
	}))
	defer server.Close()

	activities, err := newTestClient(server.URL, 3).FetchVehicleActivity(context.Background(), "Q1")
	if err != nil {
		t.Fatalf("malformed 2xx body should not be an error, got %v", err)
	}
	if len(activities) != 0 {
		t.Errorf("got %d activities, want 0", len(activities))
	}
	if calls.Load() != 1 {
		t.Errorf("made %d calls, want 1 (structural problems are not retried)", calls.Load())
	}
}

func TestFetch_MissingNestingIsEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Siri":{"ServiceDelivery":{}}}`))
	}))
	defer server.Close()

	activities, err := newTestClient(server.URL, 3).FetchVehicleActivity(context.Background(), "Q1")
	if err != nil {
		t.Fatalf("missing nesting should not be an error, got %v", err)
	}
	if len(activities) != 0 {
		t.Errorf("got %d activities, want 0", len(activities))
	}
}

func TestFetch_RateLimiterDeniesWithoutCalling(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(vehicleBody))
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	rl := NewRateLimiter(rdb, testLogger())
	client := newTestClient(server.URL, 3, WithRateLimiter(rl, 2))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := client.FetchVehicleActivity(ctx, "Q1"); err != nil {
			t.Fatalf("call %d should be within budget: %v", i+1, err)
		}
	}

	_, err := client.FetchVehicleActivity(ctx, "Q1")
	if !errors.Is(err, domain.ErrUpstreamBudget) {
		t.Fatalf("expected ErrUpstreamBudget, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream saw %d calls, want 2 (denied call never attempted)", calls.Load())
	}
}

func TestRetryPolicy_DelayCapped(t *testing.T) {
	p := DefaultRetryPolicy(5, time.Second)

	if d := p.delay(1); d != time.Second {
		t.Errorf("delay(1) = %v, want 1s", d)
	}
	if d := p.delay(2); d != 2*time.Second {
		t.Errorf("delay(2) = %v, want 2s", d)
	}
	if d := p.delay(5); d != 4*time.Second {
		t.Errorf("delay(5) = %v, want cap 4s", d)
	}
}
