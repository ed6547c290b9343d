package domain

import "time"

// Prediction is a point-in-time arrival estimate for a (route, stop) pair.
// It is ephemeral: it has no identity beyond the fetch, and is only
// persisted as an audit row when the caller logs it.
//
// StopsAway and DistanceMiles are best-effort: nil means the upstream
// extension block was absent and the value is unknown.
type Prediction struct {
	Route            string     `json:"route"`
	StopID           string     `json:"stop_id"`
	ArrivalTime      time.Time  `json:"arrival_time"`
	MinutesAway      int        `json:"minutes_away"`
	StopsAway        *int       `json:"stops_away,omitempty"`
	DistanceMiles    *float64   `json:"distance_miles,omitempty"`
	DeviationMinutes *int       `json:"deviation_minutes,omitempty"`
	FetchedAt        time.Time  `json:"fetched_at"`
}

// VehicleActivity is one vehicle's progress report on a route. DelaySeconds
// is the upstream delay measurement; ProgressStatus is free-text and may be
// empty. Never persisted.
type VehicleActivity struct {
	Route           string
	VehicleRef      string
	StopPointRef    string
	DelaySeconds    int
	ProgressStatus  string
	ExpectedArrival *time.Time
}

// RouteStatuses partitions every known route into cancelled or active.
// Recomputed on each query; absence of vehicle activity is the cancellation
// signal.
type RouteStatuses struct {
	Cancelled      []string `json:"cancelled_routes"`
	Active         []string `json:"active_routes"`
	CountCancelled int      `json:"count_cancelled"`
	CountActive    int      `json:"count_active"`
}
