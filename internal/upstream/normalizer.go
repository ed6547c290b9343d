package upstream

import (
	"math"
	"time"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

const metersPerMile = 1609.34

// Normalize converts a raw stop visit into a canonical Prediction.
//
// The outcome is exactly one of: a Prediction, domain.ErrNoArrivalTime (the
// visit exists but carries no estimate), or — when the caller had no visits
// at all — domain.ErrNoData. Both sentinels mean "the bus genuinely has no
// estimate right now" and are distinct from transport errors.
//
// Arrival and "now" are converted to the same location before subtracting;
// minutes away is floored and clamped at zero so a bus already due never
// reads negative.
func Normalize(visit StopVisit, route, stopID string, now time.Time, loc *time.Location) (*domain.Prediction, error) {
	if visit.ExpectedArrivalTime == "" {
		return nil, domain.ErrNoArrivalTime
	}

	arrival, err := time.Parse(time.RFC3339, visit.ExpectedArrivalTime)
	if err != nil {
		return nil, domain.ErrNoArrivalTime
	}

	arrivalLocal := arrival.In(loc)
	nowLocal := now.In(loc)

	minutes := int(arrivalLocal.Sub(nowLocal) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}

	p := &domain.Prediction{
		Route:       route,
		StopID:      stopID,
		ArrivalTime: arrivalLocal,
		MinutesAway: minutes,
		FetchedAt:   nowLocal,
	}

	// Extension block is best-effort: absent means unknown, never a failure.
	if visit.StopsFromCall != nil && *visit.StopsFromCall >= 0 {
		stops := *visit.StopsFromCall
		p.StopsAway = &stops
	}
	if visit.DistanceFromCallM != nil && *visit.DistanceFromCallM >= 0 {
		miles := math.Round(*visit.DistanceFromCallM/metersPerMile*10) / 10
		p.DistanceMiles = &miles
	}

	if visit.AimedArrivalTime != "" {
		if aimed, err := time.Parse(time.RFC3339, visit.AimedArrivalTime); err == nil {
			dev := int(arrival.Sub(aimed) / time.Minute)
			p.DeviationMinutes = &dev
		}
	}

	return p, nil
}
