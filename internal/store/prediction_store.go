package store

import (
	"context"
	"fmt"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

// LogPrediction appends one served prediction to the audit log.
func (s *PostgresStore) LogPrediction(ctx context.Context, p *domain.Prediction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prediction_log (route, stop_id, arrival_time, minutes_away, stops_away, distance_miles, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.Route, p.StopID, p.ArrivalTime, p.MinutesAway, p.StopsAway, p.DistanceMiles, p.FetchedAt)
	if err != nil {
		return fmt.Errorf("inserting prediction log: %w", err)
	}
	return nil
}
