package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

// GetSubscriptions returns every subscription held by the user.
func (s *PostgresStore) GetSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, route, stop_id, email, channel_arn, channel_status, created_at, updated_at
		FROM subscriptions WHERE user_id = $1
		ORDER BY route
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		err := rows.Scan(
			&sub.UserID, &sub.Route, &sub.StopID, &sub.Email,
			&sub.ChannelArn, &sub.ChannelStatus, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// PutSubscription inserts or replaces a subscription. The (user_id, route)
// key makes re-subscribing the same route an update, never a duplicate row.
func (s *PostgresStore) PutSubscription(ctx context.Context, sub domain.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (user_id, route, stop_id, email, channel_arn, channel_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, route) DO UPDATE SET
			stop_id = EXCLUDED.stop_id,
			email = EXCLUDED.email,
			channel_arn = EXCLUDED.channel_arn,
			channel_status = EXCLUDED.channel_status,
			updated_at = EXCLUDED.updated_at
	`, sub.UserID, sub.Route, sub.StopID, sub.Email, sub.ChannelArn, sub.ChannelStatus, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes one (user, route) record.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, userID, route string) error {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM subscriptions WHERE user_id = $1 AND route = $2
	`, userID, route)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetSubscriptionChannelArn returns the channel binding ARN for one
// (user, route) record, or ErrNotFound when the record or binding is absent.
func (s *PostgresStore) GetSubscriptionChannelArn(ctx context.Context, userID, route string) (string, error) {
	var arn *string
	err := s.pool.QueryRow(ctx, `
		SELECT channel_arn FROM subscriptions WHERE user_id = $1 AND route = $2
	`, userID, route).Scan(&arn)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying channel arn: %w", err)
	}
	if arn == nil {
		return "", domain.ErrNotFound
	}
	return *arn, nil
}

// ListAllDistinctRoutes returns every route with at least one subscriber.
func (s *PostgresStore) ListAllDistinctRoutes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT route FROM subscriptions ORDER BY route
	`)
	if err != nil {
		return nil, fmt.Errorf("querying distinct routes: %w", err)
	}
	defer rows.Close()

	var routes []string
	for rows.Next() {
		var route string
		if err := rows.Scan(&route); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

// GetUserEmail returns the profile email for the user.
func (s *PostgresStore) GetUserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.pool.QueryRow(ctx, `
		SELECT email FROM user_profiles WHERE user_id = $1
	`, userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying user email: %w", err)
	}
	return email, nil
}

// PutUserEmail inserts or replaces the profile email for the user.
func (s *PostgresStore) PutUserEmail(ctx context.Context, userID, email string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, email, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, updated_at = NOW()
	`, userID, email)
	if err != nil {
		return fmt.Errorf("upserting user email: %w", err)
	}
	return nil
}
