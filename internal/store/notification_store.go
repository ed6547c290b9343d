package store

import (
	"context"
	"fmt"

	"github.com/ridewatch/transit-alerts/internal/domain"
)

// NotificationAttemptRecord holds data for inserting a notification attempt.
type NotificationAttemptRecord struct {
	UserID         string
	Route          string
	Subject        string
	AttemptNumber  int
	Status         string
	HTTPStatusCode *int
	ResponseTimeMs int
	ErrorMessage   string
}

// RecordNotificationAttempt inserts a notification attempt into the database.
func (s *PostgresStore) RecordNotificationAttempt(ctx context.Context, rec NotificationAttemptRecord) error {
	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_attempts (user_id, route, subject, attempt_number, status, http_status_code, response_time_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.UserID, rec.Route, rec.Subject, rec.AttemptNumber, rec.Status, rec.HTTPStatusCode, rec.ResponseTimeMs, errMsg)
	if err != nil {
		return fmt.Errorf("inserting notification attempt: %w", err)
	}
	return nil
}

// DeadLetterRecord holds data for inserting a dead letter entry.
type DeadLetterRecord struct {
	UserID        string
	Route         string
	Subject       string
	TotalAttempts int
	LastError     string
}

// RecordDeadLetter adds a permanently failed notification to the dead letter table.
func (s *PostgresStore) RecordDeadLetter(ctx context.Context, rec DeadLetterRecord) error {
	var lastErr *string
	if rec.LastError != "" {
		lastErr = &rec.LastError
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letters (user_id, route, subject, total_attempts, last_error)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.UserID, rec.Route, rec.Subject, rec.TotalAttempts, lastErr)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// ListNotificationAttempts returns recent attempts with optional filtering.
func (s *PostgresStore) ListNotificationAttempts(ctx context.Context, userID, route, status string, limit int) ([]domain.NotificationAttempt, error) {
	query := `SELECT id, user_id, route, subject, attempt_number, status, http_status_code, response_time_ms, error_message, created_at FROM notification_attempts`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if userID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, userID)
		argIdx++
	}
	if route != "" {
		conditions = append(conditions, fmt.Sprintf("route = $%d", argIdx))
		args = append(args, route)
		argIdx++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, status)
		argIdx++
	}

	if len(conditions) > 0 {
		query += " WHERE "
		for i, c := range conditions {
			if i > 0 {
				query += " AND "
			}
			query += c
		}
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notification attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.NotificationAttempt
	for rows.Next() {
		var a domain.NotificationAttempt
		err := rows.Scan(
			&a.ID, &a.UserID, &a.Route, &a.Subject, &a.AttemptNumber,
			&a.Status, &a.HTTPStatusCode, &a.ResponseTimeMs, &a.ErrorMessage, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning notification attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if attempts == nil {
		attempts = []domain.NotificationAttempt{}
	}
	return attempts, rows.Err()
}

// ListDeadLetters returns dead letter entries, unresolved by default.
func (s *PostgresStore) ListDeadLetters(ctx context.Context, userID string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	query := `SELECT id, user_id, route, subject, total_attempts, last_error, created_at, resolved_at, resolved_by FROM dead_letters`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if userID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, userID)
		argIdx++
	}
	if resolved {
		conditions = append(conditions, "resolved_at IS NOT NULL")
	} else {
		conditions = append(conditions, "resolved_at IS NULL")
	}

	query += " WHERE "
	for i, c := range conditions {
		if i > 0 {
			query += " AND "
		}
		query += c
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	var letters []domain.DeadLetter
	for rows.Next() {
		var dl domain.DeadLetter
		err := rows.Scan(
			&dl.ID, &dl.UserID, &dl.Route, &dl.Subject, &dl.TotalAttempts,
			&dl.LastError, &dl.CreatedAt, &dl.ResolvedAt, &dl.ResolvedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		letters = append(letters, dl)
	}

	if letters == nil {
		letters = []domain.DeadLetter{}
	}
	return letters, rows.Err()
}

// ResolveDeadLetter marks a dead letter as resolved.
func (s *PostgresStore) ResolveDeadLetter(ctx context.Context, id, resolvedBy string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE dead_letters SET resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND resolved_at IS NULL
	`, id, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolving dead letter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// NotificationStats holds aggregated notification statistics.
type NotificationStats struct {
	TotalNotifications int     `json:"total_notifications"`
	SuccessCount       int     `json:"success_count"`
	FailedCount        int     `json:"failed_count"`
	SuccessRate        float64 `json:"success_rate"`
	AvgResponseMs      float64 `json:"avg_response_ms"`
	DeadLetterCount    int     `json:"dead_letter_count"`
	ActiveSubscribers  int     `json:"active_subscribers"`
	SubscribedRoutes   int     `json:"subscribed_routes"`
}

// GetNotificationStats returns aggregated statistics from the database.
func (s *PostgresStore) GetNotificationStats(ctx context.Context) (*NotificationStats, error) {
	var stats NotificationStats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'success') AS success,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COALESCE(AVG(response_time_ms) FILTER (WHERE response_time_ms > 0), 0) AS avg_response_ms
		FROM notification_attempts
	`).Scan(&stats.TotalNotifications, &stats.SuccessCount, &stats.FailedCount, &stats.AvgResponseMs)
	if err != nil {
		return nil, fmt.Errorf("querying notification stats: %w", err)
	}

	if stats.TotalNotifications > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalNotifications) * 100
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dead_letters WHERE resolved_at IS NULL
	`).Scan(&stats.DeadLetterCount)
	if err != nil {
		return nil, fmt.Errorf("querying dead letter count: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id), COUNT(DISTINCT route) FROM subscriptions
	`).Scan(&stats.ActiveSubscribers, &stats.SubscribedRoutes)
	if err != nil {
		return nil, fmt.Errorf("querying subscriber counts: %w", err)
	}

	return &stats, nil
}
