package domain

import "time"

// ChannelStatus tracks the confirmation state of a notification channel
// binding. A subscription starts with no binding, moves to pending when a
// binding is created, and becomes confirmed once the user accepts it.
type ChannelStatus string

const (
	ChannelNone      ChannelStatus = "none"
	ChannelPending   ChannelStatus = "pending"
	ChannelConfirmed ChannelStatus = "confirmed"
)

// Subscription is a user's interest in a (route, stop) pair. Uniqueness key
// is (user_id, route): re-subscribing the same route replaces the stop.
type Subscription struct {
	UserID        string        `json:"user_id"`
	Route         string        `json:"route"`
	StopID        string        `json:"stop_id"`
	Email         string        `json:"email,omitempty"`
	ChannelArn    *string       `json:"channel_arn,omitempty"`
	ChannelStatus ChannelStatus `json:"channel_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type NotificationAttempt struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Route          string    `json:"route"`
	Subject        string    `json:"subject"`
	AttemptNumber  int       `json:"attempt_number"`
	Status         string    `json:"status"`
	HTTPStatusCode *int      `json:"http_status_code,omitempty"`
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type DeadLetter struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Route         string     `json:"route"`
	Subject       string     `json:"subject"`
	TotalAttempts int        `json:"total_attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
}
