package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ridewatch/transit-alerts/internal/domain"
	"github.com/ridewatch/transit-alerts/internal/metrics"
	"github.com/ridewatch/transit-alerts/internal/upstream"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Store is the subscription persistence contract. PutSubscription must be
// atomic per (user_id, route) key; last-writer-wins is acceptable, partial
// writes are not.
type Store interface {
	GetSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error)
	PutSubscription(ctx context.Context, sub domain.Subscription) error
	DeleteSubscription(ctx context.Context, userID, route string) error
	GetSubscriptionChannelArn(ctx context.Context, userID, route string) (string, error)
	ListAllDistinctRoutes(ctx context.Context) ([]string, error)
	GetUserEmail(ctx context.Context, userID string) (string, error)
	PutUserEmail(ctx context.Context, userID, email string) error
	LogPrediction(ctx context.Context, p *domain.Prediction) error
}

// TransitClient fetches real-time data from the upstream transit API.
type TransitClient interface {
	FetchVehicleActivity(ctx context.Context, route string) ([]domain.VehicleActivity, error)
	FetchStopPredictions(ctx context.Context, route, stopID string) ([]upstream.StopVisit, error)
}

// ChannelDispatcher manages notification channel bindings and publishes
// alert messages. All calls are best-effort relative to the subscription
// record: a binding failure never corrupts the data model.
type ChannelDispatcher interface {
	CreateBinding(ctx context.Context, email, userID, route string) (arn string, status domain.ChannelStatus, err error)
	BindingStatus(ctx context.Context, arn string) (domain.ChannelStatus, error)
	RemoveBinding(ctx context.Context, arn string) error
	RemoveBindingsByEmail(ctx context.Context, email string) (int, error)
	ConfirmBinding(ctx context.Context, arn string) error
	Publish(ctx context.Context, subject, message, route string) error
}

// AlertFeed receives fired alerts for live streaming to dashboard clients.
type AlertFeed interface {
	BroadcastAlert(route, detail string, avgDelayMinutes int)
}

// Settings are the tunable thresholds for the orchestrator.
type Settings struct {
	MaxSubscriptions      int
	DelayThresholdMinutes int
	VehicleDelayThreshold int
	Location              *time.Location
}

// Service coordinates the subscription lifecycle, upstream polling and
// notification dispatch for every inbound command.
type Service struct {
	store    Store
	transit  TransitClient
	channels ChannelDispatcher
	feed     AlertFeed
	logger   *slog.Logger
	settings Settings
	now      func() time.Time
}

type Option func(*Service)

// WithFeed attaches the live alert feed.
func WithFeed(feed AlertFeed) Option {
	return func(s *Service) { s.feed = feed }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, transit TransitClient, channels ChannelDispatcher, settings Settings, logger *slog.Logger, opts ...Option) *Service {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	s := &Service{
		store:    store,
		transit:  transit,
		channels: channels,
		logger:   logger,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SubscribeResult struct {
	Message       string               `json:"message"`
	ChannelArn    string               `json:"channel_arn"`
	ChannelStatus domain.ChannelStatus `json:"channel_status"`
}

// Subscribe registers interest in a (route, stop) pair. Ordering is fixed:
// validation, then the subscription-limit check, and only then the channel
// binding — the cheap rejection happens before any external side effect.
// Re-subscribing a route the user already holds replaces the stop; a
// confirmed binding for the same email short-circuits without creating a
// duplicate.
func (s *Service) Subscribe(ctx context.Context, userID, route, stopID, email string) (*SubscribeResult, error) {
	if err := validateRouteStop(route, stopID); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	subs, err := s.store.GetSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}

	var existing *domain.Subscription
	for i := range subs {
		if subs[i].Route == route {
			existing = &subs[i]
			break
		}
	}

	if existing != nil && existing.ChannelArn != nil && existing.Email == email {
		status, serr := s.channels.BindingStatus(ctx, *existing.ChannelArn)
		if serr == nil && status == domain.ChannelConfirmed {
			updated := *existing
			updated.StopID = stopID
			updated.ChannelStatus = domain.ChannelConfirmed
			updated.UpdatedAt = s.now()
			if err := s.store.PutSubscription(ctx, updated); err != nil {
				return nil, fmt.Errorf("saving subscription: %w", err)
			}
			s.logger.Info("subscription already confirmed", "user_id", userID, "route", route)
			return &SubscribeResult{
				Message:       "Already subscribed to this route.",
				ChannelArn:    *existing.ChannelArn,
				ChannelStatus: domain.ChannelConfirmed,
			}, nil
		}
	}

	// A same-route replacement doesn't consume a new slot.
	if existing == nil && len(subs) >= s.settings.MaxSubscriptions {
		return nil, domain.ErrLimitExceeded
	}

	// Replacing a binding: drop the stale one first, best-effort.
	if existing != nil && existing.ChannelArn != nil {
		if err := s.channels.RemoveBinding(ctx, *existing.ChannelArn); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("removing stale channel binding failed",
				"user_id", userID, "route", route, "error", err)
		}
	}

	arn, status, err := s.channels.CreateBinding(ctx, email, userID, route)
	if err != nil {
		return nil, &domain.ChannelError{Op: "create binding", Err: err}
	}

	now := s.now()
	sub := domain.Subscription{
		UserID:        userID,
		Route:         route,
		StopID:        stopID,
		Email:         email,
		ChannelArn:    &arn,
		ChannelStatus: status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.PutSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("saving subscription: %w", err)
	}
	if err := s.store.PutUserEmail(ctx, userID, email); err != nil {
		s.logger.Warn("saving user email failed", "user_id", userID, "error", err)
	}

	// The welcome notification waits for confirmation — never on pending.
	if status == domain.ChannelConfirmed {
		s.publish(ctx, "Subscription Confirmed", "You're subscribed to Transit Alerts!", route)
	}

	return &SubscribeResult{
		Message:       "Subscription request sent. Please confirm your email.",
		ChannelArn:    arn,
		ChannelStatus: status,
	}, nil
}

// ConfirmChannel flips a pending binding to confirmed and sends the welcome
// notification. Models the user following the confirmation link.
func (s *Service) ConfirmChannel(ctx context.Context, userID, arn string) error {
	if arn == "" {
		return domain.NewValidationError("arn", "is required")
	}

	if err := s.channels.ConfirmBinding(ctx, arn); err != nil {
		return err
	}

	subs, err := s.store.GetSubscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}
	for _, sub := range subs {
		if sub.ChannelArn == nil || *sub.ChannelArn != arn {
			continue
		}
		sub.ChannelStatus = domain.ChannelConfirmed
		sub.UpdatedAt = s.now()
		if err := s.store.PutSubscription(ctx, sub); err != nil {
			return fmt.Errorf("saving subscription: %w", err)
		}
		s.publish(ctx, "Subscription Confirmed", "You're subscribed to Transit Alerts!", sub.Route)
	}

	return nil
}

// EmailUpdateResult reports one subscription's outcome in the email-change
// fan-out. Error is set when that item failed; the rest proceed regardless.
type EmailUpdateResult struct {
	Route         string               `json:"route"`
	ChannelArn    string               `json:"channel_arn,omitempty"`
	ChannelStatus domain.ChannelStatus `json:"channel_status,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// UpdateEmail rebinds every subscription of the user to the new address.
// Old bindings are unbound best-effort; a single failed item never aborts
// the remaining ones. The profile write at the end is single-record and
// does fail the operation.
func (s *Service) UpdateEmail(ctx context.Context, userID, newEmail string) ([]EmailUpdateResult, error) {
	if err := validateEmail(newEmail); err != nil {
		return nil, err
	}

	subs, err := s.store.GetSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}

	results := make([]EmailUpdateResult, 0, len(subs))
	for _, sub := range subs {
		res := EmailUpdateResult{Route: sub.Route}

		if sub.ChannelArn != nil {
			if err := s.channels.RemoveBinding(ctx, *sub.ChannelArn); err != nil && !errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("unbinding old channel failed",
					"user_id", userID, "route", sub.Route, "error", err)
			}
		}

		arn, status, err := s.channels.CreateBinding(ctx, newEmail, userID, sub.Route)
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}

		sub.Email = newEmail
		sub.ChannelArn = &arn
		sub.ChannelStatus = status
		sub.UpdatedAt = s.now()
		if err := s.store.PutSubscription(ctx, sub); err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}

		res.ChannelArn = arn
		res.ChannelStatus = status
		results = append(results, res)
	}

	if err := s.store.PutUserEmail(ctx, userID, newEmail); err != nil {
		return results, fmt.Errorf("saving user email: %w", err)
	}

	return results, nil
}

// DeleteSubscription removes a single (user, route) record. The channel
// binding, if any, is dropped best-effort.
func (s *Service) DeleteSubscription(ctx context.Context, userID, route string) error {
	if route == "" {
		return domain.NewValidationError("route", "is required")
	}

	arn, err := s.store.GetSubscriptionChannelArn(ctx, userID, route)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("loading channel binding: %w", err)
	}

	if err := s.store.DeleteSubscription(ctx, userID, route); err != nil {
		return err
	}

	if arn != "" {
		if err := s.channels.RemoveBinding(ctx, arn); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("removing channel binding failed",
				"user_id", userID, "route", route, "error", err)
		}
	}
	return nil
}

type UnsubscribeResult struct {
	Removed int    `json:"removed"`
	Message string `json:"message"`
}

// Unsubscribe removes all of the user's subscriptions and their bindings.
func (s *Service) Unsubscribe(ctx context.Context, userID string) (*UnsubscribeResult, error) {
	subs, err := s.store.GetSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, domain.ErrNotFound
	}

	for _, sub := range subs {
		if sub.ChannelArn != nil {
			if err := s.channels.RemoveBinding(ctx, *sub.ChannelArn); err != nil && !errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("removing channel binding failed",
					"user_id", userID, "route", sub.Route, "error", err)
			}
		}
		if err := s.store.DeleteSubscription(ctx, userID, sub.Route); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("deleting subscription failed",
				"user_id", userID, "route", sub.Route, "error", err)
		}
	}

	return &UnsubscribeResult{
		Removed: len(subs),
		Message: "You have been unsubscribed from transit alerts.",
	}, nil
}

// UnsubscribeByEmail removes every confirmed binding for the address.
// Pending-only bindings report not-found, distinctly from transport
// failures, so the caller can answer 404 rather than 500.
func (s *Service) UnsubscribeByEmail(ctx context.Context, email string) (*UnsubscribeResult, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	removed, err := s.channels.RemoveBindingsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, domain.ErrNotFound
	}

	return &UnsubscribeResult{
		Removed: removed,
		Message: fmt.Sprintf("%s has been unsubscribed from transit alerts.", email),
	}, nil
}

type StatusResult struct {
	Subscriptions []domain.Subscription `json:"subscriptions"`
	Email         string                `json:"email,omitempty"`
}

func (s *Service) GetStatus(ctx context.Context, userID string) (*StatusResult, error) {
	subs, err := s.store.GetSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}

	email, err := s.store.GetUserEmail(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("loading user email failed", "user_id", userID, "error", err)
	}

	if subs == nil {
		subs = []domain.Subscription{}
	}
	return &StatusResult{Subscriptions: subs, Email: email}, nil
}

// GetPrediction fetches and normalizes the next arrival for a stop. An
// upstream failure after retries degrades to the no-data sentinel — the
// caller sees "not found", never a crash.
func (s *Service) GetPrediction(ctx context.Context, route, stopID string) (*domain.Prediction, error) {
	if err := validateRouteStop(route, stopID); err != nil {
		return nil, err
	}

	visits, err := s.transit.FetchStopPredictions(ctx, route, stopID)
	if err != nil {
		s.logger.Error("stop monitoring unavailable", "route", route, "stop_id", stopID, "error", err)
		return nil, domain.ErrNoData
	}
	if len(visits) == 0 {
		return nil, domain.ErrNoData
	}

	p, err := upstream.Normalize(visits[0], route, stopID, s.now(), s.settings.Location)
	if err != nil {
		return nil, err
	}

	if err := s.store.LogPrediction(ctx, p); err != nil {
		s.logger.Warn("logging prediction failed", "route", route, "stop_id", stopID, "error", err)
	}

	return p, nil
}

type CheckDelayResult struct {
	Route           string `json:"route"`
	Notified        bool   `json:"notified"`
	DelayedVehicles int    `json:"delayed_vehicles"`
	AvgDelayMinutes int    `json:"avg_delay_minutes"`
	Message         string `json:"message"`
}

// CheckDelay evaluates current vehicle activity on the route and publishes
// at most one notification per call when the threshold is breached.
func (s *Service) CheckDelay(ctx context.Context, route string) (*CheckDelayResult, error) {
	if route == "" {
		return nil, domain.NewValidationError("route", "is required")
	}

	activities, err := s.transit.FetchVehicleActivity(ctx, route)
	if err != nil {
		s.logger.Error("vehicle monitoring unavailable", "route", route, "error", err)
		return &CheckDelayResult{
			Route:   route,
			Message: fmt.Sprintf("Vehicle data for route %s is currently unavailable.", route),
		}, nil
	}

	decision := EvaluateVehicleDelay(activities, s.settings.VehicleDelayThreshold)
	if !decision.ShouldNotify {
		return &CheckDelayResult{
			Route:   route,
			Message: fmt.Sprintf("Checked vehicle delay for route %s. No significant delays detected at this time.", route),
		}, nil
	}

	msg := fmt.Sprintf("Bus route %s has %d vehicle(s) delayed by more than %d minutes (avg %d minutes).",
		route, decision.DelayedVehicles, s.settings.VehicleDelayThreshold, decision.AvgDelayMinutes)

	s.publish(ctx, "Vehicle Delay Alert", msg, route)
	metrics.AlertsFired.Inc()

	if s.feed != nil {
		s.feed.BroadcastAlert(route, msg, decision.AvgDelayMinutes)
	}

	s.logger.Warn("vehicle delay detected",
		"route", route,
		"delayed_vehicles", decision.DelayedVehicles,
		"avg_delay_minutes", decision.AvgDelayMinutes,
	)

	return &CheckDelayResult{
		Route:           route,
		Notified:        true,
		DelayedVehicles: decision.DelayedVehicles,
		AvgDelayMinutes: decision.AvgDelayMinutes,
		Message:         msg,
	}, nil
}

// GetCancelledRoutes sweeps every distinct subscribed route and partitions
// it into cancelled or active. The sweep cost is linear in the number of
// distinct routes; a route whose upstream check fails counts as active.
func (s *Service) GetCancelledRoutes(ctx context.Context) (*domain.RouteStatuses, error) {
	routes, err := s.store.ListAllDistinctRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing routes: %w", err)
	}
	if len(routes) == 0 {
		return nil, domain.ErrNotFound
	}

	result := &domain.RouteStatuses{
		Cancelled: []string{},
		Active:    []string{},
	}
	for _, route := range routes {
		activities, err := s.transit.FetchVehicleActivity(ctx, route)
		if err != nil {
			s.logger.Error("route status check failed, counting as active", "route", route, "error", err)
			result.Active = append(result.Active, route)
			continue
		}
		if IsRouteCancelled(activities) {
			result.Cancelled = append(result.Cancelled, route)
		} else {
			result.Active = append(result.Active, route)
		}
	}

	result.CountCancelled = len(result.Cancelled)
	result.CountActive = len(result.Active)
	return result, nil
}

func (s *Service) publish(ctx context.Context, subject, message, route string) {
	if err := s.channels.Publish(ctx, subject, message, route); err != nil {
		s.logger.Error("publishing notification failed", "subject", subject, "route", route, "error", err)
	}
}

func validateRouteStop(route, stopID string) error {
	if route == "" {
		return domain.NewValidationError("route", "is required")
	}
	if stopID == "" {
		return domain.NewValidationError("stop_id", "is required")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return domain.NewValidationError("email", "is required")
	}
	if !emailPattern.MatchString(email) {
		return domain.NewValidationError("email", "is not a valid address")
	}
	return nil
}
