package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ridewatch/transit-alerts/internal/domain"
	"github.com/ridewatch/transit-alerts/internal/upstream"
)

type fakeStore struct {
	subs   map[string]map[string]domain.Subscription // user -> route -> sub
	emails map[string]string
	logged []*domain.Prediction
	routes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:   map[string]map[string]domain.Subscription{},
		emails: map[string]string{},
	}
}

func (f *fakeStore) GetSubscriptions(_ context.Context, userID string) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for _, sub := range f.subs[userID] {
		out = append(out, sub)
	}
	return out, nil
}

func (f *fakeStore) PutSubscription(_ context.Context, sub domain.Subscription) error {
	if f.subs[sub.UserID] == nil {
		f.subs[sub.UserID] = map[string]domain.Subscription{}
	}
	f.subs[sub.UserID][sub.Route] = sub
	return nil
}

func (f *fakeStore) DeleteSubscription(_ context.Context, userID, route string) error {
	if _, ok := f.subs[userID][route]; !ok {
		return domain.ErrNotFound
	}
	delete(f.subs[userID], route)
	return nil
}

func (f *fakeStore) GetSubscriptionChannelArn(_ context.Context, userID, route string) (string, error) {
	sub, ok := f.subs[userID][route]
	if !ok || sub.ChannelArn == nil {
		return "", domain.ErrNotFound
	}
	return *sub.ChannelArn, nil
}

func (f *fakeStore) ListAllDistinctRoutes(context.Context) ([]string, error) {
	return f.routes, nil
}

func (f *fakeStore) GetUserEmail(_ context.Context, userID string) (string, error) {
	email, ok := f.emails[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return email, nil
}

func (f *fakeStore) PutUserEmail(_ context.Context, userID, email string) error {
	f.emails[userID] = email
	return nil
}

func (f *fakeStore) LogPrediction(_ context.Context, p *domain.Prediction) error {
	f.logged = append(f.logged, p)
	return nil
}

type fakeBinding struct {
	email  string
	route  string
	status domain.ChannelStatus
}

type fakeDispatcher struct {
	bindings    map[string]*fakeBinding
	created     int
	published   []string
	autoConfirm bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{bindings: map[string]*fakeBinding{}}
}

func (f *fakeDispatcher) CreateBinding(_ context.Context, email, _, route string) (string, domain.ChannelStatus, error) {
	f.created++
	status := domain.ChannelPending
	if f.autoConfirm {
		status = domain.ChannelConfirmed
	}
	arn := fmt.Sprintf("arn:transit:alerts:binding/%d", f.created)
	f.bindings[arn] = &fakeBinding{email: email, route: route, status: status}
	return arn, status, nil
}

func (f *fakeDispatcher) BindingStatus(_ context.Context, arn string) (domain.ChannelStatus, error) {
	b, ok := f.bindings[arn]
	if !ok {
		return domain.ChannelNone, domain.ErrNotFound
	}
	return b.status, nil
}

func (f *fakeDispatcher) RemoveBinding(_ context.Context, arn string) error {
	if _, ok := f.bindings[arn]; !ok {
		return domain.ErrNotFound
	}
	delete(f.bindings, arn)
	return nil
}

func (f *fakeDispatcher) RemoveBindingsByEmail(_ context.Context, email string) (int, error) {
	removed := 0
	for arn, b := range f.bindings {
		if b.email == email && b.status == domain.ChannelConfirmed {
			delete(f.bindings, arn)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeDispatcher) ConfirmBinding(_ context.Context, arn string) error {
	b, ok := f.bindings[arn]
	if !ok {
		return domain.ErrNotFound
	}
	b.status = domain.ChannelConfirmed
	return nil
}

func (f *fakeDispatcher) Publish(_ context.Context, subject, message, route string) error {
	f.published = append(f.published, subject+": "+message)
	return nil
}

type fakeTransit struct {
	activities map[string][]domain.VehicleActivity
	visits     []upstream.StopVisit
	err        error
}

func (f *fakeTransit) FetchVehicleActivity(_ context.Context, route string) ([]domain.VehicleActivity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.activities[route], nil
}

func (f *fakeTransit) FetchStopPredictions(context.Context, string, string) ([]upstream.StopVisit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.visits, nil
}

func newTestService(store *fakeStore, transit *fakeTransit, dispatcher *fakeDispatcher) *Service {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(store, transit, dispatcher, Settings{
		MaxSubscriptions:      5,
		DelayThresholdMinutes: 4,
		VehicleDelayThreshold: 5,
		Location:              time.UTC,
	}, logger)
}

func TestSubscribe_CreatesPendingBinding(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	res, err := svc.Subscribe(context.Background(), "user-1", "Q44", "501", "rider@example.com")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if res.ChannelStatus != domain.ChannelPending {
		t.Errorf("ChannelStatus = %q, want pending", res.ChannelStatus)
	}
	if dispatcher.created != 1 {
		t.Errorf("created %d bindings, want 1", dispatcher.created)
	}
	if len(dispatcher.published) != 0 {
		t.Errorf("pending subscription should not publish a welcome, got %v", dispatcher.published)
	}
	if store.emails["user-1"] != "rider@example.com" {
		t.Errorf("user email = %q, want rider@example.com", store.emails["user-1"])
	}
}

func TestSubscribe_ValidationBeforeSideEffects(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	cases := []struct{ route, stop, email string }{
		{"", "501", "rider@example.com"},
		{"Q44", "", "rider@example.com"},
		{"Q44", "501", "not-an-email"},
		{"Q44", "501", ""},
	}
	for _, c := range cases {
		_, err := svc.Subscribe(context.Background(), "user-1", c.route, c.stop, c.email)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Subscribe(%q,%q,%q): expected ValidationError, got %v", c.route, c.stop, c.email, err)
		}
	}
	if dispatcher.created != 0 {
		t.Errorf("invalid input created %d bindings, want 0", dispatcher.created)
	}
	if len(store.subs["user-1"]) != 0 {
		t.Error("invalid input must not write subscription records")
	}
}

func TestSubscribe_ConfirmedDuplicateShortCircuits(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	dispatcher.autoConfirm = true
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	ctx := context.Background()
	first, err := svc.Subscribe(ctx, "user-1", "Q44", "501", "rider@example.com")
	if err != nil {
		t.Fatalf("first Subscribe() error: %v", err)
	}

	second, err := svc.Subscribe(ctx, "user-1", "Q44", "502", "rider@example.com")
	if err != nil {
		t.Fatalf("second Subscribe() error: %v", err)
	}

	if dispatcher.created != 1 {
		t.Errorf("created %d bindings, want 1 (no duplicate for a confirmed channel)", dispatcher.created)
	}
	if second.ChannelArn != first.ChannelArn {
		t.Errorf("second ChannelArn = %q, want the original %q", second.ChannelArn, first.ChannelArn)
	}
	if got := store.subs["user-1"]["Q44"].StopID; got != "502" {
		t.Errorf("StopID = %q, want 502 (re-subscribe replaces the stop)", got)
	}
	if len(store.subs["user-1"]) != 1 {
		t.Errorf("have %d subscription records, want 1", len(store.subs["user-1"]))
	}
}

func TestSubscribe_LimitRejectionCreatesNoBinding(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		route := fmt.Sprintf("B%d", i+1)
		if _, err := svc.Subscribe(ctx, "user-1", route, "501", "rider@example.com"); err != nil {
			t.Fatalf("Subscribe(%s) error: %v", route, err)
		}
	}
	createdBefore := dispatcher.created

	_, err := svc.Subscribe(ctx, "user-1", "B6", "501", "rider@example.com")
	if !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if dispatcher.created != createdBefore {
		t.Errorf("rejected subscribe created a binding (%d -> %d)", createdBefore, dispatcher.created)
	}
	if len(store.subs["user-1"]) != 5 {
		t.Errorf("have %d records, want 5", len(store.subs["user-1"]))
	}

	// An existing route is a replacement and stays allowed at the limit.
	if _, err := svc.Subscribe(ctx, "user-1", "B3", "999", "rider@example.com"); err != nil {
		t.Errorf("replacing an existing route at the limit should succeed, got %v", err)
	}
}

func TestConfirmChannel(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	ctx := context.Background()
	res, err := svc.Subscribe(ctx, "user-1", "Q44", "501", "rider@example.com")
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := svc.ConfirmChannel(ctx, "user-1", res.ChannelArn); err != nil {
		t.Fatalf("ConfirmChannel() error: %v", err)
	}

	if got := store.subs["user-1"]["Q44"].ChannelStatus; got != domain.ChannelConfirmed {
		t.Errorf("record status = %q, want confirmed", got)
	}
	if len(dispatcher.published) != 1 {
		t.Fatalf("published %d notifications, want 1 welcome", len(dispatcher.published))
	}
	if !strings.Contains(dispatcher.published[0], "Subscription Confirmed") {
		t.Errorf("welcome = %q", dispatcher.published[0])
	}

	if err := svc.ConfirmChannel(ctx, "user-1", "arn:transit:alerts:binding/nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown arn: expected ErrNotFound, got %v", err)
	}
}

func TestUpdateEmail_FansOutPerSubscription(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	ctx := context.Background()
	for _, route := range []string{"Q44", "B1"} {
		if _, err := svc.Subscribe(ctx, "user-1", route, "501", "old@example.com"); err != nil {
			t.Fatalf("Subscribe(%s) error: %v", route, err)
		}
	}

	results, err := svc.UpdateEmail(ctx, "user-1", "new@example.com")
	if err != nil {
		t.Fatalf("UpdateEmail() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if res.Error != "" {
			t.Errorf("route %s: unexpected error %q", res.Route, res.Error)
		}
		if res.ChannelStatus != domain.ChannelPending {
			t.Errorf("route %s: status = %q, want pending (new address must reconfirm)", res.Route, res.ChannelStatus)
		}
	}
	for _, sub := range store.subs["user-1"] {
		if sub.Email != "new@example.com" {
			t.Errorf("route %s still carries %q", sub.Route, sub.Email)
		}
	}
	if store.emails["user-1"] != "new@example.com" {
		t.Errorf("profile email = %q, want new@example.com", store.emails["user-1"])
	}
	for _, b := range dispatcher.bindings {
		if b.email != "new@example.com" {
			t.Errorf("stale binding for %q survived the update", b.email)
		}
	}
}

func TestLifecycle_SubscribeThenUnsubscribeLeavesNothing(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	ctx := context.Background()
	for _, route := range []string{"Q44", "B1"} {
		if _, err := svc.Subscribe(ctx, "user-1", route, "501", "rider@example.com"); err != nil {
			t.Fatalf("Subscribe(%s) error: %v", route, err)
		}
	}

	res, err := svc.Unsubscribe(ctx, "user-1")
	if err != nil {
		t.Fatalf("Unsubscribe() error: %v", err)
	}
	if res.Removed != 2 {
		t.Errorf("Removed = %d, want 2", res.Removed)
	}

	status, err := svc.GetStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetStatus() error: %v", err)
	}
	if len(status.Subscriptions) != 0 {
		t.Errorf("status still shows %d subscriptions after unsubscribe", len(status.Subscriptions))
	}
	if len(dispatcher.bindings) != 0 {
		t.Errorf("%d channel bindings survived unsubscribe", len(dispatcher.bindings))
	}

	if _, err := svc.Unsubscribe(ctx, "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second unsubscribe: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSubscription(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	ctx := context.Background()
	if _, err := svc.Subscribe(ctx, "user-1", "Q44", "501", "rider@example.com"); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := svc.DeleteSubscription(ctx, "user-1", "Q44"); err != nil {
		t.Fatalf("DeleteSubscription() error: %v", err)
	}
	if len(store.subs["user-1"]) != 0 {
		t.Error("record survived delete")
	}
	if len(dispatcher.bindings) != 0 {
		t.Error("binding survived delete")
	}

	if err := svc.DeleteSubscription(ctx, "user-1", "Q44"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleting a missing record: expected ErrNotFound, got %v", err)
	}
}

func TestUnsubscribeByEmail(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	dispatcher.autoConfirm = true
	svc := newTestService(store, &fakeTransit{}, dispatcher)

	ctx := context.Background()
	if _, err := svc.Subscribe(ctx, "user-1", "Q44", "501", "rider@example.com"); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	res, err := svc.UnsubscribeByEmail(ctx, "rider@example.com")
	if err != nil {
		t.Fatalf("UnsubscribeByEmail() error: %v", err)
	}
	if res.Removed != 1 {
		t.Errorf("Removed = %d, want 1", res.Removed)
	}

	if _, err := svc.UnsubscribeByEmail(ctx, "nobody@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown email: expected ErrNotFound, got %v", err)
	}
}

func TestGetPrediction_UpstreamFailureDegradesToNoData(t *testing.T) {
	store := newFakeStore()
	transit := &fakeTransit{err: &domain.UpstreamError{Op: "stop monitoring", Attempts: 3, Err: errors.New("502")}}
	svc := newTestService(store, transit, newFakeDispatcher())

	_, err := svc.GetPrediction(context.Background(), "B1", "308209")
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData after upstream failure, got %v", err)
	}
}

func TestGetPrediction_LogsTheResult(t *testing.T) {
	store := newFakeStore()
	transit := &fakeTransit{visits: []upstream.StopVisit{
		{ExpectedArrivalTime: time.Now().Add(6 * time.Minute).Format(time.RFC3339)},
	}}
	svc := newTestService(store, transit, newFakeDispatcher())

	p, err := svc.GetPrediction(context.Background(), "B1", "308209")
	if err != nil {
		t.Fatalf("GetPrediction() error: %v", err)
	}
	if p.MinutesAway < 5 || p.MinutesAway > 6 {
		t.Errorf("MinutesAway = %d, want about 6", p.MinutesAway)
	}
	if len(store.logged) != 1 {
		t.Errorf("logged %d predictions, want 1", len(store.logged))
	}
}

func TestGetPrediction_EmptyVisitsIsNoData(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeTransit{}, newFakeDispatcher())
	_, err := svc.GetPrediction(context.Background(), "B1", "308209")
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestCheckDelay_FiresExactlyOneNotification(t *testing.T) {
	store := newFakeStore()
	dispatcher := newFakeDispatcher()
	transit := &fakeTransit{activities: map[string][]domain.VehicleActivity{
		"Q44": {
			{VehicleRef: "NYCT_401", DelaySeconds: 720, ProgressStatus: "delayed"},
			{VehicleRef: "NYCT_402", DelaySeconds: 720, ProgressStatus: "delayed"},
		},
	}}
	svc := newTestService(store, transit, dispatcher)

	res, err := svc.CheckDelay(context.Background(), "Q44")
	if err != nil {
		t.Fatalf("CheckDelay() error: %v", err)
	}
	if !res.Notified {
		t.Fatal("expected a notification for a 12 minute delay over a 5 minute threshold")
	}
	if res.AvgDelayMinutes != 12 {
		t.Errorf("AvgDelayMinutes = %d, want 12", res.AvgDelayMinutes)
	}
	if len(dispatcher.published) != 1 {
		t.Fatalf("published %d notifications, want exactly 1 per check", len(dispatcher.published))
	}
	if !strings.Contains(dispatcher.published[0], "Q44") || !strings.Contains(dispatcher.published[0], "12") {
		t.Errorf("notification %q should carry the route and the average delay", dispatcher.published[0])
	}
}

func TestCheckDelay_NoDelayPublishesNothing(t *testing.T) {
	dispatcher := newFakeDispatcher()
	transit := &fakeTransit{activities: map[string][]domain.VehicleActivity{
		"Q44": {{VehicleRef: "NYCT_401", DelaySeconds: 120}},
	}}
	svc := newTestService(newFakeStore(), transit, dispatcher)

	res, err := svc.CheckDelay(context.Background(), "Q44")
	if err != nil {
		t.Fatalf("CheckDelay() error: %v", err)
	}
	if res.Notified {
		t.Error("a 2 minute delay should not notify")
	}
	if len(dispatcher.published) != 0 {
		t.Errorf("published %d notifications, want 0", len(dispatcher.published))
	}
}

func TestCheckDelay_UpstreamFailureDegrades(t *testing.T) {
	transit := &fakeTransit{err: errors.New("connection refused")}
	svc := newTestService(newFakeStore(), transit, newFakeDispatcher())

	res, err := svc.CheckDelay(context.Background(), "Q44")
	if err != nil {
		t.Fatalf("upstream failure should degrade, got error %v", err)
	}
	if res.Notified {
		t.Error("no notification without data")
	}
	if !strings.Contains(res.Message, "unavailable") {
		t.Errorf("Message = %q, want an unavailable notice", res.Message)
	}
}

func TestGetCancelledRoutes_Partitions(t *testing.T) {
	store := newFakeStore()
	store.routes = []string{"Q44", "B1", "M15"}
	transit := &fakeTransit{activities: map[string][]domain.VehicleActivity{
		"Q44": {{VehicleRef: "NYCT_401"}},
		"M15": {{VehicleRef: "NYCT_900"}},
	}}
	svc := newTestService(store, transit, newFakeDispatcher())

	res, err := svc.GetCancelledRoutes(context.Background())
	if err != nil {
		t.Fatalf("GetCancelledRoutes() error: %v", err)
	}
	if res.CountCancelled != 1 || len(res.Cancelled) != 1 || res.Cancelled[0] != "B1" {
		t.Errorf("Cancelled = %v, want [B1]", res.Cancelled)
	}
	if res.CountActive != 2 {
		t.Errorf("CountActive = %d, want 2", res.CountActive)
	}
}

func TestGetCancelledRoutes_NoSubscribedRoutes(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeTransit{}, newFakeDispatcher())
	_, err := svc.GetCancelledRoutes(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no subscribed routes, got %v", err)
	}
}
