package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/server/handler"
	"github.com/xcoinalgo/strategy-engine/internal/settings"
)

type fakeSubscriber struct {
	created domain.Subscription
	createErr error
	cancelled string
	cancelErr error
	paused    string
	resumed   string
}

func (f *fakeSubscriber) Create(context.Context, domain.CreateSubscriptionParams) (domain.Subscription, error) {
	if f.createErr != nil {
		return domain.Subscription{}, f.createErr
	}
	return f.created, nil
}

func (f *fakeSubscriber) Cancel(_ context.Context, id string) (domain.Subscription, error) {
	f.cancelled = id
	if f.cancelErr != nil {
		return domain.Subscription{}, f.cancelErr
	}
	return domain.Subscription{ID: id, Active: false}, nil
}

func (f *fakeSubscriber) Pause(_ context.Context, id string) (domain.Subscription, error) {
	f.paused = id
	return domain.Subscription{ID: id, Paused: true}, nil
}

func (f *fakeSubscriber) Resume(_ context.Context, id string) (domain.Subscription, error) {
	f.resumed = id
	return domain.Subscription{ID: id, Paused: false}, nil
}

type fakeSettingsUpdater struct {
	strategySettings    domain.StrategySettings
	subscriberSettings  domain.SubscriberSettings
	strategyErr         error
	subscriberErr       error
	lastStrategyPatch   settings.StrategySettingsPatch
	lastSubscriberPatch settings.SubscriptionSettingsPatch
}

func (f *fakeSettingsUpdater) GetStrategySettings(context.Context, string) (domain.StrategySettings, error) {
	if f.strategyErr != nil {
		return domain.StrategySettings{}, f.strategyErr
	}
	return f.strategySettings, nil
}

func (f *fakeSettingsUpdater) UpdateStrategySettings(_ context.Context, strategyID string, patch settings.StrategySettingsPatch, _ bool) (domain.StrategySettings, error) {
	f.lastStrategyPatch = patch
	updated := f.strategySettings
	if patch.Config != nil {
		updated.Config = *patch.Config
	}
	updated.StrategyID = strategyID
	updated.Version++
	return updated, nil
}

func (f *fakeSettingsUpdater) GetSubscriptionSettings(context.Context, string) (domain.SubscriberSettings, error) {
	if f.subscriberErr != nil {
		return domain.SubscriberSettings{}, f.subscriberErr
	}
	return f.subscriberSettings, nil
}

func (f *fakeSettingsUpdater) UpdateSubscriptionSettings(_ context.Context, subscriptionID string, patch settings.SubscriptionSettingsPatch) (domain.SubscriberSettings, error) {
	f.lastSubscriberPatch = patch
	updated := f.subscriberSettings
	if patch.Effective != nil {
		updated.Effective = *patch.Effective
	}
	updated.SubscriptionID = subscriptionID
	return updated, nil
}

type fakeSubscriptionLister struct {
	subs []domain.Subscription
	err  error
}

func (f *fakeSubscriptionLister) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Subscription, error) {
	return f.subs, f.err
}

func TestSubscribeSuccess(t *testing.T) {
	subs := &fakeSubscriber{created: domain.Subscription{ID: "sub-1", UserID: "user-1", StrategyID: "strat-1", Active: true}}
	h := handler.NewSubscriptionHandler(subs, &fakeSettingsUpdater{}, &fakeSubscriptionLister{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/strategies/strat-1/subscribe",
		strings.NewReader(`{"user_id":"user-1","broker_credential_id":"cred-1","capital":1000}`))
	req.SetPathValue("id", "strat-1")
	rec := httptest.NewRecorder()

	h.Subscribe(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sub-1", body["id"])
}

func TestSubscribeRejectsMissingFields(t *testing.T) {
	h := handler.NewSubscriptionHandler(&fakeSubscriber{}, &fakeSettingsUpdater{}, &fakeSubscriptionLister{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/strategies/strat-1/subscribe", strings.NewReader(`{}`))
	req.SetPathValue("id", "strat-1")
	rec := httptest.NewRecorder()

	h.Subscribe(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribeAlreadySubscribedReturnsConflict(t *testing.T) {
	subs := &fakeSubscriber{createErr: domain.ErrAlreadySubscribed}
	h := handler.NewSubscriptionHandler(subs, &fakeSettingsUpdater{}, &fakeSubscriptionLister{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/strategies/strat-1/subscribe",
		strings.NewReader(`{"user_id":"user-1","broker_credential_id":"cred-1","capital":1000}`))
	req.SetPathValue("id", "strat-1")
	rec := httptest.NewRecorder()

	h.Subscribe(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateStrategySettingsMergesOverrides(t *testing.T) {
	risk := 0.02
	su := &fakeSettingsUpdater{strategySettings: domain.StrategySettings{
		StrategyID: "strat-1",
		Config:     domain.ExecutionConfig{Symbol: "BTCUSDT", Resolution: "5", RiskPerTrade: ptrFloat(0.01)},
	}}
	h := handler.NewSubscriptionHandler(&fakeSubscriber{}, su, &fakeSubscriptionLister{}, testLogger())

	req := httptest.NewRequest(http.MethodPut, "/api/strategies/strat-1/settings",
		strings.NewReader(`{"risk_per_trade":0.02}`))
	req.SetPathValue("id", "strat-1")
	rec := httptest.NewRecorder()

	h.UpdateStrategySettings(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, su.lastStrategyPatch.Config)
	assert.Equal(t, risk, *su.lastStrategyPatch.Config.RiskPerTrade)
	assert.Equal(t, "BTCUSDT", su.lastStrategyPatch.Config.Symbol) // unrelated field preserved
}

func TestPauseAndResume(t *testing.T) {
	subs := &fakeSubscriber{}
	h := handler.NewSubscriptionHandler(subs, &fakeSettingsUpdater{}, &fakeSubscriptionLister{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/strategies/subscriptions/sub-1/pause", nil)
	req.SetPathValue("id", "sub-1")
	rec := httptest.NewRecorder()
	h.Pause(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sub-1", subs.paused)

	req2 := httptest.NewRequest(http.MethodPost, "/api/strategies/subscriptions/sub-1/resume", nil)
	req2.SetPathValue("id", "sub-1")
	rec2 := httptest.NewRecorder()
	h.Resume(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "sub-1", subs.resumed)
}

func TestCancelNotFound(t *testing.T) {
	subs := &fakeSubscriber{cancelErr: domain.ErrNotFound}
	h := handler.NewSubscriptionHandler(subs, &fakeSettingsUpdater{}, &fakeSubscriptionLister{}, testLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/strategies/subscriptions/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.Cancel(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRequiresUserID(t *testing.T) {
	h := handler.NewSubscriptionHandler(&fakeSubscriber{}, &fakeSettingsUpdater{}, &fakeSubscriptionLister{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/strategies/subscriptions", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListReturnsSubscriptions(t *testing.T) {
	lister := &fakeSubscriptionLister{subs: []domain.Subscription{{ID: "sub-1", UserID: "user-1"}}}
	h := handler.NewSubscriptionHandler(&fakeSubscriber{}, &fakeSettingsUpdater{}, lister, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/strategies/subscriptions?user_id=user-1", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	subsOut, ok := body["subscriptions"].([]any)
	require.True(t, ok)
	assert.Len(t, subsOut, 1)
}

func ptrFloat(v float64) *float64 { return &v }
