package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/settings"
)

// Subscriber is the subset of *subscription.Service the handler needs.
type Subscriber interface {
	Create(ctx context.Context, params domain.CreateSubscriptionParams) (domain.Subscription, error)
	Cancel(ctx context.Context, subscriptionID string) (domain.Subscription, error)
	Pause(ctx context.Context, subscriptionID string) (domain.Subscription, error)
	Resume(ctx context.Context, subscriptionID string) (domain.Subscription, error)
}

// SettingsUpdater is the subset of *settings.Service the handler needs to
// repoint strategy and subscriber overrides.
type SettingsUpdater interface {
	GetStrategySettings(ctx context.Context, strategyID string) (domain.StrategySettings, error)
	UpdateStrategySettings(ctx context.Context, strategyID string, patch settings.StrategySettingsPatch, publish bool) (domain.StrategySettings, error)
	GetSubscriptionSettings(ctx context.Context, subscriptionID string) (domain.SubscriberSettings, error)
	UpdateSubscriptionSettings(ctx context.Context, subscriptionID string, patch settings.SubscriptionSettingsPatch) (domain.SubscriberSettings, error)
}

// SubscriptionLister enumerates a user's subscriptions.
type SubscriptionLister interface {
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Subscription, error)
}

// SubscriptionHandler serves the subscription lifecycle and settings
// endpoints.
type SubscriptionHandler struct {
	subs     Subscriber
	settings SettingsUpdater
	lister   SubscriptionLister
	logger   *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(subs Subscriber, settingsUpdater SettingsUpdater, lister SubscriptionLister, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, settings: settingsUpdater, lister: lister, logger: logger}
}

type subscribeRequest struct {
	UserID             string   `json:"user_id"`
	BrokerCredentialID string   `json:"broker_credential_id"`
	Capital            float64  `json:"capital"`
	RiskPerTrade       *float64 `json:"risk_per_trade"`
	Leverage           *float64 `json:"leverage"`
	MaxPositions       *int     `json:"max_positions"`
	MaxDailyLoss       *float64 `json:"max_daily_loss"`
	SLATRMultiplier    *float64 `json:"sl_atr_multiplier"`
	TPATRMultiplier    *float64 `json:"tp_atr_multiplier"`
	TradingType        *string  `json:"trading_type"`
}

type subscriptionResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	StrategyID         string     `json:"strategy_id"`
	BrokerCredentialID string     `json:"broker_credential_id"`
	Capital            float64    `json:"capital"`
	TradingType        string     `json:"trading_type"`
	Active             bool       `json:"active"`
	Paused             bool       `json:"paused"`
	RealizedPnL        float64    `json:"realized_pnl"`
	UnrealizedPnL      float64    `json:"unrealized_pnl"`
}

func toSubscriptionResponse(s domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 s.ID,
		UserID:             s.UserID,
		StrategyID:         s.StrategyID,
		BrokerCredentialID: s.BrokerCredentialID,
		Capital:            s.Capital,
		TradingType:        string(s.TradingType),
		Active:             s.Active,
		Paused:             s.Paused,
		RealizedPnL:        s.RealizedPnL,
		UnrealizedPnL:      s.UnrealizedPnL,
	}
}

// Subscribe enrolls a user in a strategy. POST /api/strategies/{id}/subscribe
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	strategyID := pathParam(r, "id")
	if strategyID == "" {
		writeError(w, http.StatusBadRequest, "strategy id is required")
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.BrokerCredentialID == "" {
		writeError(w, http.StatusBadRequest, "user_id and broker_credential_id are required")
		return
	}

	params := domain.CreateSubscriptionParams{
		UserID:             req.UserID,
		StrategyID:         strategyID,
		BrokerCredentialID: req.BrokerCredentialID,
		Capital:            req.Capital,
		RiskPerTrade:       req.RiskPerTrade,
		Leverage:           req.Leverage,
		MaxPositions:       req.MaxPositions,
		MaxDailyLoss:       req.MaxDailyLoss,
		SLATRMultiplier:    req.SLATRMultiplier,
		TPATRMultiplier:    req.TPATRMultiplier,
	}
	if req.TradingType != nil {
		tt := domain.TradingType(*req.TradingType)
		params.TradingType = &tt
	}

	sub, err := h.subs.Create(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "strategy not found")
		case errors.Is(err, domain.ErrAlreadySubscribed):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrMissingStrategyConfig):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logHandler(h.logger, "subscribe").ErrorContext(r.Context(), "subscribe failed",
				slog.String("strategy_id", strategyID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to subscribe")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

type strategySettingsRequest struct {
	RiskPerTrade *float64 `json:"risk_per_trade"`
	Leverage     *float64 `json:"leverage"`
	MaxPositions *int     `json:"max_positions"`
	MaxDailyLoss *float64 `json:"max_daily_loss"`
}

// UpdateStrategySettings patches a strategy's default execution config.
// PUT /api/strategies/{id}/settings
func (h *SubscriptionHandler) UpdateStrategySettings(w http.ResponseWriter, r *http.Request) {
	strategyID := pathParam(r, "id")
	if strategyID == "" {
		writeError(w, http.StatusBadRequest, "strategy id is required")
		return
	}

	var req strategySettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	current, err := h.settings.GetStrategySettings(r.Context(), strategyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrMissingStrategyConfig) {
			writeError(w, http.StatusNotFound, "strategy settings not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load strategy settings")
		return
	}

	cfg := current.Config
	if req.RiskPerTrade != nil {
		cfg.RiskPerTrade = req.RiskPerTrade
	}
	if req.Leverage != nil {
		cfg.Leverage = req.Leverage
	}
	if req.MaxPositions != nil {
		cfg.MaxPositions = req.MaxPositions
	}
	if req.MaxDailyLoss != nil {
		cfg.MaxDailyLoss = req.MaxDailyLoss
	}

	updated, err := h.settings.UpdateStrategySettings(r.Context(), strategyID, settings.StrategySettingsPatch{Config: &cfg}, true)
	if err != nil {
		logHandler(h.logger, "update_strategy_settings").ErrorContext(r.Context(), "update failed",
			slog.String("strategy_id", strategyID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to update strategy settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"strategy_id": updated.StrategyID,
		"version":     updated.Version,
		"config": map[string]any{
			"symbol":         updated.Config.Symbol,
			"resolution":     updated.Config.Resolution,
			"risk_per_trade": updated.Config.RiskPerTrade,
			"leverage":       updated.Config.Leverage,
			"max_positions":  updated.Config.MaxPositions,
			"max_daily_loss": updated.Config.MaxDailyLoss,
		},
	})
}

type subscriptionSettingsRequest struct {
	RiskPerTrade *float64 `json:"risk_per_trade"`
	Leverage     *float64 `json:"leverage"`
	MaxPositions *int     `json:"max_positions"`
	MaxDailyLoss *float64 `json:"max_daily_loss"`
}

// UpdateSubscriptionSettings patches a subscriber's effective risk
// overrides. PUT /api/strategies/subscriptions/{id}
func (h *SubscriptionHandler) UpdateSubscriptionSettings(w http.ResponseWriter, r *http.Request) {
	subscriptionID := pathParam(r, "id")
	if subscriptionID == "" {
		writeError(w, http.StatusBadRequest, "subscription id is required")
		return
	}

	var req subscriptionSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	current, err := h.settings.GetSubscriptionSettings(r.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subscription settings not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load subscription settings")
		return
	}

	effective := current.Effective
	if req.RiskPerTrade != nil {
		effective.RiskPerTrade = *req.RiskPerTrade
	}
	if req.Leverage != nil {
		effective.Leverage = *req.Leverage
	}
	if req.MaxPositions != nil {
		effective.MaxPositions = *req.MaxPositions
	}
	if req.MaxDailyLoss != nil {
		effective.MaxDailyLoss = *req.MaxDailyLoss
	}

	updated, err := h.settings.UpdateSubscriptionSettings(r.Context(), subscriptionID, settings.SubscriptionSettingsPatch{Effective: &effective})
	if err != nil {
		logHandler(h.logger, "update_subscription_settings").ErrorContext(r.Context(), "update failed",
			slog.String("subscription_id", subscriptionID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to update subscription settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subscription_id": updated.SubscriptionID,
		"effective": map[string]any{
			"risk_per_trade": updated.Effective.RiskPerTrade,
			"leverage":       updated.Effective.Leverage,
			"max_positions":  updated.Effective.MaxPositions,
			"max_daily_loss": updated.Effective.MaxDailyLoss,
		},
	})
}

// Pause suspends fan-out for a subscription without unregistering its
// strategy. POST /api/strategies/subscriptions/{id}/pause
func (h *SubscriptionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, h.subs.Pause)
}

// Resume clears a prior pause.
// POST /api/strategies/subscriptions/{id}/resume
func (h *SubscriptionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, h.subs.Resume)
}

func (h *SubscriptionHandler) setPaused(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (domain.Subscription, error)) {
	subscriptionID := pathParam(r, "id")
	if subscriptionID == "" {
		writeError(w, http.StatusBadRequest, "subscription id is required")
		return
	}

	sub, err := fn(r.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		logHandler(h.logger, "set_paused").ErrorContext(r.Context(), "pause/resume failed",
			slog.String("subscription_id", subscriptionID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// Cancel unsubscribes a user from a strategy.
// DELETE /api/strategies/subscriptions/{id}
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	subscriptionID := pathParam(r, "id")
	if subscriptionID == "" {
		writeError(w, http.StatusBadRequest, "subscription id is required")
		return
	}

	sub, err := h.subs.Cancel(r.Context(), subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		logHandler(h.logger, "cancel").ErrorContext(r.Context(), "cancel failed",
			slog.String("subscription_id", subscriptionID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to cancel subscription")
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

type listSubscriptionsResponse struct {
	Subscriptions []subscriptionResponse `json:"subscriptions"`
}

// List returns a user's subscriptions.
// GET /api/strategies/subscriptions?user_id=...
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	subs, err := h.lister.ListByUser(r.Context(), userID, parseListOpts(r))
	if err != nil {
		logHandler(h.logger, "list_subscriptions").ErrorContext(r.Context(), "list failed",
			slog.String("user_id", userID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	out := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubscriptionResponse(s))
	}
	writeJSON(w, http.StatusOK, listSubscriptionsResponse{Subscriptions: out})
}
