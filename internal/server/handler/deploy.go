package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xcoinalgo/strategy-engine/internal/catalog"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// Deployer deploys or redeploys a strategy from its on-disk source.
type Deployer interface {
	Deploy(ctx context.Context, params catalog.DeployParams) (domain.Strategy, error)
}

// DeployHandler serves strategy deployment.
type DeployHandler struct {
	catalog Deployer
	logger  *slog.Logger
}

// NewDeployHandler creates a DeployHandler.
func NewDeployHandler(catalog Deployer, logger *slog.Logger) *DeployHandler {
	return &DeployHandler{catalog: catalog, logger: logger}
}

type deployRequest struct {
	StrategyID string `json:"strategy_id"`
	Name       string `json:"name"`
}

type strategyResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Active          bool    `json:"active"`
	Symbol          string  `json:"symbol"`
	Resolution      string  `json:"resolution"`
	Kind            string  `json:"kind"`
	SubscriberCount int     `json:"subscriber_count"`
	RiskPerTrade    *float64 `json:"risk_per_trade,omitempty"`
	Leverage        *float64 `json:"leverage,omitempty"`
}

func toStrategyResponse(s domain.Strategy) strategyResponse {
	return strategyResponse{
		ID:              s.ID,
		Name:            s.Name,
		Active:          s.Active,
		Symbol:          s.Config.Symbol,
		Resolution:      s.Config.Resolution,
		Kind:            string(s.Config.Kind),
		SubscriberCount: s.SubscriberCount,
		RiskPerTrade:    s.Config.RiskPerTrade,
		Leverage:        s.Config.Leverage,
	}
}

// Deploy reads a strategy's on-disk source and publishes its execution
// config. POST /api/strategies/deploy
func (h *DeployHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.StrategyID == "" {
		writeError(w, http.StatusBadRequest, "strategy_id is required")
		return
	}

	strategy, err := h.catalog.Deploy(r.Context(), catalog.DeployParams{StrategyID: req.StrategyID, Name: req.Name})
	if err != nil {
		if errors.Is(err, domain.ErrMissingStrategyConfig) || errors.Is(err, domain.ErrEmptyIdentifier) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logHandler(h.logger, "deploy").ErrorContext(r.Context(), "deploy failed",
			slog.String("strategy_id", req.StrategyID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to deploy strategy")
		return
	}

	writeJSON(w, http.StatusOK, toStrategyResponse(strategy))
}
