// Package catalog implements strategy deployment: recovering a strategy's
// execution config from its on-disk source and publishing it into the
// durable store and the settings cache, idempotently on redeploy.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/settings"
	"github.com/xcoinalgo/strategy-engine/internal/strategycode"
)

// CodeLoader loads a strategy's on-disk source, satisfied by
// *strategycode.Loader.
type CodeLoader interface {
	Load(strategyID string) (strategycode.Code, error)
}

// DeployParams is the input to Deploy.
type DeployParams struct {
	StrategyID string
	Name       string
}

// Service implements strategy deployment.
type Service struct {
	strategies domain.StrategyStore
	settings   *settings.Service
	loader     CodeLoader
	logger     *slog.Logger
}

// New creates a Service.
func New(strategies domain.StrategyStore, settingsSvc *settings.Service, loader CodeLoader, logger *slog.Logger) *Service {
	return &Service{
		strategies: strategies,
		settings:   settingsSvc,
		loader:     loader,
		logger:     logger.With(slog.String("component", "catalog")),
	}
}

// Deploy reads strategies/{strategy_id}/*.py, parses its STRATEGY_CONFIG
// dict, and creates or redeploys the strategy record. Redeploying an
// existing strategy bumps the settings version and publishes the update so
// any worker already executing it picks up the change on its next run.
func (s *Service) Deploy(ctx context.Context, params DeployParams) (domain.Strategy, error) {
	if params.StrategyID == "" {
		return domain.Strategy{}, fmt.Errorf("catalog: deploy: %w", domain.ErrEmptyIdentifier)
	}

	code, err := s.loader.Load(params.StrategyID)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("catalog: deploy %s: load source: %w", params.StrategyID, err)
	}

	raw, ok := strategycode.ParseConfig(code.Source)
	if !ok {
		return domain.Strategy{}, fmt.Errorf("catalog: deploy %s: no STRATEGY_CONFIG found in %s", params.StrategyID, code.Path)
	}
	cfg := strategycode.ToExecutionConfig(raw)
	if !cfg.IsComplete() {
		return domain.Strategy{}, fmt.Errorf("catalog: deploy %s: %w", params.StrategyID, domain.ErrMissingStrategyConfig)
	}

	now := time.Now().UTC()

	existing, err := s.strategies.GetByID(ctx, params.StrategyID)
	switch {
	case err == nil:
		existing.Config = cfg
		existing.Active = true
		existing.UpdatedAt = now
		if params.Name != "" {
			existing.Name = params.Name
		}
		if err := s.strategies.Update(ctx, existing); err != nil {
			return domain.Strategy{}, fmt.Errorf("catalog: deploy %s: update: %w", params.StrategyID, err)
		}
		if _, err := s.settings.UpdateStrategySettings(ctx, existing.ID, settings.StrategySettingsPatch{Config: &cfg}, true); err != nil {
			s.logger.Warn("catalog: redeploy settings publish failed", slog.String("strategy_id", existing.ID), slog.Any("error", err))
		}
		s.logger.Info("catalog: strategy redeployed", slog.String("strategy_id", existing.ID))
		return existing, nil

	case errors.Is(err, domain.ErrNotFound):
		name := params.Name
		if name == "" {
			name = params.StrategyID
		}
		strategy := domain.Strategy{
			ID:        params.StrategyID,
			Name:      name,
			Active:    true,
			Config:    cfg,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.strategies.Create(ctx, strategy); err != nil {
			return domain.Strategy{}, fmt.Errorf("catalog: deploy %s: create: %w", params.StrategyID, err)
		}
		if err := s.settings.InitializeStrategy(ctx, strategy.ID, cfg, 1); err != nil {
			return domain.Strategy{}, fmt.Errorf("catalog: deploy %s: initialize settings: %w", params.StrategyID, err)
		}
		s.logger.Info("catalog: strategy deployed", slog.String("strategy_id", strategy.ID))
		return strategy, nil

	default:
		return domain.Strategy{}, fmt.Errorf("catalog: deploy %s: lookup: %w", params.StrategyID, err)
	}
}
