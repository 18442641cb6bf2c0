package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcoinalgo/strategy-engine/internal/catalog"
	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/server/handler"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeDeployer struct {
	strategy domain.Strategy
	err      error
	lastReq  catalog.DeployParams
}

func (f *fakeDeployer) Deploy(_ context.Context, params catalog.DeployParams) (domain.Strategy, error) {
	f.lastReq = params
	if f.err != nil {
		return domain.Strategy{}, f.err
	}
	return f.strategy, nil
}

func TestDeployHandlerSuccess(t *testing.T) {
	dep := &fakeDeployer{strategy: domain.Strategy{ID: "strat-1", Name: "Momentum", Active: true, Config: domain.ExecutionConfig{Symbol: "BTCUSDT", Resolution: "5"}}}
	h := handler.NewDeployHandler(dep, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/strategies/deploy", strings.NewReader(`{"strategy_id":"strat-1","name":"Momentum"}`))
	rec := httptest.NewRecorder()

	h.Deploy(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "strat-1", dep.lastReq.StrategyID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "strat-1", body["id"])
	assert.Equal(t, "BTCUSDT", body["symbol"])
}

func TestDeployHandlerRejectsMissingStrategyID(t *testing.T) {
	dep := &fakeDeployer{}
	h := handler.NewDeployHandler(dep, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/strategies/deploy", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.Deploy(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployHandlerRejectsMissingConfig(t *testing.T) {
	dep := &fakeDeployer{err: domain.ErrMissingStrategyConfig}
	h := handler.NewDeployHandler(dep, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/strategies/deploy", strings.NewReader(`{"strategy_id":"strat-1"}`))
	rec := httptest.NewRecorder()

	h.Deploy(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployHandlerInternalErrorOnUnknownFailure(t *testing.T) {
	dep := &fakeDeployer{err: assertErr{}}
	h := handler.NewDeployHandler(dep, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/strategies/deploy", strings.NewReader(`{"strategy_id":"strat-1"}`))
	rec := httptest.NewRecorder()

	h.Deploy(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
