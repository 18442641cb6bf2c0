package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
	"github.com/xcoinalgo/strategy-engine/internal/strategycode"
)

// LegacyInput is the stdin payload sent to a legacy strategy runtime.
type LegacyInput struct {
	StrategyID    string         `json:"strategy_id"`
	ExecutionTime string         `json:"execution_time"`
	Settings      map[string]any `json:"settings"`
}

// RawSignal mirrors domain.Signal's wire shape for subprocess I/O.
type RawSignal struct {
	Type       string         `json:"signal"`
	Price      float64        `json:"price"`
	StopLoss   *float64       `json:"stop_loss,omitempty"`
	TakeProfit *float64       `json:"take_profit,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// LegacyOutput is the stdout payload a legacy strategy runtime produces.
type LegacyOutput struct {
	Success bool       `json:"success"`
	Signal  *RawSignal `json:"signal,omitempty"`
	Logs    []string   `json:"logs,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// SubscriberInput is one entry of the subscriber list handed to a
// multi-tenant or LiveTrader wrapper process.
type SubscriberInput struct {
	UserID         string  `json:"user_id"`
	SubscriptionID string  `json:"subscription_id"`
	APIKey         string  `json:"api_key"`
	APISecret      string  `json:"api_secret"`
	Capital        float64 `json:"capital"`
	RiskPerTrade   float64 `json:"risk_per_trade"`
	Leverage       float64 `json:"leverage"`
}

// FanoutInput is the stdin payload sent to a multi-tenant or LiveTrader
// wrapper process: it performs its own fan-out and order placement.
type FanoutInput struct {
	StrategyCode string            `json:"strategy_code"`
	StrategyID   string            `json:"strategy_id"`
	Settings     map[string]any    `json:"settings"`
	Subscribers  []SubscriberInput `json:"subscribers"`
}

// FanoutOutput is the stdout payload a multi-tenant or LiveTrader wrapper
// process produces.
type FanoutOutput struct {
	Success              bool     `json:"success"`
	SubscribersProcessed int      `json:"subscribers_processed"`
	TradesAttempted      int      `json:"trades_attempted"`
	Logs                 []string `json:"logs,omitempty"`
	Error                string   `json:"error,omitempty"`
}

// Runtime invokes an external strategy process and parses its JSON response.
// The concrete implementation is a subprocess; tests substitute a fake.
type Runtime interface {
	InvokeLegacy(ctx context.Context, code strategycode.Code, input LegacyInput, timeout time.Duration) (LegacyOutput, error)
	InvokeFanout(ctx context.Context, code strategycode.Code, input FanoutInput, timeout time.Duration) (FanoutOutput, error)
}

// interpreterPath is the executable used to run a loaded strategy's source
// file. Strategy code is plain Python; the process communicates over
// stdin/stdout JSON.
const interpreterPath = "python3"

// SubprocessRuntime invokes strategy code as a child process, writing a JSON
// request to its stdin and reading a JSON response from its stdout. Output
// is frequently polluted by print statements from the strategy itself, so
// parsing falls back from a strict decode to extracting the last balanced
// `{...}` region before giving up.
type SubprocessRuntime struct{}

// NewSubprocessRuntime creates a SubprocessRuntime.
func NewSubprocessRuntime() *SubprocessRuntime { return &SubprocessRuntime{} }

func (r *SubprocessRuntime) InvokeLegacy(ctx context.Context, code strategycode.Code, input LegacyInput, timeout time.Duration) (LegacyOutput, error) {
	var out LegacyOutput
	if err := r.run(ctx, code, input, timeout, &out); err != nil {
		return LegacyOutput{}, err
	}
	return out, nil
}

func (r *SubprocessRuntime) InvokeFanout(ctx context.Context, code strategycode.Code, input FanoutInput, timeout time.Duration) (FanoutOutput, error) {
	var out FanoutOutput
	if err := r.run(ctx, code, input, timeout, &out); err != nil {
		return FanoutOutput{}, err
	}
	return out, nil
}

func (r *SubprocessRuntime) run(ctx context.Context, code strategycode.Code, input any, timeout time.Duration, out any) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdin, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("coordinator: marshal runtime input: %w", err)
	}

	cmd := exec.CommandContext(runCtx, interpreterPath, code.Path)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("coordinator: runtime for %s exceeded %s: %w", code.StrategyID, timeout, domain.ErrRuntimeTimeout)
	}
	if runErr != nil {
		return fmt.Errorf("coordinator: runtime for %s exited: %w: %s", code.StrategyID, domain.ErrRuntimeSubprocessFailed, strings.TrimSpace(stderr.String()))
	}

	return parseRuntimeOutput(stdout.Bytes(), out)
}

// parseRuntimeOutput attempts a strict JSON decode first; if that fails
// because the runtime printed extra text around its JSON body, it retries
// against the last balanced `{...}` region of the output.
func parseRuntimeOutput(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err == nil {
		return nil
	}
	region, ok := lastBalancedObject(raw)
	if !ok {
		return domain.ErrRuntimeOutputUnparseable
	}
	if err := json.Unmarshal(region, out); err != nil {
		return domain.ErrRuntimeOutputUnparseable
	}
	return nil
}

// lastBalancedObject scans raw from the end for the last `{...}` span whose
// braces balance, tolerating stdout pollution printed before or after the
// JSON body.
func lastBalancedObject(raw []byte) ([]byte, bool) {
	depth := 0
	end := -1
	for i := len(raw) - 1; i >= 0; i-- {
		switch raw[i] {
		case '}':
			if depth == 0 {
				end = i
			}
			depth++
		case '{':
			depth--
			if depth == 0 && end != -1 {
				return raw[i : end+1], true
			}
		}
	}
	return nil, false
}
