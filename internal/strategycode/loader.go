// Package strategycode reads the on-disk Python source for a strategy and
// recovers its embedded STRATEGY_CONFIG so the subscription service and
// registry can auto-sync an incomplete execution config.
package strategycode

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// Code is the on-disk source for a single strategy: the exact path matched
// and its raw contents.
type Code struct {
	StrategyID string
	Path       string
	Source     string
}

// Loader locates and reads strategy source under baseDir/{strategy_id}/*.py.
type Loader struct {
	baseDir string
}

// NewLoader creates a Loader rooted at baseDir (typically "strategies").
func NewLoader(baseDir string) *Loader {
	return &Loader{baseDir: baseDir}
}

// Load reads the single .py file under baseDir/{strategyID}/. It is a fatal
// error if the directory is missing, empty, or holds more than one match.
func (l *Loader) Load(strategyID string) (Code, error) {
	dir := filepath.Join(l.baseDir, strategyID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Code{}, fmt.Errorf("strategycode: read dir for %s: %w", strategyID, err)
	}

	var matches []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".py") {
			matches = append(matches, e.Name())
		}
	}

	switch len(matches) {
	case 0:
		return Code{}, fmt.Errorf("strategycode: no .py file found in %s", dir)
	case 1:
		// expected case, fall through
	default:
		return Code{}, fmt.Errorf("strategycode: %d .py files found in %s, expected exactly one", len(matches), dir)
	}

	path := filepath.Join(dir, matches[0])
	data, err := os.ReadFile(path)
	if err != nil {
		return Code{}, fmt.Errorf("strategycode: read %s: %w", path, err)
	}

	return Code{StrategyID: strategyID, Path: path, Source: string(data)}, nil
}

// Sync loads the on-disk source for strategyID and recovers its execution
// config from an embedded STRATEGY_CONFIG assignment. ok is false when the
// source cannot be loaded or carries no STRATEGY_CONFIG; it satisfies both
// registry.ConfigSyncer and subscription.ConfigSyncer.
func (l *Loader) Sync(strategyID string) (domain.ExecutionConfig, bool, error) {
	code, err := l.Load(strategyID)
	if err != nil {
		return domain.ExecutionConfig{}, false, err
	}

	raw, ok := ParseConfig(code.Source)
	if !ok {
		return domain.ExecutionConfig{}, false, nil
	}

	return ToExecutionConfig(raw), true, nil
}

var configAssignment = regexp.MustCompile(`(?s)STRATEGY_CONFIG\s*=\s*\{(.*?)\n\}`)
var configEntry = regexp.MustCompile(`["']([A-Za-z_][A-Za-z0-9_]*)["']\s*:\s*(.+)`)

// ParseConfig best-effort scans the source for a top-level
// `STRATEGY_CONFIG = {...}` dict literal and extracts its entries as an
// untyped map. It is intentionally not a Python interpreter: only literal
// strings, numbers, and booleans are recognized; anything else is skipped.
// ok is false when no STRATEGY_CONFIG assignment is found at all.
func ParseConfig(source string) (map[string]any, bool) {
	m := configAssignment.FindStringSubmatch(source)
	if m == nil {
		return nil, false
	}

	result := make(map[string]any)
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ","))
		if line == "" {
			continue
		}
		entry := configEntry.FindStringSubmatch(line)
		if entry == nil {
			continue
		}
		key := entry[1]
		raw := strings.TrimSpace(entry[2])
		result[key] = parseLiteral(raw)
	}
	return result, true
}

func parseLiteral(raw string) any {
	switch {
	case raw == "True":
		return true
	case raw == "False":
		return false
	case raw == "None":
		return nil
	case len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0]:
		return raw[1 : len(raw)-1]
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return strings.Trim(raw, "\"'")
}

// ToExecutionConfig maps recognized STRATEGY_CONFIG keys onto
// domain.ExecutionConfig, carrying everything else through in Extras.
func ToExecutionConfig(raw map[string]any) domain.ExecutionConfig {
	cfg := domain.ExecutionConfig{Extras: make(map[string]any)}

	for k, v := range raw {
		switch k {
		case "symbol":
			if s, ok := v.(string); ok {
				cfg.Symbol = s
			}
		case "resolution":
			cfg.Resolution = stringifyResolution(v)
		case "risk_per_trade":
			if f, ok := v.(float64); ok {
				cfg.RiskPerTrade = &f
			}
		case "leverage":
			if f, ok := v.(float64); ok {
				cfg.Leverage = &f
			}
		case "max_positions":
			if f, ok := v.(float64); ok {
				n := int(f)
				cfg.MaxPositions = &n
			}
		case "max_daily_loss":
			if f, ok := v.(float64); ok {
				cfg.MaxDailyLoss = &f
			}
		case "kind":
			if s, ok := v.(string); ok {
				cfg.Kind = domain.StrategyKind(s)
			}
		default:
			cfg.Extras[k] = v
		}
	}

	if cfg.Kind == "" {
		cfg.Kind = domain.StrategyKindLegacy
	}
	return cfg
}

func stringifyResolution(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
