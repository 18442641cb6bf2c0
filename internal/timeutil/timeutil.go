// Package timeutil provides the pure candle-boundary arithmetic the
// scheduler and coordinator share: resolution parsing, UTC boundary
// rounding, and lock TTL derivation.
package timeutil

import (
	"fmt"
	"time"

	"github.com/xcoinalgo/strategy-engine/internal/domain"
)

// resolutionMinutes maps every supported resolution string to its duration
// in minutes. "D" and "1D" are both accepted daily aliases.
var resolutionMinutes = map[string]int{
	"1":   1,
	"3":   3,
	"5":   5,
	"10":  10,
	"15":  15,
	"30":  30,
	"60":  60,
	"120": 120,
	"240": 240,
	"360": 360,
	"720": 720,
	"D":   1440,
	"1D":  1440,
}

// ResolutionToMinutes returns the candle duration in minutes for a
// resolution string, or domain.ErrUnsupportedResolution if it is not one of
// the supported values.
func ResolutionToMinutes(res string) (int, error) {
	minutes, ok := resolutionMinutes[res]
	if !ok {
		return 0, fmt.Errorf("timeutil: resolution %q: %w", res, domain.ErrUnsupportedResolution)
	}
	return minutes, nil
}

// ResolutionToCron renders a resolution as a 5-field cron expression. For
// minute counts dividing 60 it emits "*/m * * * *"; for hour counts
// dividing 24 it emits "0 */h * * *"; daily resolutions emit "0 0 * * *".
// Anything else is best-effort ("*/m * * * *") and the caller should log a
// warning — scheduling such a resolution will drift.
func ResolutionToCron(res string) (expr string, bestEffort bool, err error) {
	minutes, err := ResolutionToMinutes(res)
	if err != nil {
		return "", false, err
	}

	switch {
	case minutes == 1440:
		return "0 0 * * *", false, nil
	case minutes%60 == 0 && minutes/60 <= 24 && 24%(minutes/60) == 0:
		hours := minutes / 60
		return fmt.Sprintf("0 */%d * * *", hours), false, nil
	case minutes < 60 && 60%minutes == 0:
		return fmt.Sprintf("*/%d * * * *", minutes), false, nil
	default:
		return fmt.Sprintf("*/%d * * * *", minutes), true, nil
	}
}

// RoundToBoundary floors ts to the nearest UTC candle boundary for res.
// Midnight UTC is always the daily anchor.
func RoundToBoundary(ts time.Time, res string) (time.Time, error) {
	minutes, err := ResolutionToMinutes(res)
	if err != nil {
		return time.Time{}, err
	}
	ts = ts.UTC()

	if minutes == 1440 {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	dayStart := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	elapsed := ts.Sub(dayStart)
	boundaryCount := elapsed / (time.Duration(minutes) * time.Minute)
	return dayStart.Add(boundaryCount * time.Duration(minutes) * time.Minute), nil
}

// NextCandleClose returns the strict next UTC boundary after now. If now
// lands exactly on a boundary, the following boundary is returned.
func NextCandleClose(now time.Time, res string) (time.Time, error) {
	minutes, err := ResolutionToMinutes(res)
	if err != nil {
		return time.Time{}, err
	}
	boundary, err := RoundToBoundary(now, res)
	if err != nil {
		return time.Time{}, err
	}
	step := time.Duration(minutes) * time.Minute
	next := boundary.Add(step)
	if !next.After(now.UTC()) {
		next = next.Add(step)
	}
	return next, nil
}

// IntervalKey returns the ISO-8601 UTC timestamp of ts's floored boundary,
// used as the (strategy, interval) deduplication key.
func IntervalKey(ts time.Time, res string) (string, error) {
	boundary, err := RoundToBoundary(ts, res)
	if err != nil {
		return "", err
	}
	return boundary.Format("2006-01-02T15:04:05.000Z"), nil
}

// LockTTL returns the execution lock TTL for res: the candle duration minus
// safety, floored at one second so it is never zero or negative.
func LockTTL(res string, safety time.Duration) (time.Duration, error) {
	minutes, err := ResolutionToMinutes(res)
	if err != nil {
		return 0, err
	}
	ttl := time.Duration(minutes)*time.Minute - safety
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl, nil
}

// ValidateTiming reports whether actual fired within maxDrift of scheduled,
// along with the observed drift in seconds.
func ValidateTiming(scheduled, actual time.Time, maxDrift time.Duration) (ok bool, driftSeconds float64) {
	drift := actual.Sub(scheduled)
	if drift < 0 {
		drift = -drift
	}
	return drift <= maxDrift, drift.Seconds()
}
