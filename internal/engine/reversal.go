package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/state"
)

const (
	reversalTickInterval = 30 * time.Second
	reversalWindow       = 4 * time.Hour
	// regression window for velocity
	velocityLookback = 30 * time.Minute
	// an alert stays "active" this long after it last fired
	reversalActiveWindow = 30 * time.Minute
	// samples arrive every 30s; converts a per-sample slope to per-hour
	samplesPerHour = 120.0

	minRateMagnitude   = 1e-6
	minAnalysisSamples = 10
	maxAlertHistory    = 100
)

// ReversalDetector is the early-warning system for funding trend reversals.
type ReversalDetector struct {
	cfg   *config.Config
	state *state.SharedState
	bus   *bus.Bus

	mu            sync.RWMutex
	history       []domain.FundingSample
	lastVelocity  float64
	lastAlert     *domain.ReversalAlert
	lastAlertTime int64
	alertHistory  []domain.ReversalAlert
}

// NewReversalDetector creates a reversal detector.
func NewReversalDetector(cfg *config.Config, st *state.SharedState, b *bus.Bus) *ReversalDetector {
	return &ReversalDetector{
		cfg:   cfg,
		state: st,
		bus:   b,
	}
}

// Run drives the detector until the context is cancelled.
func (d *ReversalDetector) Run(ctx context.Context) error {
	slog.Info("reversal detector starting", "interval", reversalTickInterval)
	ticker := time.NewTicker(reversalTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reversal detector stopped")
			return nil
		case <-ticker.C:
			d.Tick(time.Now().UnixMilli())
		}
	}
}

// Tick samples the funding rate and evaluates the reversal conditions.
func (d *ReversalDetector) Tick(now int64) {
	rate := d.state.CurrentFundingRate.Load()
	apr := d.state.FundingAPR.Load()
	if abs(rate) < minRateMagnitude {
		return // no funding data yet
	}

	d.mu.Lock()
	d.history = append(d.history, domain.FundingSample{Timestamp: now, Rate: rate, APR: apr})
	cutoff := now - reversalWindow.Milliseconds()
	i := 0
	for i < len(d.history) && d.history[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		d.history = append(d.history[:0], d.history[i:]...)
	}

	alert := d.analyzeLocked(rate, apr, now)

	shouldAlert := false
	if alert != nil {
		cooldown := d.cfg.ReversalCooldown().Milliseconds()
		escalated := d.lastAlert != nil && alert.Severity.Score() > d.lastAlert.Severity.Score()
		if now-d.lastAlertTime > cooldown || escalated || d.lastAlert == nil {
			shouldAlert = true
			d.lastAlert = alert
			d.lastAlertTime = now
			d.alertHistory = append(d.alertHistory, *alert)
			if len(d.alertHistory) > maxAlertHistory {
				d.alertHistory = d.alertHistory[len(d.alertHistory)-maxAlertHistory:]
			}
		}
	}
	d.mu.Unlock()

	if shouldAlert {
		slog.Warn("funding reversal alert",
			"severity", alert.Severity.String(),
			"apr", fmt.Sprintf("%.1f%%", alert.CurrentAPR),
			"velocity", fmt.Sprintf("%.4f/hr", alert.Velocity),
			"recommendation", alert.Recommendation,
		)
		d.bus.Publish(domain.SignalEvent{
			SignalType: "funding_reversal_" + strings.ToLower(alert.Severity.String()),
			Size:       0,
			Reason:     alert.Recommendation,
		})
	}
}

// analyzeLocked evaluates the current window. Returns nil when nothing is
// reversing. Callers hold d.mu.
func (d *ReversalDetector) analyzeLocked(rate, apr float64, now int64) *domain.ReversalAlert {
	if len(d.history) < minAnalysisSamples {
		d.lastVelocity = 0
		return nil
	}

	velocity := velocityOf(d.history)
	acceleration := accelerationOf(d.history)
	d.lastVelocity = velocity

	reversing := (rate > 0 && velocity < 0) || (rate < 0 && velocity > 0)
	if !reversing || abs(rate) <= minRateMagnitude {
		return nil
	}

	velMag := abs(velocity)
	accMag := abs(acceleration)

	var timeToZero float64
	hasTimeToZero := velMag > 0.0001
	if hasTimeToZero {
		timeToZero = abs(rate) / velMag
	}

	predicted1h := apr + velocity*24.0*365.0*100.0
	predicted8h := apr + velocity*8.0*24.0*365.0*100.0

	severity := severityOf(velMag, accMag, timeToZero, hasTimeToZero)

	reasons := []string{
		fmt.Sprintf("Funding %s at %.4f/hr", trendWord(rate), velMag),
	}
	if accMag > 0.00001 {
		reasons = append(reasons, fmt.Sprintf("Reversal accelerating (acc: %.6f)", acceleration))
	}
	if hasTimeToZero && timeToZero < 24 {
		reasons = append(reasons, fmt.Sprintf("Zero crossing in ~%.1f hours", timeToZero))
	}
	if sign(predicted8h) != sign(apr) {
		reasons = append(reasons, "Predicted sign flip within 8 hours")
	}

	confidence := 0.5 + 0.2*minFloat(1.0, float64(len(d.history))/100.0)
	if velMag > 0.0001 {
		confidence += 0.15
	}
	if accMag > 0.00002 {
		confidence += 0.10
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return &domain.ReversalAlert{
		Timestamp:      now,
		Severity:       severity,
		CurrentRate:    rate,
		CurrentAPR:     apr,
		Velocity:       velocity,
		Acceleration:   acceleration,
		TimeToZeroH:    timeToZero,
		HasTimeToZero:  hasTimeToZero,
		Predicted1hAPR: predicted1h,
		Predicted8hAPR: predicted8h,
		Recommendation: recommendationFor(severity, apr, predicted8h, timeToZero, hasTimeToZero),
		Reasons:        reasons,
		Confidence:     confidence,
	}
}

// velocityOf regresses the rate over samples from the last 30 minutes and
// converts the per-sample slope to per-hour.
func velocityOf(history []domain.FundingSample) float64 {
	if len(history) < 2 {
		return 0
	}
	cutoff := history[len(history)-1].Timestamp - velocityLookback.Milliseconds()
	var recent []float64
	for _, s := range history {
		if s.Timestamp >= cutoff {
			recent = append(recent, s.Rate)
		}
	}
	if len(recent) < 2 {
		return 0
	}
	return domain.LinearSlope(recent) * samplesPerHour
}

// accelerationOf compares the velocities of the two window halves.
func accelerationOf(history []domain.FundingSample) float64 {
	if len(history) < 20 {
		return 0
	}
	mid := len(history) / 2
	v1 := velocityOf(history[:mid])
	v2 := velocityOf(history[mid:])

	// half the window duration, assuming the 30s cadence
	halfHours := float64(len(history)) * 30.0 / 3600.0 / 2.0
	if halfHours <= 0 {
		return 0
	}
	return (v2 - v1) / halfHours
}

// severityOf applies the grading ladder; first match wins.
func severityOf(velMag, accMag, timeToZero float64, hasTimeToZero bool) domain.ReversalSeverity {
	if hasTimeToZero && timeToZero < 4.0 && velMag > 0.0001 {
		return domain.SeverityCritical
	}
	if velMag > 0.0002 || (velMag > 0.0001 && accMag > 0.00005) {
		return domain.SeverityHigh
	}
	if velMag > 0.00005 && hasTimeToZero && timeToZero < 12.0 {
		return domain.SeverityMedium
	}
	return domain.SeverityLow
}

func recommendationFor(severity domain.ReversalSeverity, apr, predicted8h, timeToZero float64, hasTimeToZero bool) string {
	switch severity {
	case domain.SeverityCritical:
		if hasTimeToZero {
			return fmt.Sprintf(
				"URGENT: Close position immediately. Funding reversal in ~%.1fh. Current: %.1f%% -> Predicted: %.1f%%",
				timeToZero, apr, predicted8h)
		}
		return fmt.Sprintf(
			"URGENT: Close position immediately. Rapid funding reversal detected. Current: %.1f%% -> Predicted: %.1f%%",
			apr, predicted8h)
	case domain.SeverityHigh:
		return fmt.Sprintf(
			"RECOMMENDED: Reduce or close position. Significant funding reversal. Current: %.1f%% -> Predicted 8h: %.1f%%",
			apr, predicted8h)
	case domain.SeverityMedium:
		return fmt.Sprintf(
			"CAUTION: Monitor closely. Funding momentum shifting. Current: %.1f%% -> Predicted 8h: %.1f%%",
			apr, predicted8h)
	default:
		return fmt.Sprintf(
			"NOTICE: Early reversal signal detected. Current: %.1f%% -> Predicted 8h: %.1f%%",
			apr, predicted8h)
	}
}

// CheckNow evaluates immediately without alert bookkeeping. Used by snapshot
// queries and tests.
func (d *ReversalDetector) CheckNow(now int64) *domain.ReversalAlert {
	rate := d.state.CurrentFundingRate.Load()
	apr := d.state.FundingAPR.Load()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.analyzeLocked(rate, apr, now)
}

// Velocity returns the last computed velocity.
func (d *ReversalDetector) Velocity() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastVelocity
}

// LastAlert returns the most recent alert, or nil.
func (d *ReversalDetector) LastAlert() *domain.ReversalAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastAlert == nil {
		return nil
	}
	a := *d.lastAlert
	return &a
}

// AlertHistory returns a copy of the bounded alert history.
func (d *ReversalDetector) AlertHistory() []domain.ReversalAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.ReversalAlert, len(d.alertHistory))
	copy(out, d.alertHistory)
	return out
}

// IsActive reports whether an alert fired within the active window.
func (d *ReversalDetector) IsActive(now int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastAlert != nil && now-d.lastAlert.Timestamp < reversalActiveWindow.Milliseconds()
}

// ActiveSeverity returns the severity of the active alert, if any.
func (d *ReversalDetector) ActiveSeverity(now int64) (domain.ReversalSeverity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastAlert == nil || now-d.lastAlert.Timestamp >= reversalActiveWindow.Milliseconds() {
		return 0, false
	}
	return d.lastAlert.Severity, true
}

func trendWord(rate float64) string {
	if rate > 0 {
		return "decreasing"
	}
	return "increasing"
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
