package domain

import "math"

// BasisSpreadPct computes the relative perp/spot spread in percent.
//
//	spread = (perp - spot) / spot × 100
func BasisSpreadPct(spot, perp float64) float64 {
	if spot <= 0 {
		return 0
	}
	return (perp - spot) / spot * 100.0
}

// FundingAPR annualizes an hourly funding rate fraction into percent.
//
//	apr = rate × 24 × 365 × 100
func FundingAPR(rate float64) float64 {
	return rate * 24.0 * 365.0 * 100.0
}

// HedgeDriftPct computes the relative imbalance between the two legs.
// perpSize is taken as absolute; 0 when there is no spot leg.
func HedgeDriftPct(spotSize, perpSize float64) float64 {
	if spotSize <= 0 {
		return 0
	}
	return (spotSize - math.Abs(perpSize)) / spotSize * 100.0
}

// Mean of a sample; 0 when empty.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev is the population standard deviation; 0 for fewer than 2 samples.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
}

// ZScore positions current against the sample; 0 when the deviation is 0.
func ZScore(current, mean, stdDev float64) float64 {
	if stdDev == 0 {
		return 0
	}
	return (current - mean) / stdDev
}

// PercentileRank is the fraction of samples strictly below current, ×100.
// Returns 50 for an empty sample.
func PercentileRank(xs []float64, current float64) float64 {
	if len(xs) == 0 {
		return 50.0
	}
	below := 0
	for _, x := range xs {
		if x < current {
			below++
		}
	}
	return float64(below) / float64(len(xs)) * 100.0
}

// LinearSlope fits y = a + b·x over evenly indexed samples (x = 0,1,2,...)
// and returns b, the change per sample. 0 for fewer than 2 samples or a
// degenerate denominator.
func LinearSlope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// KellyFraction computes the optimal growth fraction for a win probability
// and payoff ratio.
//
//	k = (b·p - (1-p)) / b, with b = avgWin / avgLoss
//
// avgLoss = 0 is treated as an infinite payoff ratio, collapsing to k = p.
func KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 {
		return winRate
	}
	b := avgWin / avgLoss
	if b <= 0 {
		return 0
	}
	return (b*winRate - (1 - winRate)) / b
}

// SharpeRatio annualizes the mean/stddev of per-trade returns assuming
// tradesPerYear trades. 0 for fewer than 2 returns or zero deviation.
func SharpeRatio(returns []float64, tradesPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := Mean(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(returns)))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev * math.Sqrt(tradesPerYear)
}

// MaxDrawdownPct walks cumulative P&L against its running peak.
// Drawdown is only defined once the peak is positive.
func MaxDrawdownPct(pnls []float64) float64 {
	var peak, maxDD, cumulative float64
	for _, pnl := range pnls {
		cumulative += pnl
		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			dd := (peak - cumulative) / peak * 100.0
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Streaks returns the signed trailing streak (positive = wins) and the
// longest win and loss streaks over the sequence.
func Streaks(winners []bool) (current, longestWin, longestLoss int) {
	var runWin, runLoss int
	for _, w := range winners {
		if w {
			runWin++
			runLoss = 0
			if runWin > longestWin {
				longestWin = runWin
			}
		} else {
			runLoss++
			runWin = 0
			if runLoss > longestLoss {
				longestLoss = runLoss
			}
		}
	}
	if len(winners) > 0 {
		if winners[len(winners)-1] {
			current = runWin
		} else {
			current = -runLoss
		}
	}
	return current, longestWin, longestLoss
}
