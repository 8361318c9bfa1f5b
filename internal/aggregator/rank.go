package aggregator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/route-engine/internal/model"
)

// providerPriority breaks exact ties deterministically. Lower is better.
var providerPriority = map[string]int{
	"lifi":    0,
	"bungee":  1,
	"1inch":   2,
	"jupiter": 3,
}

// Composite weights for the recommended ordering: output dominates, fees and
// speed nudge.
const (
	weightOutput   = 0.70
	weightFee      = 0.20
	weightDuration = 0.10
)

// Rank orders candidates in place according to the requested preference.
// Ordering is total and deterministic: score, then provider priority, then
// provider name, so equal inputs always produce the identical slice.
func Rank(candidates []model.RouteCandidate, order model.OrderPreference) {
	switch order {
	case model.OrderFastest:
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].DurationSec != candidates[j].DurationSec {
				return candidates[i].DurationSec < candidates[j].DurationSec
			}
			cmp := candidates[i].AmountOutDecimal().Cmp(candidates[j].AmountOutDecimal())
			if cmp != 0 {
				return cmp > 0
			}
			return lessByPriority(candidates[i], candidates[j])
		})
	case model.OrderCheapest:
		sort.SliceStable(candidates, func(i, j int) bool {
			cmp := candidates[i].AmountOutDecimal().Cmp(candidates[j].AmountOutDecimal())
			if cmp != 0 {
				return cmp > 0
			}
			if candidates[i].FeeUSD != candidates[j].FeeUSD {
				return candidates[i].FeeUSD < candidates[j].FeeUSD
			}
			return lessByPriority(candidates[i], candidates[j])
		})
	default:
		scores := recommendedScores(candidates)
		sort.SliceStable(candidates, func(i, j int) bool {
			if scores[scoreKey(candidates[i])] != scores[scoreKey(candidates[j])] {
				return scores[scoreKey(candidates[i])] > scores[scoreKey(candidates[j])]
			}
			return lessByPriority(candidates[i], candidates[j])
		})
	}
}

// recommendedScores computes the weighted composite per candidate with each
// dimension min-max normalized across the candidate set. Higher is better.
func recommendedScores(candidates []model.RouteCandidate) map[string]float64 {
	outputs := make([]decimal.Decimal, len(candidates))
	for i, c := range candidates {
		outputs[i] = c.AmountOutDecimal()
	}

	minOut, maxOut := outputs[0], outputs[0]
	minFee, maxFee := candidates[0].FeeUSD, candidates[0].FeeUSD
	minDur, maxDur := candidates[0].DurationSec, candidates[0].DurationSec
	for i, c := range candidates {
		if outputs[i].LessThan(minOut) {
			minOut = outputs[i]
		}
		if outputs[i].GreaterThan(maxOut) {
			maxOut = outputs[i]
		}
		if c.FeeUSD < minFee {
			minFee = c.FeeUSD
		}
		if c.FeeUSD > maxFee {
			maxFee = c.FeeUSD
		}
		if c.DurationSec < minDur {
			minDur = c.DurationSec
		}
		if c.DurationSec > maxDur {
			maxDur = c.DurationSec
		}
	}

	outRange := maxOut.Sub(minOut)
	scores := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		outScore := 1.0
		if outRange.Sign() > 0 {
			outScore, _ = outputs[i].Sub(minOut).Div(outRange).Float64()
		}
		feeScore := 1.0
		if maxFee > minFee {
			feeScore = 1 - (c.FeeUSD-minFee)/(maxFee-minFee)
		}
		durScore := 1.0
		if maxDur > minDur {
			durScore = 1 - float64(c.DurationSec-minDur)/float64(maxDur-minDur)
		}
		scores[scoreKey(c)] = weightOutput*outScore + weightFee*feeScore + weightDuration*durScore
	}
	return scores
}

func scoreKey(c model.RouteCandidate) string {
	return c.Provider + "|" + c.AmountOut
}

func lessByPriority(a, b model.RouteCandidate) bool {
	pa, oka := providerPriority[a.Provider]
	pb, okb := providerPriority[b.Provider]
	if oka && okb && pa != pb {
		return pa < pb
	}
	if oka != okb {
		return oka
	}
	return a.Provider < b.Provider
}
