package liquidation

import (
	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
)

// requiredQuantity computes q* = ceil(principal / midPrice), the BSK
// quantity that must be sold to cover principal at the current mid-price.
func requiredQuantity(principal, midPrice decimal.Decimal) int {
	if midPrice.IsZero() {
		return 0
	}
	q := principal.Div(midPrice)
	return int(q.Ceil().IntPart())
}

// lotsFor decomposes q into a sequence of tier-sized lots from
// domain.Tiers, greedily taking as many of the largest tier as fit, then
// the next smaller tier against what's left, down through every tier, so
// the sum of lots is exactly q. Per scenario S3 in §8, q=20 must
// decompose as two 10-lots, not one oversized 50-lot.
func lotsFor(q int) []int {
	if q <= 0 {
		return nil
	}

	var lots []int
	remaining := q

	for i := len(domain.Tiers) - 1; i >= 0 && remaining > 0; i-- {
		tier := domain.Tiers[i]
		for remaining >= tier {
			lots = append(lots, tier)
			remaining -= tier
		}
	}

	return lots
}
