package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func tickWithFullLadder() PriceTick {
	tiers := make(map[int]PriceLevel, len(Tiers))
	for _, tier := range Tiers {
		tiers[tier] = PriceLevel{
			Buy:  decimal.NewFromInt(int64(100 - tier)),
			Sell: decimal.NewFromInt(int64(100 + tier)),
		}
	}
	return PriceTick{
		Venue:           VenueMosEspa,
		ReceivedAt:      time.Unix(1000, 0),
		SourceTimestamp: time.Unix(999, 0),
		Tiers:           tiers,
	}
}

func TestSellPriceForTierRoundTripsEveryTier(t *testing.T) {
	tick := tickWithFullLadder()
	for _, tier := range Tiers {
		sell, ok := tick.SellPriceForTier(tier)
		assert.True(t, ok)
		assert.True(t, sell.Equal(decimal.NewFromInt(int64(100+tier))), "tier %d", tier)
	}
}

func TestSellPriceForTierMissingTierIsFalse(t *testing.T) {
	tick := PriceTick{Tiers: map[int]PriceLevel{1: {Sell: decimal.NewFromInt(1)}}}
	_, ok := tick.SellPriceForTier(50)
	assert.False(t, ok)
}
