package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies one of the two trading markets.
type Venue string

const (
	VenueMosEspa    Venue = "MOS_ESPA"
	VenueBlackSpire Venue = "BLACK_SPIRE"
)

// Tiers is the fixed set of quantities at which venues quote prices.
var Tiers = []int{1, 10, 50, 100}

// PriceLevel is one {buy, sell} quote at a given tier.
type PriceLevel struct {
	Buy  decimal.Decimal
	Sell decimal.Decimal
}

// PriceTick is a normalized per-venue snapshot with a full four-tier
// ladder. Ticks with a missing tier never reach this type; normalization
// discards them before construction.
type PriceTick struct {
	Venue           Venue
	ReceivedAt      time.Time
	SourceTimestamp time.Time
	Tiers           map[int]PriceLevel // keys are exactly domain.Tiers
}

// SellPriceForTier returns the sell price at the given tier and whether it
// was present.
func (t PriceTick) SellPriceForTier(tier int) (decimal.Decimal, bool) {
	lvl, ok := t.Tiers[tier]
	if !ok {
		return decimal.Zero, false
	}
	return lvl.Sell, true
}
