// Package priceaggregator is the Price Aggregator (C1): it normalizes two
// heterogeneous venue wire formats into a uniform ladder, tracks the most
// recent valid tick per venue, and answers freshness-aware queries.
package priceaggregator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// Aggregator owns the PriceView: the last fresh tick per venue and the
// derived mid-price used by the LTV Evaluator.
type Aggregator struct {
	clk        clock.Clock
	maxTickAge time.Duration
	log        *logger.Logger

	mu    sync.RWMutex
	ticks map[domain.Venue]domain.PriceTick
}

func New(clk clock.Clock, maxTickAge time.Duration, log *logger.Logger) *Aggregator {
	return &Aggregator{
		clk:        clk,
		maxTickAge: maxTickAge,
		log:        log.Named("price-aggregator"),
		ticks:      make(map[domain.Venue]domain.PriceTick),
	}
}

// Ingest validates and stores a normalized tick, or drops it if its ladder
// is incomplete. Callers are responsible for venue-specific normalization
// (see venue_a.go, venue_b.go) before calling Ingest.
func (a *Aggregator) Ingest(tick domain.PriceTick) {
	for _, tier := range domain.Tiers {
		if _, ok := tick.Tiers[tier]; !ok {
			metrics.PriceTicksDroppedTotal.WithLabelValues(string(tick.Venue), "incomplete_ladder").Inc()
			a.log.WithFields(map[string]interface{}{
				"venue": tick.Venue,
				"tier":  tier,
			}).Warn("dropping tick missing a tier")
			return
		}
	}

	a.mu.Lock()
	a.ticks[tick.Venue] = tick
	a.mu.Unlock()

	metrics.PriceTicksReceivedTotal.WithLabelValues(string(tick.Venue)).Inc()
}

// Latest returns the last tick for venue if it is still fresh.
func (a *Aggregator) Latest(venue domain.Venue) (domain.PriceTick, bool) {
	a.mu.RLock()
	tick, ok := a.ticks[venue]
	a.mu.RUnlock()
	if !ok {
		return domain.PriceTick{}, false
	}
	age := a.clk.Now().Sub(tick.ReceivedAt)
	metrics.PriceTickAgeSeconds.WithLabelValues(string(venue)).Set(age.Seconds())
	if age > a.maxTickAge {
		return domain.PriceTick{}, false
	}
	return tick, true
}

// MidPrice averages the best quoted price (sell_1+buy_1)/2 across all
// fresh venues. Returns false if no venue is fresh.
func (a *Aggregator) MidPrice() (decimal.Decimal, bool) {
	var sum decimal.Decimal
	var count int

	for _, venue := range []domain.Venue{domain.VenueMosEspa, domain.VenueBlackSpire} {
		tick, ok := a.Latest(venue)
		if !ok {
			continue
		}
		lvl, ok := tick.Tiers[1]
		if !ok {
			continue
		}
		mid := lvl.Sell.Add(lvl.Buy).Div(decimal.NewFromInt(2))
		sum = sum.Add(mid)
		count++
	}

	if count == 0 {
		return decimal.Zero, false
	}
	return sum.Div(decimal.NewFromInt(int64(count))), true
}

// EffectiveSellPrice returns the sell price for the smallest tier whose
// quantity is >= qty; quantities above the largest tier use that tier's
// price as a worst-case approximation.
func (a *Aggregator) EffectiveSellPrice(venue domain.Venue, qty int) (decimal.Decimal, bool) {
	tick, ok := a.Latest(venue)
	if !ok {
		return decimal.Zero, false
	}

	chosenTier := -1
	for _, tier := range domain.Tiers {
		if tier >= qty && (chosenTier == -1 || tier < chosenTier) {
			chosenTier = tier
		}
	}
	if chosenTier == -1 {
		chosenTier = domain.Tiers[len(domain.Tiers)-1]
	}

	return tick.SellPriceForTier(chosenTier)
}
