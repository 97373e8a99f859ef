package priceaggregator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/clock"
	"github.com/coruscant-bank/beskar-liquidation/internal/domain"
)

const venueBAssetBSK = "BSK"

// venueBLevel is one side-of-book entry as BLACK_SPIRE publishes it:
// {amount, price} with price as a JSON number. Price is decoded as
// json.Number rather than float64 so the digits reach decimal.Decimal
// without a binary-float round trip, per §9's "binary floats are
// unacceptable for money" rule.
type venueBLevel struct {
	Amount int         `json:"amount"`
	Price  json.Number `json:"price"`
}

// venueBMessage is the full BLACK_SPIRE wire payload. Non-BSK items are
// dropped silently by the caller before reaching Ingest.
type venueBMessage struct {
	Item string        `json:"item"`
	Time int64         `json:"time"` // unix seconds
	Buy  []venueBLevel `json:"buy"`
	Sell []venueBLevel `json:"sell"`
}

// ParseVenueB normalizes a BLACK_SPIRE payload into a PriceTick. Returns
// (zero, false, nil) for non-BSK items, which are silently dropped per
// §4.1, not treated as a parse error.
func ParseVenueB(clk clock.Clock, raw []byte) (domain.PriceTick, bool, error) {
	var msg venueBMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceTick{}, false, fmt.Errorf("venue B: decode: %w", err)
	}

	if msg.Item != venueBAssetBSK {
		return domain.PriceTick{}, false, nil
	}

	tick := domain.PriceTick{
		Venue:           domain.VenueBlackSpire,
		ReceivedAt:      clk.Now(),
		SourceTimestamp: time.Unix(msg.Time, 0).UTC(),
		Tiers:           make(map[int]domain.PriceLevel),
	}

	buyByQty := make(map[int]decimal.Decimal, len(msg.Buy))
	for _, lvl := range msg.Buy {
		buy, err := decimal.NewFromString(lvl.Price.String())
		if err != nil {
			return domain.PriceTick{}, false, fmt.Errorf("venue B: buy price %q: %w", lvl.Price, err)
		}
		buyByQty[lvl.Amount] = buy
	}
	for _, lvl := range msg.Sell {
		sell, err := decimal.NewFromString(lvl.Price.String())
		if err != nil {
			return domain.PriceTick{}, false, fmt.Errorf("venue B: sell price %q: %w", lvl.Price, err)
		}
		buy, ok := buyByQty[lvl.Amount]
		if !ok {
			continue // tier only quoted on one side; left incomplete, so Aggregator.Ingest drops the tick
		}
		tick.Tiers[lvl.Amount] = domain.PriceLevel{Buy: buy, Sell: sell}
	}

	return tick, true, nil
}
